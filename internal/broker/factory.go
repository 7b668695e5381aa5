// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"fmt"
	"strings"
)

// NormalizeType lower-cases a registry broker type and folds aliases onto
// the canonical names ("jms" is ActiveMQ, "postgres" is SQL).
func NormalizeType(brokerType string) string {
	switch t := strings.ToLower(strings.TrimSpace(brokerType)); t {
	case "jms":
		return TypeActiveMQ
	case "postgres", "postgresql", "sqlite", "sqlite3":
		return TypeSQL
	default:
		return t
	}
}

// NewPublisher constructs an uninitialized publisher for a broker type.
func NewPublisher(brokerType string) (Publisher, error) {
	switch NormalizeType(brokerType) {
	case TypeKafka:
		return NewKafkaPublisher(), nil
	case TypeConfluentKafka:
		return NewConfluentPublisher(), nil
	case TypeActiveMQ:
		return NewActiveMQPublisher(), nil
	case TypeRabbitMQ:
		return NewRabbitMQPublisher(), nil
	case TypeIBMMQ:
		return NewIBMMQPublisher(), nil
	case TypeNATS:
		return NewNATSPublisher(), nil
	case TypeFilesystem:
		return NewFilesystemPublisher(), nil
	case TypeSQL:
		return NewSQLPublisher(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, brokerType)
}

// NewSubscriber constructs an uninitialized subscriber for a broker type.
func NewSubscriber(brokerType string) (Subscriber, error) {
	switch NormalizeType(brokerType) {
	case TypeKafka:
		return NewKafkaSubscriber(), nil
	case TypeConfluentKafka:
		return NewConfluentSubscriber(), nil
	case TypeActiveMQ:
		return NewActiveMQSubscriber(), nil
	case TypeRabbitMQ:
		return NewRabbitMQSubscriber(), nil
	case TypeIBMMQ:
		return NewIBMMQSubscriber(), nil
	case TypeNATS:
		return NewNATSSubscriber(), nil
	case TypeFilesystem:
		return NewFilesystemSubscriber(), nil
	case TypeSQL:
		return NewSQLSubscriber(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, brokerType)
}
