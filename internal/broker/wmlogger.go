// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/dgfacade/dgfacade/internal/logging"
)

// wmLogger adapts the shared zerolog logger to watermill's LoggerAdapter so
// the NATS transport logs through the same pipeline as everything else.
type wmLogger struct {
	logger zerolog.Logger
}

func newWMLogger() watermill.LoggerAdapter {
	return &wmLogger{logger: logging.Logger().With().Str("component", "watermill").Logger()}
}

func (l *wmLogger) event(ev *zerolog.Event, msg string, err error, fields watermill.LogFields) {
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error(), msg, err, fields)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), msg, nil, fields)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, nil, fields)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, nil, fields)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &wmLogger{logger: ctx.Logger()}
}
