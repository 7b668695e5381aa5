// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Built-in handler class names as they appear in catalogue files.
const (
	ClassArithmetic = "arithmetic"
	ClassEcho       = "echo"
	ClassSleep      = "sleep"
	ClassMarketData = "market_data"
)

// ErrDivisionByZero is returned for DIVIDE with a zero divisor.
var ErrDivisionByZero = errors.New("Division by zero")

// ArithmeticHandler evaluates one binary operation from the payload:
//
//	{"operation": "ADD|SUBTRACT|MULTIPLY|DIVIDE", "operands": [a, b]}
//
// The operands may alternatively arrive as "a" and "b" keys.
type ArithmeticHandler struct{}

// NewArithmeticHandler returns an arithmetic handler.
func NewArithmeticHandler() *ArithmeticHandler {
	return &ArithmeticHandler{}
}

// Execute evaluates the operation.
func (h *ArithmeticHandler) Execute(_ context.Context, req *models.Request) (map[string]interface{}, error) {
	op, _ := req.Payload["operation"].(string)
	op = strings.ToUpper(strings.TrimSpace(op))
	a, b, err := operands(req.Payload)
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "ADD":
		result = a + b
	case "SUBTRACT":
		result = a - b
	case "MULTIPLY":
		result = a * b
	case "DIVIDE":
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	return map[string]interface{}{
		"operation": op,
		"operands":  []float64{a, b},
		"result":    result,
	}, nil
}

// operands extracts the two numbers from either payload shape.
func operands(payload map[string]interface{}) (float64, float64, error) {
	if raw, ok := payload["operands"].([]interface{}); ok {
		if len(raw) != 2 {
			return 0, 0, fmt.Errorf("operands must hold exactly 2 numbers, got %d", len(raw))
		}
		a, aok := toFloat(raw[0])
		b, bok := toFloat(raw[1])
		if !aok || !bok {
			return 0, 0, fmt.Errorf("operands must be numbers")
		}
		return a, b, nil
	}
	a, aok := toFloat(payload["a"])
	b, bok := toFloat(payload["b"])
	if !aok || !bok {
		return 0, 0, fmt.Errorf("payload needs operands [a, b] or keys a and b")
	}
	return a, b, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
