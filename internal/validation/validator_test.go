// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	var rve *RequestValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("error type = %T", err)
	}
	return rve.Errors()
}

func TestValidateRequestAccepts(t *testing.T) {
	cases := []*models.Request{
		{RequestType: "arithmetic"},
		{RequestType: "market_data", Streaming: true, ResponseChannels: []models.ChannelType{models.ChannelWebSocket}},
		{RequestType: "market_data", Streaming: true, ResponseChannels: []models.ChannelType{models.ChannelKafka}, ResponseTopic: "quotes.out"},
		{RequestType: "sleep", TTLMinutes: 1440},
	}
	for i, req := range cases {
		if err := ValidateRequest(req); err != nil {
			t.Errorf("case %d: %v", i, err)
		}
	}
}

func TestValidateRequestRejects(t *testing.T) {
	cases := []struct {
		name string
		req  *models.Request
		want string
	}{
		{"nil request", nil, "request body is required"},
		{"missing type", &models.Request{}, "RequestType is required"},
		{"ttl too large", &models.Request{RequestType: "sleep", TTLMinutes: 2000}, "at most 1440"},
		{
			"streaming without channels",
			&models.Request{RequestType: "market_data", Streaming: true},
			"at least one response channel",
		},
		{
			"unknown channel",
			&models.Request{RequestType: "market_data", Streaming: true, ResponseChannels: []models.ChannelType{"CARRIER_PIGEON"}},
			"unknown response channel",
		},
		{
			"broker channel without topic",
			&models.Request{RequestType: "market_data", Streaming: true, ResponseChannels: []models.ChannelType{models.ChannelKafka}},
			"response_topic is required",
		},
	}
	for _, tc := range cases {
		err := ValidateRequest(tc.req)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error = %q, want substring %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestValidateRequestAggregatesErrors(t *testing.T) {
	err := ValidateRequest(&models.Request{Streaming: true})
	fes := fieldErrors(t, err)
	if len(fes) < 2 {
		t.Fatalf("field errors = %v", fes)
	}
}
