// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package auth resolves inbound api keys to user ids against the credential
// registry. Request types listed as public bypass authentication; everything
// else requires an enabled key bound to an enabled user.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// ErrAuthFailed is the base class of every authentication failure. The
// wrapped message names the reason; the api key never appears in it.
var ErrAuthFailed = errors.New("authentication failed")

// Service authenticates requests against the credential registry.
type Service struct {
	creds   *config.CredentialStore
	enabled bool
	public  map[string]struct{}
}

// NewService creates the auth service.
func NewService(cfg config.AuthConfig, creds *config.CredentialStore) *Service {
	public := make(map[string]struct{}, len(cfg.PublicTypes))
	for _, t := range cfg.PublicTypes {
		public[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}
	return &Service{creds: creds, enabled: cfg.Enabled, public: public}
}

// Public reports whether a request type bypasses authentication.
func (s *Service) Public(requestType string) bool {
	_, ok := s.public[strings.ToUpper(strings.TrimSpace(requestType))]
	return ok
}

// Authenticate resolves the request's api key to a user id, stamping
// req.UserID on success. The key is cleared from the request either way so it
// cannot leak into logs or captured state downstream.
func (s *Service) Authenticate(req *models.Request) error {
	key := req.APIKey
	req.APIKey = ""

	if !s.enabled || s.Public(req.RequestType) {
		if key != "" {
			// A voluntary key on a public request still resolves, so
			// per-user catalogues apply when possible.
			if cred, ok := s.creds.LookupKey(key); ok && cred.Enabled {
				req.UserID = cred.UserID
			}
		}
		return nil
	}

	if key == "" {
		return fmt.Errorf("%w: missing api key", ErrAuthFailed)
	}
	cred, ok := s.creds.LookupKey(key)
	if !ok || !cred.Enabled {
		logging.Warn().Str("request_id", req.RequestID).Str("request_type", req.RequestType).
			Msg("rejected unknown or disabled api key")
		return fmt.Errorf("%w: unknown api key", ErrAuthFailed)
	}
	user, ok := s.creds.LookupUser(cred.UserID)
	if !ok || !user.Enabled {
		logging.Warn().Str("request_id", req.RequestID).Str("user_id", cred.UserID).
			Msg("rejected key bound to disabled user")
		return fmt.Errorf("%w: user disabled", ErrAuthFailed)
	}

	req.UserID = cred.UserID
	return nil
}
