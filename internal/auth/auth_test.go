// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgfacade/dgfacade/internal/config"
	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func testCredentials(t *testing.T) *config.CredentialStore {
	t.Helper()
	dir := t.TempDir()
	users := filepath.Join(dir, "users.json")
	keys := filepath.Join(dir, "apikeys.json")
	if err := os.WriteFile(users, []byte(`[
		{"user_id": "alice", "enabled": true},
		{"user_id": "mallory", "enabled": false}
	]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keys, []byte(`[
		{"key": "key-alice", "user_id": "alice", "enabled": true},
		{"key": "key-revoked", "user_id": "alice", "enabled": false},
		{"key": "key-mallory", "user_id": "mallory", "enabled": true}
	]`), 0o644); err != nil {
		t.Fatal(err)
	}
	store := config.NewCredentialStore(users, keys)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return store
}

func newService(t *testing.T, enabled bool, public ...string) *Service {
	t.Helper()
	return NewService(config.AuthConfig{Enabled: enabled, PublicTypes: public}, testCredentials(t))
}

func TestAuthenticateResolvesUser(t *testing.T) {
	s := newService(t, true)
	req := &models.Request{RequestType: "ARITHMETIC", APIKey: "key-alice"}
	if err := s.Authenticate(req); err != nil {
		t.Fatal(err)
	}
	if req.UserID != "alice" {
		t.Errorf("user_id = %q", req.UserID)
	}
	if req.APIKey != "" {
		t.Error("api key survived authentication")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	s := newService(t, true)
	cases := []struct {
		name string
		key  string
	}{
		{"missing key", ""},
		{"unknown key", "key-nope"},
		{"revoked key", "key-revoked"},
		{"disabled user", "key-mallory"},
	}
	for _, tc := range cases {
		req := &models.Request{RequestType: "ARITHMETIC", APIKey: tc.key}
		err := s.Authenticate(req)
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("%s: err = %v, want ErrAuthFailed", tc.name, err)
		}
		if req.UserID != "" {
			t.Errorf("%s: user_id = %q", tc.name, req.UserID)
		}
		if req.APIKey != "" {
			t.Errorf("%s: api key retained", tc.name)
		}
	}
}

func TestPublicTypeBypasses(t *testing.T) {
	s := newService(t, true, "echo")
	req := &models.Request{RequestType: "ECHO"}
	if err := s.Authenticate(req); err != nil {
		t.Fatal(err)
	}

	// A voluntary key on a public request still resolves the user.
	req = &models.Request{RequestType: "ECHO", APIKey: "key-alice"}
	if err := s.Authenticate(req); err != nil {
		t.Fatal(err)
	}
	if req.UserID != "alice" {
		t.Errorf("user_id = %q", req.UserID)
	}
}

func TestDisabledAuthPassesEverything(t *testing.T) {
	s := newService(t, false)
	req := &models.Request{RequestType: "ARITHMETIC"}
	if err := s.Authenticate(req); err != nil {
		t.Fatal(err)
	}
}
