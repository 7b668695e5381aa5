// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// loadJSONDir reads every *.json file in dir and hands (id, raw) to fn,
// where id is the file name without extension. A missing directory is not an
// error: registries may be provisioned lazily.
func loadJSONDir(dir string, fn func(id string, raw []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if err := fn(id, raw); err != nil {
			return fmt.Errorf("decode %s: %w", e.Name(), err)
		}
	}
	return nil
}

// BrokerStore is the broker registry: one JSON file per broker id.
type BrokerStore struct {
	dir     string
	mu      sync.RWMutex
	entries map[string]*models.BrokerConfig
}

// NewBrokerStore creates a store over dir; call Load before first use.
func NewBrokerStore(dir string) *BrokerStore {
	return &BrokerStore{dir: dir, entries: map[string]*models.BrokerConfig{}}
}

// Load rebuilds the registry. On error the previous catalogue stays installed.
func (s *BrokerStore) Load() error {
	next := map[string]*models.BrokerConfig{}
	err := loadJSONDir(s.dir, func(id string, raw []byte) error {
		cfg := &models.BrokerConfig{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return err
		}
		cfg.ID = id
		next[id] = cfg
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	logging.Debug().Int("brokers", len(next)).Str("dir", s.dir).Msg("broker registry loaded")
	return nil
}

// Get returns the broker config for id.
func (s *BrokerStore) Get(id string) (*models.BrokerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[id]
	return cfg, ok
}

// IDs returns all broker ids, sorted.
func (s *BrokerStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChannelStore is a channel registry (used for both input-channels and
// output-channels directories).
type ChannelStore struct {
	dir     string
	mu      sync.RWMutex
	entries map[string]*models.ChannelConfig
}

// NewChannelStore creates a store over dir; call Load before first use.
func NewChannelStore(dir string) *ChannelStore {
	return &ChannelStore{dir: dir, entries: map[string]*models.ChannelConfig{}}
}

// Load rebuilds the registry. On error the previous catalogue stays installed.
func (s *ChannelStore) Load() error {
	next := map[string]*models.ChannelConfig{}
	err := loadJSONDir(s.dir, func(id string, raw []byte) error {
		cfg := &models.ChannelConfig{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return err
		}
		cfg.ID = id
		next[id] = cfg
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	logging.Debug().Int("channels", len(next)).Str("dir", s.dir).Msg("channel registry loaded")
	return nil
}

// Get returns the channel config for id.
func (s *ChannelStore) Get(id string) (*models.ChannelConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[id]
	return cfg, ok
}

// IDs returns all channel ids, sorted.
func (s *ChannelStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FindByType returns the first enabled channel (by id order) whose
// normalized type matches any of the given broker types.
func (s *ChannelStore) FindByType(types ...string) (*models.ChannelConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cfg := s.entries[id]
		if !cfg.Enabled {
			continue
		}
		for _, t := range types {
			if cfg.NormalizedType() == t {
				return cfg, true
			}
		}
	}
	return nil, false
}

// IngesterStore is the ingester registry.
type IngesterStore struct {
	dir     string
	mu      sync.RWMutex
	entries map[string]*models.IngesterConfig
}

// NewIngesterStore creates a store over dir; call Load before first use.
func NewIngesterStore(dir string) *IngesterStore {
	return &IngesterStore{dir: dir, entries: map[string]*models.IngesterConfig{}}
}

// Load rebuilds the registry. On error the previous catalogue stays installed.
func (s *IngesterStore) Load() error {
	next := map[string]*models.IngesterConfig{}
	err := loadJSONDir(s.dir, func(id string, raw []byte) error {
		cfg := &models.IngesterConfig{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return err
		}
		cfg.ID = id
		next[id] = cfg
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	logging.Debug().Int("ingesters", len(next)).Str("dir", s.dir).Msg("ingester registry loaded")
	return nil
}

// Get returns the ingester config for id.
func (s *IngesterStore) Get(id string) (*models.IngesterConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[id]
	return cfg, ok
}

// All returns every ingester config keyed by id.
func (s *IngesterStore) All() map[string]*models.IngesterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.IngesterConfig, len(s.entries))
	for id, cfg := range s.entries {
		out[id] = cfg
	}
	return out
}

// HandlerStore is the handler catalogue registry: one JSON file per user
// (map keyed by request type), with default.json as the shared fallback.
type HandlerStore struct {
	dir   string
	mu    sync.RWMutex
	users map[string]map[string]*models.HandlerConfig
}

// DefaultCatalogue is the file name of the fallback handler catalogue.
const DefaultCatalogue = "default"

// NewHandlerStore creates a store over dir; call Load before first use.
func NewHandlerStore(dir string) *HandlerStore {
	return &HandlerStore{dir: dir, users: map[string]map[string]*models.HandlerConfig{}}
}

// Load rebuilds every user catalogue. On error the previous catalogues stay
// installed.
func (s *HandlerStore) Load() error {
	next := map[string]map[string]*models.HandlerConfig{}
	err := loadJSONDir(s.dir, func(id string, raw []byte) error {
		catalogue := map[string]*models.HandlerConfig{}
		if err := json.Unmarshal(raw, &catalogue); err != nil {
			return err
		}
		normalized := make(map[string]*models.HandlerConfig, len(catalogue))
		for reqType, cfg := range catalogue {
			key := strings.ToUpper(strings.TrimSpace(reqType))
			cfg.RequestType = key
			normalized[key] = cfg
		}
		next[id] = normalized
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.users = next
	s.mu.Unlock()
	logging.Debug().Int("catalogues", len(next)).Str("dir", s.dir).Msg("handler registry loaded")
	return nil
}

// Resolve finds the handler config for (userID, requestType), preferring the
// user's own catalogue and falling back to default.json. Disabled entries
// resolve to not-found.
func (s *HandlerStore) Resolve(userID, requestType string) (*models.HandlerConfig, bool) {
	requestType = strings.ToUpper(strings.TrimSpace(requestType))
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID != "" {
		if catalogue, ok := s.users[userID]; ok {
			if cfg, ok := catalogue[requestType]; ok && cfg.Enabled {
				return cfg, true
			}
		}
	}
	if catalogue, ok := s.users[DefaultCatalogue]; ok {
		if cfg, ok := catalogue[requestType]; ok && cfg.Enabled {
			return cfg, true
		}
	}
	return nil, false
}

// Catalogue returns the raw catalogue for a user id (default.json under
// DefaultCatalogue), for the admin API.
func (s *HandlerStore) Catalogue(userID string) (map[string]*models.HandlerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	catalogue, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	out := make(map[string]*models.HandlerConfig, len(catalogue))
	for k, v := range catalogue {
		out[k] = v
	}
	return out, true
}

// CredentialStore holds users.json and apikeys.json.
type CredentialStore struct {
	usersPath string
	keysPath  string

	mu    sync.RWMutex
	users map[string]*models.User
	keys  map[string]*models.APIKey
}

// NewCredentialStore creates a store over the two credential files.
func NewCredentialStore(usersPath, keysPath string) *CredentialStore {
	return &CredentialStore{
		usersPath: usersPath,
		keysPath:  keysPath,
		users:     map[string]*models.User{},
		keys:      map[string]*models.APIKey{},
	}
}

// Load rebuilds both credential maps. Missing files load as empty.
func (s *CredentialStore) Load() error {
	users := map[string]*models.User{}
	if raw, err := os.ReadFile(s.usersPath); err == nil {
		var list []*models.User
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("decode %s: %w", s.usersPath, err)
		}
		for _, u := range list {
			users[u.UserID] = u
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", s.usersPath, err)
	}

	keys := map[string]*models.APIKey{}
	if raw, err := os.ReadFile(s.keysPath); err == nil {
		var list []*models.APIKey
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("decode %s: %w", s.keysPath, err)
		}
		for _, k := range list {
			keys[k.Key] = k
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", s.keysPath, err)
	}

	s.mu.Lock()
	s.users = users
	s.keys = keys
	s.mu.Unlock()
	logging.Debug().Int("users", len(users)).Int("api_keys", len(keys)).Msg("credential store loaded")
	return nil
}

// LookupKey resolves an api key to its entry.
func (s *CredentialStore) LookupKey(key string) (*models.APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[key]
	return k, ok
}

// LookupUser resolves a user id to its entry.
func (s *CredentialStore) LookupUser(userID string) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	return u, ok
}
