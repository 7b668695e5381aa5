// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// Filesystem adapters exchange messages as one JSON file per envelope under
// <base_path>/<topic>/. Consumed files move to processed/ (or error/ when
// they cannot be parsed), so a directory can be replayed by moving files
// back. Useful for local development and air-gapped integrations.

const (
	fsProcessedDir = "processed"
	fsErrorDir     = "error"
	fsMessageExt   = ".json"
)

// fsMessage is the on-disk message format.
type fsMessage struct {
	MessageID string            `json:"message_id"`
	Topic     string            `json:"topic"`
	Headers   map[string]string `json:"headers,omitempty"`
	Payload   string            `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// fsBasePath reads the mandatory base_path.
func fsBasePath(cfg map[string]interface{}) (string, error) {
	base := cfgString(cfg, "base_path", "")
	if base == "" {
		return "", fmt.Errorf("filesystem: base_path is required")
	}
	return base, nil
}

// FilesystemPublisher writes envelopes as files, one per message, using a
// temp-then-rename so consumers never see partial writes.
type FilesystemPublisher struct {
	publisherBase

	base string

	mu      sync.Mutex
	created map[string]bool
}

// NewFilesystemPublisher returns an uninitialized filesystem publisher.
func NewFilesystemPublisher() *FilesystemPublisher {
	return &FilesystemPublisher{created: map[string]bool{}}
}

// Initialize ensures the base directory exists.
func (p *FilesystemPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeFilesystem, cfg)
	base, err := fsBasePath(cfg)
	if err != nil {
		return err
	}
	p.base = base
	return p.connectOnce(func() error {
		return os.MkdirAll(base, 0o755)
	})
}

// AddTopic creates the topic directory.
func (p *FilesystemPublisher) AddTopic(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureDir(topic)
}

// ensureDir is called with p.mu held.
func (p *FilesystemPublisher) ensureDir(topic string) error {
	if p.created[topic] {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(p.base, topic), 0o755); err != nil {
		return fmt.Errorf("filesystem: create topic dir %s: %w", topic, err)
	}
	p.created[topic] = true
	return nil
}

// Publish writes one envelope file into the topic directory.
func (p *FilesystemPublisher) Publish(_ context.Context, topic string, env *models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.mu.Lock()
	err := p.ensureDir(topic)
	p.mu.Unlock()
	if err != nil {
		p.countPublish(err)
		return err
	}

	raw, err := json.Marshal(fsMessage{
		MessageID: env.MessageID,
		Topic:     topic,
		Headers:   env.Headers,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	})
	if err != nil {
		p.countPublish(err)
		return fmt.Errorf("filesystem: marshal message: %w", err)
	}

	// Nanosecond prefix keeps directory listings in publish order even when
	// the filesystem's mtime granularity is coarse.
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), env.MessageID, fsMessageExt)
	dir := filepath.Join(p.base, topic)
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		p.countPublish(err)
		return fmt.Errorf("filesystem: write message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		p.countPublish(err)
		return fmt.Errorf("filesystem: commit message: %w", err)
	}
	p.countPublish(nil)
	return nil
}

// PublishBatch writes the batch file by file.
func (p *FilesystemPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	for _, env := range envs {
		if err := p.Publish(ctx, topic, env); err != nil {
			return err
		}
	}
	p.batches.Add(1)
	return nil
}

// Flush is a no-op: every publish is durable on return.
func (p *FilesystemPublisher) Flush(context.Context) error { return nil }

// Close marks the publisher closed.
func (p *FilesystemPublisher) Close() error {
	p.markClosed()
	return nil
}

// FilesystemSubscriber polls topic directories on an interval and delivers
// files in modification-time order.
type FilesystemSubscriber struct {
	subscriberBase

	base         string
	pollInterval time.Duration
}

// NewFilesystemSubscriber returns an uninitialized filesystem subscriber.
func NewFilesystemSubscriber() *FilesystemSubscriber {
	return &FilesystemSubscriber{}
}

// Initialize ensures the base directory exists.
func (s *FilesystemSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeFilesystem, cfg)
	base, err := fsBasePath(cfg)
	if err != nil {
		return err
	}
	s.base = base
	s.pollInterval = cfgSeconds(cfg, "poll_interval_seconds", 5*time.Second)
	return s.connectOnce(func() error {
		return os.MkdirAll(base, 0o755)
	})
}

// Subscribe registers a listener for a topic directory.
func (s *FilesystemSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	return nil
}

// Unsubscribe removes a topic directory's listener.
func (s *FilesystemSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// Serve runs the poll loop plus the shared dispatch loop until ctx ends.
func (s *FilesystemSubscriber) Serve(ctx context.Context) error {
	go s.dispatchLoop(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, dest := range s.Subscriptions() {
				if err := s.sweep(ctx, dest); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logging.Error().Err(err).Str("destination", dest).Msg("filesystem sweep failed")
				}
			}
		}
	}
}

// sweep delivers the pending files of one topic directory, oldest first.
func (s *FilesystemSubscriber) sweep(ctx context.Context, destination string) error {
	dir := filepath.Join(s.base, destination)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("filesystem: read dir %s: %w", dir, err)
	}

	type pending struct {
		name  string
		mtime time.Time
	}
	files := make([]pending, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fsMessageExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime.Equal(files[j].mtime) {
			return files[i].name < files[j].name
		}
		return files[i].mtime.Before(files[j].mtime)
	})

	for _, f := range files {
		if !s.waitCapacity(ctx) {
			return ctx.Err()
		}
		if err := s.deliverFile(ctx, destination, dir, f.name); err != nil {
			return err
		}
	}
	return nil
}

// deliverFile parses one file and enqueues it. Files without the fsMessage
// wrapper are delivered with the raw contents as the payload, so plain
// request files dropped into a topic directory still reach the listener;
// anything the listener cannot decode is accounted for downstream. Only
// syntactically broken JSON quarantines under error/.
func (s *FilesystemSubscriber) deliverFile(ctx context.Context, destination, dir, name string) error {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("filesystem: read message %s: %w", path, err)
	}

	var m fsMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.Payload == "" {
		if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
			logging.Warn().Str("file", path).Msg("unparseable message file, quarantining")
			return s.archive(dir, name, fsErrorDir)
		}
		m = fsMessage{Payload: string(raw)}
	}

	env := &models.MessageEnvelope{
		MessageID: m.MessageID,
		Topic:     destination,
		Payload:   m.Payload,
		Headers:   m.Headers,
		Timestamp: m.Timestamp,
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	if env.Headers == nil {
		env.Headers = map[string]string{}
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if !s.enqueue(ctx, destination, env) {
		return ctx.Err()
	}
	return s.archive(dir, name, fsProcessedDir)
}

// archive moves a file into a topic subdirectory, creating it on first use.
func (s *FilesystemSubscriber) archive(dir, name, sub string) error {
	target := filepath.Join(dir, sub)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("filesystem: create %s dir: %w", sub, err)
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(target, name)); err != nil {
		return fmt.Errorf("filesystem: archive %s: %w", name, err)
	}
	return nil
}

// Close marks the subscriber closed.
func (s *FilesystemSubscriber) Close() error {
	s.markClosed()
	return nil
}
