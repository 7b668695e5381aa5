// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dgfacade/dgfacade/internal/logging"
	"github.com/dgfacade/dgfacade/internal/models"
)

// SQL adapters use a database table as the queue: publishers insert PENDING
// rows, subscribers poll them in insertion order and mark them DONE. SQLite
// and PostgreSQL are supported; which one is picked by the driver key.

const (
	sqlDefaultTable = "broker_messages"

	sqlStatusPending = "PENDING"
	sqlStatusDone    = "DONE"
)

// sqlOpen opens and pings the configured database.
func sqlOpen(cfg map[string]interface{}) (*sql.DB, string, error) {
	driver := strings.ToLower(cfgString(cfg, "driver", "sqlite3"))
	switch driver {
	case "sqlite3", "sqlite":
		driver = "sqlite3"
	case "pgx", "postgres", "postgresql":
		driver = "pgx"
	default:
		return nil, "", fmt.Errorf("sql: unsupported driver %q", driver)
	}
	dsn := cfgString(cfg, "dsn", "")
	if dsn == "" {
		return nil, "", fmt.Errorf("sql: dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("sql: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("sql: ping: %w", err)
	}
	return db, driver, nil
}

// sqlRebind converts ? placeholders to $n for the pgx driver.
func sqlRebind(driver, query string) string {
	if driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlEnsureTable creates the queue table and its polling index.
func sqlEnsureTable(db *sql.DB, driver, table string) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "pgx" {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s,
		topic TEXT NOT NULL,
		message_id TEXT NOT NULL,
		headers TEXT NOT NULL DEFAULT '{}',
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '%s',
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`, table, pk, sqlStatusPending)
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("sql: create table %s: %w", table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_poll ON %s (topic, status, id)`, table, table)
	if _, err := db.Exec(idx); err != nil {
		return fmt.Errorf("sql: create index on %s: %w", table, err)
	}
	return nil
}

// SQLPublisher inserts envelopes as PENDING rows.
type SQLPublisher struct {
	publisherBase

	db     *sql.DB
	driver string
	table  string
}

// NewSQLPublisher returns an uninitialized SQL publisher.
func NewSQLPublisher() *SQLPublisher {
	return &SQLPublisher{}
}

// Initialize opens the database and ensures the queue table.
func (p *SQLPublisher) Initialize(cfg map[string]interface{}) error {
	p.initPublisher(TypeSQL, cfg)
	p.table = cfgString(cfg, "table", sqlDefaultTable)
	return p.connectOnce(func() error {
		db, driver, err := sqlOpen(cfg)
		if err != nil {
			return err
		}
		if err := sqlEnsureTable(db, driver, p.table); err != nil {
			_ = db.Close()
			return err
		}
		p.db = db
		p.driver = driver
		return nil
	})
}

// AddTopic is a no-op: all topics share the queue table.
func (p *SQLPublisher) AddTopic(string) error { return nil }

// Publish inserts one envelope row.
func (p *SQLPublisher) Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error {
	return p.PublishBatch(ctx, topic, []*models.MessageEnvelope{env})
}

// PublishBatch inserts the batch inside one transaction.
func (p *SQLPublisher) PublishBatch(ctx context.Context, topic string, envs []*models.MessageEnvelope) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.IsConnected() {
		return ErrNotConnected
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		for range envs {
			p.countPublish(err)
		}
		return fmt.Errorf("sql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := sqlRebind(p.driver, fmt.Sprintf(
		`INSERT INTO %s (topic, message_id, headers, payload, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.table))
	for _, env := range envs {
		headers, err := json.Marshal(env.Headers)
		if err != nil {
			headers = []byte("{}")
		}
		ts := env.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query, topic, env.MessageID, string(headers), env.Payload, sqlStatusPending, ts); err != nil {
			for range envs {
				p.countPublish(err)
			}
			return fmt.Errorf("sql: insert into %s: %w", p.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		for range envs {
			p.countPublish(err)
		}
		return fmt.Errorf("sql: commit: %w", err)
	}
	for range envs {
		p.countPublish(nil)
	}
	p.batches.Add(1)
	return nil
}

// Flush is a no-op: inserts commit on return.
func (p *SQLPublisher) Flush(context.Context) error { return nil }

// Close releases the database handle.
func (p *SQLPublisher) Close() error {
	if p.closed.Load() {
		return nil
	}
	p.markClosed()
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// SQLSubscriber polls PENDING rows per topic in insertion order and marks
// them DONE after handoff.
type SQLSubscriber struct {
	subscriberBase

	db           *sql.DB
	driver       string
	table        string
	pollInterval time.Duration
	batchSize    int
}

// NewSQLSubscriber returns an uninitialized SQL subscriber.
func NewSQLSubscriber() *SQLSubscriber {
	return &SQLSubscriber{}
}

// Initialize opens the database and ensures the queue table.
func (s *SQLSubscriber) Initialize(cfg map[string]interface{}) error {
	s.initSubscriber(TypeSQL, cfg)
	s.table = cfgString(cfg, "table", sqlDefaultTable)
	s.pollInterval = cfgSeconds(cfg, "poll_interval_seconds", 5*time.Second)
	s.batchSize = cfgInt(cfg, "poll_batch_size", 100)
	return s.connectOnce(func() error {
		db, driver, err := sqlOpen(cfg)
		if err != nil {
			return err
		}
		if err := sqlEnsureTable(db, driver, s.table); err != nil {
			_ = db.Close()
			return err
		}
		s.db = db
		s.driver = driver
		return nil
	})
}

// Subscribe registers a listener for a topic.
func (s *SQLSubscriber) Subscribe(destination string, l Listener) error {
	s.addListener(destination, l)
	return nil
}

// Unsubscribe removes a topic's listener.
func (s *SQLSubscriber) Unsubscribe(destination string) error {
	s.removeListener(destination)
	return nil
}

// Serve runs the poll loop plus the shared dispatch loop until ctx ends.
func (s *SQLSubscriber) Serve(ctx context.Context) error {
	go s.dispatchLoop(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, dest := range s.Subscriptions() {
				if err := s.poll(ctx, dest); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logging.Error().Err(err).Str("destination", dest).Msg("sql poll failed")
				}
			}
		}
	}
}

// sqlRow is one pending queue row.
type sqlRow struct {
	id        int64
	messageID string
	headers   string
	payload   string
	createdAt time.Time
}

// poll delivers up to batchSize pending rows for one topic.
func (s *SQLSubscriber) poll(ctx context.Context, destination string) error {
	if !s.waitCapacity(ctx) {
		return ctx.Err()
	}

	limit := s.batchSize
	if free := s.maxDepth - s.QueueDepth(); free < limit {
		limit = free
	}
	if limit <= 0 {
		return nil
	}

	query := sqlRebind(s.driver, fmt.Sprintf(
		`SELECT id, message_id, headers, payload, created_at FROM %s WHERE topic = ? AND status = ? ORDER BY id LIMIT %d`,
		s.table, limit))
	rows, err := s.db.QueryContext(ctx, query, destination, sqlStatusPending)
	if err != nil {
		return fmt.Errorf("sql: select pending: %w", err)
	}

	var batch []sqlRow
	for rows.Next() {
		var r sqlRow
		if err := rows.Scan(&r.id, &r.messageID, &r.headers, &r.payload, &r.createdAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("sql: scan row: %w", err)
		}
		batch = append(batch, r)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("sql: close rows: %w", err)
	}

	done := sqlRebind(s.driver, fmt.Sprintf(
		`UPDATE %s SET status = ?, processed_at = ? WHERE id = ?`, s.table))
	for _, r := range batch {
		if !s.waitCapacity(ctx) {
			return ctx.Err()
		}
		env := &models.MessageEnvelope{
			MessageID: r.messageID,
			Topic:     destination,
			Payload:   r.payload,
			Headers:   map[string]string{},
			Timestamp: r.createdAt,
		}
		if r.headers != "" {
			_ = json.Unmarshal([]byte(r.headers), &env.Headers)
		}
		if env.MessageID == "" {
			env.MessageID = uuid.NewString()
		}
		if !s.enqueue(ctx, destination, env) {
			return ctx.Err()
		}
		if _, err := s.db.ExecContext(ctx, done, sqlStatusDone, time.Now().UTC(), r.id); err != nil {
			return fmt.Errorf("sql: mark done id=%d: %w", r.id, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLSubscriber) Close() error {
	if s.closed.Load() {
		return nil
	}
	s.markClosed()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
