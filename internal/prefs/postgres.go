package prefs

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	notifyChannel    = "preferences_changed"
	maxNotifyPayload = 8000
)

// PostgresStore keeps preferences in a single table and fans changes out
// through LISTEN/NOTIFY, so every replica sees every write. Subscribers only
// hear about changes while Run is active.
type PostgresStore struct {
	db     *sql.DB
	dsn    string
	logger *logrus.Logger
	subs   subscribers
}

func NewPostgresStore(db *sql.DB, dsn string, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, dsn: dsn, logger: logger}
}

// Open connects to dsn, waits for the database and creates the schema.
func Open(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for i := 0; ; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if i == 9 {
			db.Close()
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		logger.Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	store := NewPostgresStore(db, dsn, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS preferences (
			key VARCHAR(255) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create preferences table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get preference: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}

	payload, err := notifyPayload(Change{Key: key, Value: value})
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	// Delivered on commit.
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify preference change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preference: %w", err)
	}
	return nil
}

// notifyPayload encodes change for pg_notify, which refuses payloads of
// maxNotifyPayload bytes or more. Escaping can make the encoded value much
// longer than the raw one.
func notifyPayload(change Change) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(change); err != nil {
		return nil, fmt.Errorf("failed to marshal change: %w", err)
	}

	payload := bytes.TrimRight(buf.Bytes(), "\n")
	if len(payload) >= maxNotifyPayload {
		return nil, fmt.Errorf("%w: %d bytes once encoded", ErrValueTooLarge, len(payload))
	}
	return payload, nil
}

func (s *PostgresStore) Subscribe(fn func(Change)) func() {
	return s.subs.add(fn)
}

// Run listens for change notifications until ctx is done.
func (s *PostgresStore) Run(ctx context.Context) error {
	listener := pq.NewListener(s.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.WithError(err).WithField("event", ev).Warn("Preference listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(notifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}
	s.logger.WithField("channel", notifyChannel).Info("Listening for preference changes")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case n := <-listener.Notify:
			// nil after a reconnect; anything missed in between is lost.
			if n == nil {
				continue
			}
			var change Change
			if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
				s.logger.WithError(err).Warn("Failed to decode preference change")
				continue
			}
			s.subs.notify(change)

		case <-ping.C:
			if err := listener.Ping(); err != nil {
				s.logger.WithError(err).Warn("Preference listener ping failed")
			}
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
