// Package postgres adapts Postgres to the document store interface, keeping
// each document as a JSONB row keyed by (collection, key). Selected with
// STORE_DRIVER=postgres; the Mongo adapter is the default.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/palengke/marketplace/internal/store"
)

const maxConflictRetries = 10

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres and creates the documents table if needed.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			rev        BIGINT NOT NULL DEFAULT 1,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		);
	`)
	return err
}

func (s *Store) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM documents WHERE collection = $1 AND key = $2",
		collection, key,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Transient(err)
	}
	return doc, nil
}

func (s *Store) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key)
		DO UPDATE SET doc = $3, rev = documents.rev + 1, updated_at = NOW()`,
		collection, key, []byte(doc),
	)
	if err != nil {
		return store.Transient(err)
	}
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, collection, key string, fn store.UpdateFunc) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var (
			rev int64
			doc []byte
		)
		exists := true
		err := s.db.QueryRowContext(ctx,
			"SELECT rev, doc FROM documents WHERE collection = $1 AND key = $2",
			collection, key,
		).Scan(&rev, &doc)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return store.Transient(err)
		}

		var current json.RawMessage
		if exists {
			current = doc
		}
		next, err := fn(current)
		if err != nil {
			if errors.Is(err, store.ErrUnchanged) {
				return nil
			}
			return err
		}

		var res sql.Result
		if exists {
			res, err = s.db.ExecContext(ctx, `
				UPDATE documents SET doc = $3, rev = rev + 1, updated_at = NOW()
				WHERE collection = $1 AND key = $2 AND rev = $4`,
				collection, key, []byte(next), rev,
			)
		} else {
			res, err = s.db.ExecContext(ctx, `
				INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)
				ON CONFLICT (collection, key) DO NOTHING`,
				collection, key, []byte(next),
			)
		}
		if err != nil {
			return store.Transient(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return nil
		}
		// lost the race, re-read and re-apply
	}

	return store.Transient(fmt.Errorf("atomic update on %s/%s: too many concurrent writers", collection, key))
}

func (s *Store) BatchWrite(ctx context.Context, writes []store.Write) error {
	if len(writes) > store.MaxBatchSize {
		return store.ErrBatchTooLarge
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Transient(err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.Doc == nil {
			_, err = tx.ExecContext(ctx,
				"DELETE FROM documents WHERE collection = $1 AND key = $2",
				w.Collection, w.Key,
			)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (collection, key, doc) VALUES ($1, $2, $3)
				ON CONFLICT (collection, key)
				DO UPDATE SET doc = $3, rev = documents.rev + 1, updated_at = NOW()`,
				w.Collection, w.Key, []byte(w.Doc),
			)
		}
		if err != nil {
			return store.Transient(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Transient(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND key = $2",
		collection, key,
	)
	if err != nil {
		return store.Transient(err)
	}
	return nil
}
