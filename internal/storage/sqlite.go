//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"spikedeploy/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveConfiguration(ctx context.Context, config model.Configuration) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeConfiguration(config)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO configurations (id, schema_version, codec_version, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, config.ID, config.SchemaVersion, config.CodecVersion, config.CreatedAt.UnixNano(), payload)
	return err
}

func (s *SQLiteStore) GetConfiguration(ctx context.Context, id string) (model.Configuration, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Configuration{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM configurations WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Configuration{}, false, nil
		}
		return model.Configuration{}, false, err
	}

	config, err := DecodeConfiguration(payload)
	if err != nil {
		return model.Configuration{}, false, fmt.Errorf("decode configuration %s: %w", id, err)
	}
	return config, true, nil
}

func (s *SQLiteStore) ListConfigurations(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM configurations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveRecording(ctx context.Context, recording model.Recording) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRecording(recording)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO recordings (id, configuration_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			configuration_id = excluded.configuration_id,
			payload = excluded.payload
	`, recording.ID, recording.ConfigurationID, payload)
	return err
}

func (s *SQLiteStore) GetRecording(ctx context.Context, id string) (model.Recording, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Recording{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM recordings WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Recording{}, false, nil
		}
		return model.Recording{}, false, err
	}

	recording, err := DecodeRecording(payload)
	if err != nil {
		return model.Recording{}, false, fmt.Errorf("decode recording %s: %w", id, err)
	}
	return recording, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS configurations (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			configuration_id TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
