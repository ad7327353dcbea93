//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"spikeglm/internal/model"

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

func (s *SQLiteStore) SaveSession(ctx context.Context, session model.Session) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSession(session)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (eid, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(eid) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, session.EID, session.SchemaVersion, session.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, eid string) (model.Session, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM sessions WHERE eid = ?`, eid)
	if err != nil || !ok {
		return model.Session{}, false, err
	}
	session, err := DecodeSession(payload)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("decode session %s: %w", eid, err)
	}
	return session, true, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT eid, payload FROM sessions ORDER BY eid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var eid string
		var payload []byte
		if err := rows.Scan(&eid, &payload); err != nil {
			return nil, err
		}
		session, err := DecodeSession(payload)
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", eid, err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveDatasets(ctx context.Context, eid string, datasets []model.Dataset) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeDatasets(datasets)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO datasets (eid, payload)
		VALUES (?, ?)
		ON CONFLICT(eid) DO UPDATE SET
			payload = excluded.payload
	`, eid, payload)
	return err
}

func (s *SQLiteStore) GetDatasets(ctx context.Context, eid string) ([]model.Dataset, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM datasets WHERE eid = ?`, eid)
	if err != nil || !ok {
		return nil, false, err
	}
	datasets, err := DecodeDatasets(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode datasets %s: %w", eid, err)
	}
	return datasets, true, nil
}

func (s *SQLiteStore) SaveFitRun(ctx context.Context, run model.FitRun) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeFitRun(run)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO fit_runs (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, run.ID, run.CreatedAt.UnixNano(), run.SchemaVersion, run.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetFitRun(ctx context.Context, id string) (model.FitRun, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM fit_runs WHERE id = ?`, id)
	if err != nil || !ok {
		return model.FitRun{}, false, err
	}
	run, err := DecodeFitRun(payload)
	if err != nil {
		return model.FitRun{}, false, fmt.Errorf("decode fit run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) ListFitRuns(ctx context.Context) ([]model.FitRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM fit_runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FitRun
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeFitRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode fit run %s: %w", id, err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(out)
	return out, nil
}

func (s *SQLiteStore) SaveClusterFits(ctx context.Context, runID string, fits []model.ClusterFit) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeClusterFits(fits)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cluster_fits (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetClusterFits(ctx context.Context, runID string) ([]model.ClusterFit, bool, error) {
	payload, ok, err := s.getPayload(ctx, `SELECT payload FROM cluster_fits WHERE run_id = ?`, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	fits, err := DecodeClusterFits(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode cluster fits %s: %w", runID, err)
	}
	return fits, true, nil
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

func (s *SQLiteStore) getPayload(ctx context.Context, query, key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			eid TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS datasets (
			eid TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS fit_runs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cluster_fits (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
