package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
)

// Storage persists the single in-flight job record.
type Storage interface {
	Save(ctx context.Context, j *job.Job) error
	// Load returns nil when no record exists or the stored one is unreadable.
	Load(ctx context.Context) (*job.Job, error)
	Clear(ctx context.Context) error
}

type SQLiteStorage struct {
	db  *sql.DB
	log logrus.FieldLogger
}

func NewSQLiteStorage(log logrus.FieldLogger) *SQLiteStorage {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SQLiteStorage{log: log}
}

func (s *SQLiteStorage) Init(path string) error {
	if path == "" {
		path = "blockctl.db"
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; keeps sqlite from returning SQLITE_BUSY between the tick and API goroutines
	db.SetMaxOpenConns(1)
	s.db = db
	return s.migrate()
}

func (s *SQLiteStorage) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS job_state (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME
	);
	`
	_, err := s.db.Exec(q)
	return err
}

func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save overwrites the persisted record.
func (s *SQLiteStorage) Save(ctx context.Context, j *job.Job) error {
	if j == nil {
		return errors.New("save: nil job")
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO job_state(slot,id,payload,updated_at) VALUES(1,?,?,?)
		ON CONFLICT(slot) DO UPDATE SET id=excluded.id, payload=excluded.payload, updated_at=excluded.updated_at`,
		j.ID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) Load(ctx context.Context) (*job.Job, error) {
	var id, payload string
	row := s.db.QueryRowContext(ctx, `SELECT id,payload FROM job_state WHERE slot = 1`)
	if err := row.Scan(&id, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load job: %w", err)
	}

	j := &job.Job{}
	if err := json.Unmarshal([]byte(payload), j); err != nil {
		s.discardMalformed(ctx, id, err)
		return nil, nil
	}
	if _, err := job.ParseMode(j.Mode.String()); err != nil {
		s.discardMalformed(ctx, id, err)
		return nil, nil
	}
	return j, nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_state`); err != nil {
		return fmt.Errorf("clear job: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) discardMalformed(ctx context.Context, id string, cause error) {
	s.log.WithFields(logrus.Fields{"job_id": id, "error": cause}).Warn("discarding malformed job record")
	if err := s.Clear(ctx); err != nil {
		s.log.WithError(err).Warn("failed to clear malformed job record")
	}
}
