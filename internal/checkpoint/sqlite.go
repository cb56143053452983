package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tasks (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		target_key TEXT NOT NULL,
		size INTEGER NOT NULL,
		etag TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		run_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (bucket, key)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_run_id ON tasks(run_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetTask retrieves the record for one (bucket, key) pair, nil when absent
func (s *SQLiteStore) GetTask(bucket, key string) (*TaskRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	var result *TaskRecord
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getTaskInternal(bucket, key)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getTaskInternal(bucket, key string) (*TaskRecord, error) {
	query := `
	SELECT bucket, key, target_key, size, etag, status, attempts, last_error, run_id, updated_at
	FROM tasks WHERE bucket = ? AND key = ?
	`

	row := s.db.QueryRow(query, bucket, key)

	var record TaskRecord
	var lastError sql.NullString

	err := row.Scan(
		&record.Bucket,
		&record.Key,
		&record.TargetKey,
		&record.Size,
		&record.ETag,
		&record.Status,
		&record.Attempts,
		&lastError,
		&record.RunID,
		&record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}

	return &record, nil
}

// SaveTask saves or updates a task record
func (s *SQLiteStore) SaveTask(record *TaskRecord) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent workers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveTaskInternal(record)
	})
}

func (s *SQLiteStore) saveTaskInternal(record *TaskRecord) error {
	record.UpdatedAt = time.Now()

	query := `
	INSERT INTO tasks
	(bucket, key, target_key, size, etag, status, attempts, last_error, run_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(bucket, key) DO UPDATE SET
		target_key = excluded.target_key,
		size = excluded.size,
		etag = excluded.etag,
		status = excluded.status,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		run_id = excluded.run_id,
		updated_at = excluded.updated_at
	`

	_, err := s.db.Exec(query,
		record.Bucket,
		record.Key,
		record.TargetKey,
		record.Size,
		record.ETag,
		record.Status,
		record.Attempts,
		record.LastError,
		record.RunID,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task record: %w", err)
	}

	return nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isSQLiteBusyError(err) {
			return err
		}

		if attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
		}
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// ListFailedTasks returns all records whose last run ended in failure,
// oldest first
func (s *SQLiteStore) ListFailedTasks() ([]*TaskRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	query := `
	SELECT bucket, key, target_key, size, etag, status, attempts, last_error, run_id, updated_at
	FROM tasks WHERE status = ?
	ORDER BY updated_at ASC
	`

	rows, err := s.db.Query(query, StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TaskRecord

	for rows.Next() {
		var record TaskRecord
		var lastError sql.NullString

		err := rows.Scan(
			&record.Bucket,
			&record.Key,
			&record.TargetKey,
			&record.Size,
			&record.ETag,
			&record.Status,
			&record.Attempts,
			&lastError,
			&record.RunID,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		if lastError.Valid {
			record.LastError = lastError.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
