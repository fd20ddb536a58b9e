package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/blocklog/internal/clock"
	"github.com/runnerr0/blocklog/internal/log"
)

const (
	// DefaultBusyTimeout is how long a writer waits on a locked database
	// before giving up.
	DefaultBusyTimeout = 5 * time.Second

	// DefaultUnreportedLimit applies when QueryUnreported gets limit <= 0.
	DefaultUnreportedLimit = 100

	// DefaultQueryAllLimit applies when QueryAll gets limit <= 0.
	DefaultQueryAllLimit = 1000

	millisPerDay = int64(24 * 60 * 60 * 1000)

	// MaxRetentionDays is the largest window whose span in milliseconds
	// fits in an int64.
	MaxRetentionDays = math.MaxInt64 / millisPerDay
)

var (
	// ErrNotInitialized is returned by every operation on a store that was
	// never initialized or has been closed.
	ErrNotInitialized = errors.New("storage: store not initialized")

	// ErrNotFound is returned when an acknowledgment targets an unknown id.
	ErrNotFound = errors.New("storage: record not found")
)

// Store defines the blocked-request persistence operations.
type Store interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	BulkInsert(ctx context.Context, recs []Record) error
	QueryUnreported(ctx context.Context, limit int) ([]Record, error)
	QueryAll(ctx context.Context, limit int) ([]Record, error)
	MarkReported(ctx context.Context, id int64, ack Ack) error
	MarkFailed(ctx context.Context, id int64, ack Ack) error
	DeleteReported(ctx context.Context, olderThanDays int) (int64, error)
	CountReportedOlderThan(ctx context.Context, olderThanDays int) (int64, error)
	Statistics(ctx context.Context) (Statistics, error)
	Close() error
}

const recordColumns = `id, url, host, reason, timestamp, reported, source_id, tab_id,
	report_status, report_response, reported_at, report_failures`

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock sets the clock used for retention cutoffs and reported_at.
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteStore) {
		s.clock = c
	}
}

// WithBusyTimeout overrides DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		s.busyTimeout = d
	}
}

// SQLiteStore implements Store backed by a single SQLite file in WAL mode.
type SQLiteStore struct {
	mu          sync.RWMutex
	db          *sql.DB
	path        string
	clock       clock.Clock
	busyTimeout time.Duration

	// Prepared statements
	insert           *sql.Stmt
	selectUnreported *sql.Stmt
	selectAll        *sql.Stmt
	markReported     *sql.Stmt
	markFailed       *sql.Stmt
	exists           *sql.Stmt
	deleteReported   *sql.Stmt
	countReported    *sql.Stmt
	statistics       *sql.Stmt
}

// NewSQLiteStore returns an uninitialized store. Call Initialize before use.
func NewSQLiteStore(opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		clock:       clock.RealClock{},
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store and initializes it at path.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	s := NewSQLiteStore(opts...)
	if err := s.Initialize(path); err != nil {
		return nil, err
	}
	return s, nil
}

// dsn builds the go-sqlite3 connection string. Pragmas are passed through
// the DSN so that every pooled connection gets them, not just the first.
func (s *SQLiteStore) dsn(path string) string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL&_txlock=immediate",
		path, s.busyTimeout.Milliseconds())
}

// Initialize opens or creates the database file at path, creates the schema
// and prepares statements. Calling it on an initialized store is a no-op.
func (s *SQLiteStore) Initialize(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite3", s.dsn(path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("connect to database: %w", err)
	}

	if err := NewSchemaRunner(db).Run(); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	if err := s.prepareStatements(); err != nil {
		s.closeLocked()
		return fmt.Errorf("prepare statements: %w", err)
	}

	s.path = path
	log.Info(map[string]any{"path": path}, "record store initialized")
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	prepare := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
	}

	prepare(&s.insert, `
		INSERT INTO blocked_requests (url, host, reason, timestamp, reported, source_id, tab_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	prepare(&s.selectUnreported, `
		SELECT `+recordColumns+`
		FROM blocked_requests WHERE reported = 0
		ORDER BY timestamp ASC, id ASC LIMIT ?
	`)
	prepare(&s.selectAll, `
		SELECT `+recordColumns+`
		FROM blocked_requests
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`)
	prepare(&s.markReported, `
		UPDATE blocked_requests
		SET reported = 1, report_status = ?, report_response = ?, reported_at = ?
		WHERE id = ? AND reported = 0
	`)
	prepare(&s.markFailed, `
		UPDATE blocked_requests
		SET report_failures = report_failures + 1, report_status = ?, report_response = ?
		WHERE id = ? AND reported = 0
	`)
	prepare(&s.exists, `SELECT COUNT(*) FROM blocked_requests WHERE id = ?`)
	prepare(&s.deleteReported, `DELETE FROM blocked_requests WHERE reported = 1 AND timestamp < ?`)
	prepare(&s.countReported, `SELECT COUNT(*) FROM blocked_requests WHERE reported = 1 AND timestamp < ?`)
	prepare(&s.statistics, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN reported = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN reported = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN reported = 0 AND report_failures > 0 THEN 1 ELSE 0 END), 0)
		FROM blocked_requests
	`)

	return err
}

// Path returns the file the store was initialized with.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Insert stores a single record and returns the id assigned to it. The
// caller's Record is not modified.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	res, err := s.insert.ExecContext(ctx, insertArgs(rec)...)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// BulkInsert stores recs in one transaction. If any row fails the whole
// transaction is rolled back and nothing is persisted. An empty slice is a
// no-op.
func (s *SQLiteStore) BulkInsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.insert)
	for i, rec := range recs {
		if _, err := stmt.ExecContext(ctx, insertArgs(rec)...); err != nil {
			return fmt.Errorf("insert record %d of %d: %w", i+1, len(recs), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertArgs(rec Record) []any {
	return []any{rec.URL, rec.Host, rec.Reason, rec.Timestamp, rec.Reported, rec.SourceID, rec.TabID}
}

// QueryUnreported returns up to limit unreported records, oldest first.
func (s *SQLiteStore) QueryUnreported(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultUnreportedLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.selectUnreported.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query unreported: %w", err)
	}
	return scanRecords(rows)
}

// QueryAll returns up to limit records, newest first.
func (s *SQLiteStore) QueryAll(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultQueryAllLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.selectAll.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	return scanRecords(rows)
}

// scanRecords drains rows into a slice. It never returns a nil slice on
// success.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.URL, &r.Host, &r.Reason, &r.Timestamp, &r.Reported,
			&r.SourceID, &r.TabID, &r.ReportStatus, &r.ReportResponse,
			&r.ReportedAt, &r.ReportFailures,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkReported flips the reported flag on and stores the acknowledgment.
// Marking an already reported record succeeds without touching it.
func (s *SQLiteStore) MarkReported(ctx context.Context, id int64, ack Ack) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	res, err := s.markReported.ExecContext(ctx, ack.StatusCode, ack.Response, s.clock.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark reported: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

// MarkFailed records a failed delivery attempt on an unreported record. It
// never changes the reported flag; on a reported record it does nothing.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, ack Ack) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrNotInitialized
	}

	res, err := s.markFailed.ExecContext(ctx, ack.StatusCode, ack.Response, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

// checkAffected tells "already reported" apart from "no such id" when an
// acknowledgment update matched no rows. Callers hold s.mu.
func (s *SQLiteStore) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.exists.QueryRowContext(ctx, id).Scan(&count); err != nil {
		return fmt.Errorf("lookup record %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

// cutoff returns the timestamp before which reported rows are expired.
func (s *SQLiteStore) cutoff(olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays must be >= 0, got %d", olderThanDays)
	}
	if int64(olderThanDays) > MaxRetentionDays {
		return 0, fmt.Errorf("olderThanDays must be <= %d, got %d", MaxRetentionDays, olderThanDays)
	}
	return s.clock.Now().UnixMilli() - int64(olderThanDays)*millisPerDay, nil
}

// DeleteReported permanently removes reported records whose timestamp is
// more than olderThanDays days old. Unreported records are never deleted.
// It returns the number of rows removed.
func (s *SQLiteStore) DeleteReported(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff, err := s.cutoff(olderThanDays)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	res, err := s.deleteReported.ExecContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete reported: %w", err)
	}
	return res.RowsAffected()
}

// CountReportedOlderThan reports how many rows DeleteReported would remove.
func (s *SQLiteStore) CountReportedOlderThan(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff, err := s.cutoff(olderThanDays)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrNotInitialized
	}

	var n int64
	if err := s.countReported.QueryRowContext(ctx, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reported: %w", err)
	}
	return n, nil
}

// Statistics counts total, unreported, reported and failed rows in one query.
func (s *SQLiteStore) Statistics(ctx context.Context) (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Statistics{}, ErrNotInitialized
	}

	var st Statistics
	if err := s.statistics.QueryRowContext(ctx).Scan(&st.Total, &st.Unreported, &st.Reported, &st.Failed); err != nil {
		return Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	return st, nil
}

// Close releases prepared statements and the database handle. It is safe to
// call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.closeLocked()
	log.Info(map[string]any{"path": s.path}, "record store closed")
	return err
}

func (s *SQLiteStore) closeLocked() error {
	stmts := []**sql.Stmt{
		&s.insert, &s.selectUnreported, &s.selectAll, &s.markReported,
		&s.markFailed, &s.exists, &s.deleteReported, &s.countReported, &s.statistics,
	}
	for _, stmt := range stmts {
		if *stmt != nil {
			(*stmt).Close()
			*stmt = nil
		}
	}

	err := s.db.Close()
	s.db = nil
	return err
}
