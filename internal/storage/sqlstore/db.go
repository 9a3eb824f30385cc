package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store is the relational backend for profiles, credit transactions,
// verdict requests and verdict responses. The same schema and queries run
// on SQLite and Postgres; queries are written with ? placeholders and
// rebound for Postgres.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and applies the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// A single writer connection keeps SQLite transactions serialised.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// InitDB opens a SQLite store at path.
func InitDB(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() string { return s.driver }

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id            TEXT PRIMARY KEY,
		display_name       TEXT NOT NULL DEFAULT '',
		email              TEXT NOT NULL DEFAULT '',
		credits            INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		is_judge           BOOLEAN NOT NULL DEFAULT FALSE,
		judge_qualified_at TIMESTAMP NULL,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES profiles(user_id),
		delta         INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS verdict_requests (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL REFERENCES profiles(user_id),
		category               TEXT NOT NULL CHECK (category IN ('appearance', 'profile', 'writing', 'decision')),
		subcategory            TEXT NOT NULL DEFAULT '',
		media_type             TEXT NOT NULL CHECK (media_type IN ('photo', 'text', 'audio')),
		media_url              TEXT NULL,
		text_content           TEXT NULL,
		context                TEXT NOT NULL DEFAULT '',
		requested_tone         TEXT NOT NULL,
		request_tier           TEXT NOT NULL,
		target_verdict_count   INTEGER NOT NULL CHECK (target_verdict_count > 0),
		received_verdict_count INTEGER NOT NULL DEFAULT 0
			CHECK (received_verdict_count >= 0 AND received_verdict_count <= target_verdict_count),
		status                 TEXT NOT NULL CHECK (status IN ('open', 'in_progress', 'closed', 'cancelled')),
		credits_charged        INTEGER NOT NULL DEFAULT 0,
		created_at             TIMESTAMP NOT NULL,
		updated_at             TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verdict_requests_user ON verdict_requests(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_verdict_requests_status ON verdict_requests(status)`,
	`CREATE TABLE IF NOT EXISTS verdict_responses (
		id         TEXT PRIMARY KEY,
		request_id TEXT NOT NULL REFERENCES verdict_requests(id),
		judge_id   TEXT NOT NULL,
		rating     INTEGER NULL,
		feedback   TEXT NOT NULL DEFAULT '',
		tone       TEXT NOT NULL,
		voice_url  TEXT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (request_id, judge_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verdict_responses_judge ON verdict_responses(judge_id)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// q adapts a ?-placeholder query to the active driver.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
