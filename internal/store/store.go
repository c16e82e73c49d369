package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Driver names a supported database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Store struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open opens a database for the given driver and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "cbtportal.db"
		}
		dsn = withSQLitePragmas(dsn)
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/cbtportal?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection: in-memory databases are per connection, and SQLite
		// serializes writers anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func withSQLitePragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// notFound converts sql.ErrNoRows into a model not-found error.
func notFound(err error, notFoundErr error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}
	return err
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeStrings(raw string) ([]string, error) {
	var out []string
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	admission_number TEXT UNIQUE,
	class_level TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	duration INTEGER NOT NULL,
	total_marks INTEGER NOT NULL DEFAULT 0,
	passing_marks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'DRAFT',
	start_time TIMESTAMP,
	end_time TIMESTAMP,
	assigned_to TEXT NOT NULL DEFAULT '[]',
	created_by_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	question TEXT NOT NULL,
	options TEXT NOT NULL DEFAULT '[]',
	correct_answer TEXT NOT NULL DEFAULT '',
	marks INTEGER NOT NULL,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	started_at TIMESTAMP NOT NULL,
	submitted_at TIMESTAMP,
	total_score REAL,
	percentage REAL,
	passed BOOLEAN,
	UNIQUE (exam_id, student_id)
);

CREATE TABLE IF NOT EXISTS answers (
	id TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	answer TEXT NOT NULL,
	is_correct BOOLEAN,
	marks REAL,
	UNIQUE (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS uploads (
	hash TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id, position);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	admission_number TEXT UNIQUE,
	class_level TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	duration INTEGER NOT NULL,
	total_marks INTEGER NOT NULL DEFAULT 0,
	passing_marks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'DRAFT',
	start_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	assigned_to TEXT NOT NULL DEFAULT '[]',
	created_by_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	question TEXT NOT NULL,
	options TEXT NOT NULL DEFAULT '[]',
	correct_answer TEXT NOT NULL DEFAULT '',
	marks INTEGER NOT NULL,
	position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	student_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	started_at TIMESTAMPTZ NOT NULL,
	submitted_at TIMESTAMPTZ,
	total_score DOUBLE PRECISION,
	percentage DOUBLE PRECISION,
	passed BOOLEAN,
	UNIQUE (exam_id, student_id)
);

CREATE TABLE IF NOT EXISTS answers (
	id TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	answer TEXT NOT NULL,
	is_correct BOOLEAN,
	marks DOUBLE PRECISION,
	UNIQUE (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS uploads (
	hash TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id, position);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
`
