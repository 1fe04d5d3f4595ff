package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	session_id  TEXT PRIMARY KEY,
	code        INTEGER NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1,
	host        TEXT NOT NULL,
	template    TEXT NOT NULL,
	create_time INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS game_sessions_active_code ON game_sessions (code) WHERE active = 1;`

// SQLiteRepository stores sessions in a local SQLite file, for development
// and tests.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens path and applies the schema. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// An in-memory database lives as long as its only connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) InsertSession(ctx context.Context, ss domain.StoredSession) error {
	tpl, err := json.Marshal(ss.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}

	const stmt = `
INSERT INTO game_sessions (session_id, code, active, host, template, create_time)
VALUES (?, ?, ?, ?, ?, ?);`

	_, err = r.db.ExecContext(ctx, stmt, ss.SessionID, int64(ss.Code), ss.Active, ss.Host, string(tpl), ss.CreateTime.UTC().UnixMilli())
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}

	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, sessionID string) (*domain.StoredSession, error) {
	const stmt = `
SELECT session_id, code, active, host, template, create_time
FROM game_sessions
WHERE session_id = ?;`

	ss, err := scanSQLiteSession(r.db.QueryRowContext(ctx, stmt, sessionID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, sessionNotFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return ss, nil
}

func (r *SQLiteRepository) DeactivateSession(ctx context.Context, sessionID string) (*domain.StoredSession, bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE game_sessions SET active = 0 WHERE session_id = ? AND active = 1;`, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("deactivate session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("deactivate session: %w", err)
	}

	ss, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	return ss, n > 0, nil
}

func scanSQLiteSession(row *sql.Row) (*domain.StoredSession, error) {
	var (
		ss      domain.StoredSession
		code    int64
		tpl     string
		created int64
	)

	if err := row.Scan(&ss.SessionID, &code, &ss.Active, &ss.Host, &tpl, &created); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tpl), &ss.Template); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	ss.Code = uint32(code)
	ss.CreateTime = time.UnixMilli(created).UTC()

	return &ss, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !stderrors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}

	return false
}
