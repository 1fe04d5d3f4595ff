package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/gudritis/internal/domain"
	"github.com/victornm/gudritis/internal/errors"
)

const codeUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	session_id  UUID PRIMARY KEY,
	code        INTEGER NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	host        TEXT NOT NULL,
	template    JSONB NOT NULL,
	create_time TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS game_sessions_active_code ON game_sessions (code) WHERE active;`

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the session table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, postgresSchema)
	return err
}

func (r *PostgresRepository) InsertSession(ctx context.Context, ss domain.StoredSession) error {
	tpl, err := json.Marshal(ss.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}

	const stmt = `
INSERT INTO game_sessions (session_id, code, active, host, template, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err = r.db.Exec(ctx, stmt, ss.SessionID, int64(ss.Code), ss.Active, ss.Host, tpl, ss.CreateTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}

	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*domain.StoredSession, error) {
	const stmt = `
SELECT session_id::text, code, active, host, template, create_time
FROM game_sessions
WHERE session_id::text = $1;`

	ss, err := scanPostgresSession(r.db.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, sessionNotFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return ss, nil
}

func (r *PostgresRepository) DeactivateSession(ctx context.Context, sessionID string) (*domain.StoredSession, bool, error) {
	const stmt = `
UPDATE game_sessions SET active = FALSE
WHERE session_id::text = $1 AND active
RETURNING session_id::text, code, active, host, template, create_time;`

	ss, err := scanPostgresSession(r.db.QueryRow(ctx, stmt, sessionID))
	if err == nil {
		return ss, true, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("deactivate session: %w", err)
	}

	ss, err = r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	return ss, false, nil
}

func scanPostgresSession(row pgx.Row) (*domain.StoredSession, error) {
	var (
		ss   domain.StoredSession
		code int64
		tpl  []byte
	)

	if err := row.Scan(&ss.SessionID, &code, &ss.Active, &ss.Host, &tpl, &ss.CreateTime); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tpl, &ss.Template); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	ss.Code = uint32(code)

	return &ss, nil
}

func sessionNotFound(sessionID string) error {
	return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", sessionID))
}
