package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/timeworked/timeworked/internal/database"
	"github.com/timeworked/timeworked/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already closed")
	ErrDuplicateID     = errors.New("session id already exists")
)

type SessionRepository interface {
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	FindByID(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error)
	// Close sets endedAt and durationSeconds of an open session in one atomic
	// step. It returns ErrSessionNotFound or ErrSessionClosed without writing.
	Close(ctx context.Context, params model.StopSessionParams) (*model.Session, error)
	CountOpen(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

const sessionColumns = `id, subject_id, started_at, ended_at, duration_seconds`

type sessionRepo struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (id, subject_id, started_at, ended_at, duration_seconds)
		VALUES ($1, $2, $3, NULL, 0)
		RETURNING `+sessionColumns, params.ID, params.SubjectID, params.StartedAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE ($1 = '' OR subject_id = $1)
		ORDER BY started_at DESC, seq DESC
	`, filter.SubjectID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) Close(ctx context.Context, params model.StopSessionParams) (*model.Session, error) {
	var closed model.Session
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &closed, `
			SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE
		`, params.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}

		if !closed.IsOpen() {
			return ErrSessionClosed
		}

		closed.Close(params.EndedAt)

		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET
				ended_at = $2,
				duration_seconds = $3
			WHERE id = $1
		`, closed.ID, closed.EndedAt, closed.DurationSeconds)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

func (r *sessionRepo) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL`)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *sessionRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
