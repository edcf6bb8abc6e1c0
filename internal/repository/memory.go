package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/timeworked/timeworked/internal/model"
)

// memorySessionRepo keeps sessions in process memory. Used for development
// runs and tests; records are lost on restart.
type memorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	order    []string
}

func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepo{
		sessions: make(map[string]*model.Session),
	}
}

func (r *memorySessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[params.ID]; exists {
		return nil, ErrDuplicateID
	}

	session := &model.Session{
		ID:        params.ID,
		SubjectID: params.SubjectID,
		StartedAt: params.StartedAt,
	}
	r.sessions[params.ID] = session
	r.order = append(r.order, params.ID)

	return copySession(session), nil
}

func (r *memorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(session), nil
}

func (r *memorySessionRepo) List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]model.Session, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.sessions[r.order[i]]
		if filter.SubjectID != "" && s.SubjectID != filter.SubjectID {
			continue
		}
		sessions = append(sessions, *copySession(s))
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	return sessions, nil
}

func (r *memorySessionRepo) Close(ctx context.Context, params model.StopSessionParams) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[params.ID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}

	session.Close(params.EndedAt)
	return copySession(session), nil
}

func (r *memorySessionRepo) CountOpen(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, session := range r.sessions {
		if session.IsOpen() {
			count++
		}
	}
	return count, nil
}

func (r *memorySessionRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copySession(s *model.Session) *model.Session {
	c := *s
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		c.EndedAt = &endedAt
	}
	return &c
}
