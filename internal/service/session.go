package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/metrics"
	"github.com/timeworked/timeworked/internal/model"
	"github.com/timeworked/timeworked/internal/repository"
	"github.com/timeworked/timeworked/internal/sse"
	"github.com/timeworked/timeworked/internal/util"
)

// EventPublisher delivers session lifecycle events to stream subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, subjectID string, event sse.Event) error
}

// SessionService is the authoritative owner of session records: it assigns
// ids, timestamps and durations.
type SessionService struct {
	sessionRepo repository.SessionRepository
	publisher   EventPublisher
	metrics     *metrics.SessionMetrics
	clock       clockwork.Clock
	newID       func() string
}

type SessionServiceOption func(*SessionService)

func WithClock(clock clockwork.Clock) SessionServiceOption {
	return func(s *SessionService) { s.clock = clock }
}

func WithIDGenerator(fn func() string) SessionServiceOption {
	return func(s *SessionService) { s.newID = fn }
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	publisher EventPublisher,
	m *metrics.SessionMetrics,
	opts ...SessionServiceOption,
) *SessionService {
	s := &SessionService{
		sessionRepo: sessionRepo,
		publisher:   publisher,
		metrics:     m,
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNopSessionMetrics()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new session for subjectID starting now.
func (s *SessionService) Start(ctx context.Context, subjectID string) (*model.Session, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.MissingRequired("subjectId")
	}
	if !util.IsValidSubjectID(subjectID) {
		return nil, apperrors.InvalidInput("subjectId", "must be at most 256 printable characters")
	}

	session, err := s.sessionRepo.Create(ctx, model.CreateSessionParams{
		ID:        s.newID(),
		SubjectID: subjectID,
		StartedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("subjectId", subjectID).Msg("failed to create session")
		return nil, s.fail("start", apperrors.StorageUnavailable(err))
	}

	s.metrics.Started.Inc()
	log.Info().
		Str("sessionId", session.ID).
		Str("subjectId", session.SubjectID).
		Time("startedAt", session.StartedAt).
		Msg("session started")

	s.publish(ctx, model.SessionEventStarted, session)
	return session, nil
}

// Stop closes session id at endedAt, or at the current server time when
// endedAt is nil. Stopping a closed session fails with ALREADY_CLOSED and
// leaves the stored record untouched.
func (s *SessionService) Stop(ctx context.Context, id string, endedAt *time.Time) (*model.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.MissingRequired("id")
	}

	at := s.clock.Now().UTC()
	if endedAt != nil {
		at = endedAt.UTC()
	}

	session, err := s.sessionRepo.Close(ctx, model.StopSessionParams{ID: id, EndedAt: at})
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		log.Warn().Str("sessionId", id).Msg("stop requested for unknown session")
		return nil, s.fail("stop", apperrors.NotFound("Session"))
	case errors.Is(err, repository.ErrSessionClosed):
		log.Warn().Str("sessionId", id).Msg("stop requested for closed session")
		return nil, s.fail("stop", apperrors.AlreadyClosed("Session"))
	case err != nil:
		log.Error().Err(err).Str("sessionId", id).Msg("failed to close session")
		return nil, s.fail("stop", apperrors.StorageUnavailable(err))
	}

	s.metrics.Stopped.Inc()
	s.metrics.Duration.Observe(float64(session.DurationSeconds))
	log.Info().
		Str("sessionId", session.ID).
		Str("subjectId", session.SubjectID).
		Int64("durationSeconds", session.DurationSeconds).
		Msg("session stopped")

	s.publish(ctx, model.SessionEventStopped, session)
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, s.fail("get", apperrors.StorageUnavailable(err))
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// List returns sessions newest first, restricted to subjectID when it is set.
func (s *SessionService) List(ctx context.Context, subjectID string) ([]model.Session, error) {
	sessions, err := s.sessionRepo.List(ctx, model.SessionFilter{SubjectID: strings.TrimSpace(subjectID)})
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		return nil, s.fail("list", apperrors.StorageUnavailable(err))
	}
	return sessions, nil
}

func (s *SessionService) Ping(ctx context.Context) error {
	return s.sessionRepo.Ping(ctx)
}

func (s *SessionService) fail(op string, err *apperrors.AppError) error {
	s.metrics.Errors.WithLabelValues(op, string(err.Code)).Inc()
	return err
}

func (s *SessionService) publish(ctx context.Context, eventType model.SessionEventType, session *model.Session) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal session event")
		return
	}

	if err := s.publisher.Publish(ctx, session.SubjectID, sse.Event{Type: string(eventType), Data: data}); err != nil {
		log.Warn().Err(err).
			Str("sessionId", session.ID).
			Str("event", string(eventType)).
			Msg("failed to publish session event")
	}
}
