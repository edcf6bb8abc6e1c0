package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/metrics"
	"github.com/timeworked/timeworked/internal/model"
	"github.com/timeworked/timeworked/internal/repository"
	"github.com/timeworked/timeworked/internal/sse"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) List(ctx context.Context, filter model.SessionFilter) ([]model.Session, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionRepo) Close(ctx context.Context, params model.StopSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) CountOpen(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subjectID string, event sse.Event) error {
	return m.Called(ctx, subjectID, event).Error(0)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(repo repository.SessionRepository, pub EventPublisher, clock clockwork.Clock) (*SessionService, *metrics.SessionMetrics) {
	m := metrics.NewNopSessionMetrics()
	ids := 0
	svc := NewSessionService(repo, pub, m,
		WithClock(clock),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		}),
	)
	return svc, m
}

func TestSessionService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("creates open session at current time", func(t *testing.T) {
		repo := new(mockSessionRepo)
		pub := new(mockPublisher)
		clock := clockwork.NewFakeClockAt(t0)
		svc, m := newTestService(repo, pub, clock)

		expected := &model.Session{ID: "session-1", SubjectID: "demo-user", StartedAt: t0}
		repo.On("Create", ctx, model.CreateSessionParams{ID: "session-1", SubjectID: "demo-user", StartedAt: t0}).
			Return(expected, nil)
		pub.On("Publish", ctx, "demo-user", mock.MatchedBy(func(e sse.Event) bool {
			return e.Type == string(model.SessionEventStarted)
		})).Return(nil)

		session, err := svc.Start(ctx, "  demo-user ")

		require.NoError(t, err)
		assert.Equal(t, expected, session)
		assert.True(t, session.IsOpen())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Started))
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("requires subject", func(t *testing.T) {
		repo := new(mockSessionRepo)
		svc, _ := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))

		_, err := svc.Start(ctx, "   ")

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects subject with control characters", func(t *testing.T) {
		repo := new(mockSessionRepo)
		svc, _ := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))

		_, err := svc.Start(ctx, "demo\x00user")

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("storage failure surfaces StorageUnavailable", func(t *testing.T) {
		repo := new(mockSessionRepo)
		svc, m := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))
		repo.On("Create", ctx, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := svc.Start(ctx, "demo-user")

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorageUnavailable))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Errors.WithLabelValues("start", "STORAGE_UNAVAILABLE")))
	})

	t.Run("publish failure does not fail start", func(t *testing.T) {
		repo := new(mockSessionRepo)
		pub := new(mockPublisher)
		svc, _ := newTestService(repo, pub, clockwork.NewFakeClockAt(t0))
		repo.On("Create", ctx, mock.Anything).Return(&model.Session{ID: "session-1", SubjectID: "u", StartedAt: t0}, nil)
		pub.On("Publish", ctx, "u", mock.Anything).Return(errors.New("redis down"))

		session, err := svc.Start(ctx, "u")

		require.NoError(t, err)
		assert.Equal(t, "session-1", session.ID)
	})
}

func TestSessionService_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("uses server time when endedAt is absent", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		clock := clockwork.NewFakeClockAt(t0)
		svc, m := newTestService(repo, nil, clock)

		started, err := svc.Start(ctx, "demo-user")
		require.NoError(t, err)

		clock.Advance(125 * time.Second)
		stopped, err := svc.Stop(ctx, started.ID, nil)

		require.NoError(t, err)
		assert.Equal(t, int64(125), stopped.DurationSeconds)
		require.NotNil(t, stopped.EndedAt)
		assert.Equal(t, t0.Add(125*time.Second), *stopped.EndedAt)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Stopped))
	})

	t.Run("uses caller supplied endedAt", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		clock := clockwork.NewFakeClockAt(t0)
		svc, _ := newTestService(repo, nil, clock)

		started, err := svc.Start(ctx, "demo-user")
		require.NoError(t, err)

		clock.Advance(time.Hour)
		endedAt := t0.Add(90*time.Second + 700*time.Millisecond)
		stopped, err := svc.Stop(ctx, started.ID, &endedAt)

		require.NoError(t, err)
		assert.Equal(t, int64(90), stopped.DurationSeconds)
	})

	t.Run("clamps endedAt before startedAt to zero", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		svc, _ := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))

		started, err := svc.Start(ctx, "demo-user")
		require.NoError(t, err)

		endedAt := t0.Add(-10 * time.Minute)
		stopped, err := svc.Stop(ctx, started.ID, &endedAt)

		require.NoError(t, err)
		assert.Equal(t, int64(0), stopped.DurationSeconds)
		assert.False(t, stopped.IsOpen())
	})

	t.Run("unknown id is NotFound", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		svc, m := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))

		_, err := svc.Stop(ctx, "does-not-exist", nil)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Errors.WithLabelValues("stop", "NOT_FOUND")))
	})

	t.Run("double stop is AlreadyClosed and keeps first duration", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		clock := clockwork.NewFakeClockAt(t0)
		svc, _ := newTestService(repo, nil, clock)

		started, err := svc.Start(ctx, "demo-user")
		require.NoError(t, err)
		clock.Advance(30 * time.Second)
		_, err = svc.Stop(ctx, started.ID, nil)
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		_, err = svc.Stop(ctx, started.ID, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyClosed))

		stored, err := svc.Get(ctx, started.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(30), stored.DurationSeconds)
	})

	t.Run("storage failure surfaces StorageUnavailable", func(t *testing.T) {
		repo := new(mockSessionRepo)
		svc, _ := newTestService(repo, nil, clockwork.NewFakeClockAt(t0))
		repo.On("Close", ctx, model.StopSessionParams{ID: "s-1", EndedAt: t0}).Return(nil, errors.New("deadlock detected"))

		_, err := svc.Stop(ctx, "s-1", nil)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorageUnavailable))
	})

	t.Run("requires id", func(t *testing.T) {
		svc, _ := newTestService(repository.NewMemorySessionRepository(), nil, clockwork.NewFakeClockAt(t0))

		_, err := svc.Stop(ctx, "", nil)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})

	t.Run("publishes stopped event", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		pub := new(mockPublisher)
		svc, _ := newTestService(repo, pub, clockwork.NewFakeClockAt(t0))
		pub.On("Publish", ctx, "demo-user", mock.Anything).Return(nil)

		started, err := svc.Start(ctx, "demo-user")
		require.NoError(t, err)
		_, err = svc.Stop(ctx, started.ID, nil)
		require.NoError(t, err)

		pub.AssertNumberOfCalls(t, "Publish", 2)
		last := pub.Calls[1].Arguments.Get(2).(sse.Event)
		assert.Equal(t, string(model.SessionEventStopped), last.Type)
		assert.Contains(t, string(last.Data), started.ID)
	})
}

func TestSessionService_GetAndList(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySessionRepository()
	clock := clockwork.NewFakeClockAt(t0)
	svc, _ := newTestService(repo, nil, clock)

	a, err := svc.Start(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	b, err := svc.Start(ctx, "bob")
	require.NoError(t, err)

	t.Run("open sessions for different subjects coexist", func(t *testing.T) {
		all, err := svc.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID)
		assert.True(t, all[0].IsOpen())
		assert.True(t, all[1].IsOpen())
	})

	t.Run("filters by subject", func(t *testing.T) {
		sessions, err := svc.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, a.ID, sessions[0].ID)
	})

	t.Run("get unknown is NotFound", func(t *testing.T) {
		_, err := svc.Get(ctx, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("list storage failure", func(t *testing.T) {
		mrepo := new(mockSessionRepo)
		msvc, _ := newTestService(mrepo, nil, clock)
		mrepo.On("List", ctx, model.SessionFilter{}).Return(nil, errors.New("timeout"))

		_, err := msvc.List(ctx, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStorageUnavailable))
	})
}
