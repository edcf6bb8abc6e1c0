package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeworked/timeworked/internal/model"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMemorySessionRepository_CreateAndFind(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, model.CreateSessionParams{
		ID:        "s-1",
		SubjectID: "demo-user",
		StartedAt: baseTime,
	})
	require.NoError(t, err)
	assert.True(t, created.IsOpen())
	assert.Equal(t, int64(0), created.DurationSeconds)

	t.Run("finds by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "demo-user", found.SubjectID)
		assert.Equal(t, baseTime, found.StartedAt)
	})

	t.Run("returns nil for unknown id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		_, err := repo.Create(ctx, model.CreateSessionParams{ID: "s-1", SubjectID: "other", StartedAt: baseTime})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		found, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		found.SubjectID = "mutated"

		again, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, "demo-user", again.SubjectID)
	})
}

func TestMemorySessionRepository_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("closes open session", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		_, err := repo.Create(ctx, model.CreateSessionParams{ID: "s-1", SubjectID: "u", StartedAt: baseTime})
		require.NoError(t, err)

		closed, err := repo.Close(ctx, model.StopSessionParams{ID: "s-1", EndedAt: baseTime.Add(125 * time.Second)})
		require.NoError(t, err)
		assert.False(t, closed.IsOpen())
		assert.Equal(t, int64(125), closed.DurationSeconds)

		stored, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, closed, stored)
	})

	t.Run("unknown id", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		_, err := repo.Close(ctx, model.StopSessionParams{ID: "nope", EndedAt: baseTime})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("second close is rejected and leaves record untouched", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		_, err := repo.Create(ctx, model.CreateSessionParams{ID: "s-1", SubjectID: "u", StartedAt: baseTime})
		require.NoError(t, err)
		_, err = repo.Close(ctx, model.StopSessionParams{ID: "s-1", EndedAt: baseTime.Add(10 * time.Second)})
		require.NoError(t, err)

		_, err = repo.Close(ctx, model.StopSessionParams{ID: "s-1", EndedAt: baseTime.Add(99 * time.Second)})
		assert.ErrorIs(t, err, ErrSessionClosed)

		stored, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), stored.DurationSeconds)
	})

	t.Run("concurrent closes succeed exactly once", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		_, err := repo.Create(ctx, model.CreateSessionParams{ID: "s-1", SubjectID: "u", StartedAt: baseTime})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Close(ctx, model.StopSessionParams{ID: "s-1", EndedAt: baseTime.Add(time.Duration(i) * time.Second)})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := repo.Close(cctx, model.StopSessionParams{ID: "s-1", EndedAt: baseTime})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemorySessionRepository_List(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	for i, subject := range []string{"alice", "bob", "alice", "carol"} {
		_, err := repo.Create(ctx, model.CreateSessionParams{
			ID:        fmt.Sprintf("s-%d", i),
			SubjectID: subject,
			StartedAt: baseTime.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	t.Run("lists all sessions newest first", func(t *testing.T) {
		sessions, err := repo.List(ctx, model.SessionFilter{})
		require.NoError(t, err)
		require.Len(t, sessions, 4)
		assert.Equal(t, "s-3", sessions[0].ID)
		assert.Equal(t, "s-0", sessions[3].ID)
	})

	t.Run("filters by subject", func(t *testing.T) {
		sessions, err := repo.List(ctx, model.SessionFilter{SubjectID: "alice"})
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "s-2", sessions[0].ID)
		assert.Equal(t, "s-0", sessions[1].ID)
	})

	t.Run("equal start times keep latest insertion first", func(t *testing.T) {
		repo := NewMemorySessionRepository()
		for _, id := range []string{"a", "b"} {
			_, err := repo.Create(ctx, model.CreateSessionParams{ID: id, SubjectID: "u", StartedAt: baseTime})
			require.NoError(t, err)
		}

		sessions, err := repo.List(ctx, model.SessionFilter{})
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "b", sessions[0].ID)
	})

	t.Run("unknown subject yields empty slice", func(t *testing.T) {
		sessions, err := repo.List(ctx, model.SessionFilter{SubjectID: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, sessions)
		assert.Empty(t, sessions)
	})
}

func TestMemorySessionRepository_CountOpen(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := repo.Create(ctx, model.CreateSessionParams{
			ID:        fmt.Sprintf("s-%d", i),
			SubjectID: "u",
			StartedAt: baseTime,
		})
		require.NoError(t, err)
	}
	_, err := repo.Close(ctx, model.StopSessionParams{ID: "s-2", EndedAt: baseTime.Add(time.Minute)})
	require.NoError(t, err)

	count, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
