package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ballotgate/internal/model"
)

func newTestSession(id string, expiresAt time.Time) *model.Session {
	return &model.Session{
		ID:        id,
		State:     "state-" + id,
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-time.Hour),
		UpdatedAt: expiresAt.Add(-time.Hour),
	}
}

func TestMemorySessionRepo_SaveAndFind(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	s := newTestSession("s1", time.Now().Add(time.Hour))
	s.Profile = &model.Profile{Name: "spez", Created: 1}
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "state-s1", got.State)
	assert.Equal(t, "spez", got.Username())

	// 取得結果を書き換えても保存済みの値は変わらない
	got.Profile.Name = "mutated"
	again, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "spez", again.Username())
}

func TestMemorySessionRepo_FindMissing_ReturnsNil(t *testing.T) {
	repo := NewMemorySessionRepo()
	got, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemorySessionRepo_Expired_ReturnsNilAndIsDeleted(t *testing.T) {
	repo := NewMemorySessionRepo()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestSession("old", now.Add(-time.Second))))
	require.NoError(t, repo.Save(ctx, newTestSession("fresh", now.Add(time.Hour))))

	got, err := repo.FindByID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, repo.Len())
}

func TestMemorySessionRepo_Delete(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, repo.DeleteByID(ctx, "s1"))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemorySessionRepo_ConcurrentAccess(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = repo.Save(ctx, newTestSession(id, time.Now().Add(time.Hour)))
			_, _ = repo.FindByID(ctx, id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 26, repo.Len())
}
