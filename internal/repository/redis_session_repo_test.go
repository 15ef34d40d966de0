package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ballotgate/internal/model"
)

func newTestRedisRepo(t *testing.T) (*RedisSessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionRepo(client, ""), mr
}

func TestRedisSessionRepo_SaveAndFind(t *testing.T) {
	repo, mr := newTestRedisRepo(t)
	ctx := context.Background()

	s := newTestSession("s1", time.Now().Add(time.Hour))
	s.Profile = &model.Profile{ID: "abc", Name: "spez", Created: 1118030400}
	require.NoError(t, repo.Save(ctx, s))

	assert.True(t, mr.Exists(DefaultRedisKeyPrefix+"s1"))
	ttl := mr.TTL(DefaultRedisKeyPrefix + "s1")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "state-s1", got.State)
	assert.Equal(t, "spez", got.Username())
	assert.Equal(t, 1118030400.0, got.Profile.CreatedEpoch())
}

func TestRedisSessionRepo_ExpiresWithTTL(t *testing.T) {
	repo, mr := newTestRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestSession("s1", time.Now().Add(time.Hour))))
	mr.FastForward(time.Hour + time.Second)

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionRepo_SaveAlreadyExpired_Deletes(t *testing.T) {
	repo, mr := newTestRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, newTestSession("s1", time.Now().Add(-time.Minute))))
	assert.False(t, mr.Exists(DefaultRedisKeyPrefix+"s1"))
}

func TestRedisSessionRepo_Delete(t *testing.T) {
	repo, _ := newTestRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newTestSession("s1", time.Now().Add(time.Hour))))
	require.NoError(t, repo.DeleteByID(ctx, "s1"))

	got, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionRepo_CorruptValue_ReturnsError(t *testing.T) {
	repo, mr := newTestRedisRepo(t)
	require.NoError(t, mr.Set(DefaultRedisKeyPrefix+"bad", "{not json"))

	_, err := repo.FindByID(context.Background(), "bad")
	assert.Error(t, err)
}

func TestRedisSessionRepo_Ping(t *testing.T) {
	repo, mr := newTestRedisRepo(t)
	require.NoError(t, repo.Ping(context.Background()))

	mr.Close()
	assert.Error(t, repo.Ping(context.Background()))
}

func TestNewRedisClient_ParsesURL(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}
