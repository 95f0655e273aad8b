package redis

import (
	"context"
	"testing"

	"authsvc/internal/storage/storagetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "test"), mr
}

func TestStorage(t *testing.T) {
	s, _ := newTestStorage(t)

	storagetest.Run(t, s, uuid.NewString)
}

func TestSaveUser_WritesIndexes(t *testing.T) {
	s, mr := newTestStorage(t)
	u := storagetest.FakeUser()

	id, err := s.SaveUser(context.Background(), u)
	require.NoError(t, err)

	byName, err := mr.Get("test:username:" + u.Username)
	require.NoError(t, err)
	assert.Equal(t, id, byName)

	byEmail, err := mr.Get("test:email:" + u.Email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail)

	assert.True(t, mr.Exists("test:user:"+id))
	assert.Empty(t, mr.HGet("test:user:"+id, fieldRefreshToken))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Connect(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
