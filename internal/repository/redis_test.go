package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/snaplink/internal/repository"
)

func newMiniredisStore(t *testing.T) (*repository.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := repository.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newMiniredisStore(t)
	runStoreContract(t, store)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	link := newLink("machine-1", "https://example.com/layout", time.Now())
	require.NoError(t, store.Create(ctx, link))

	assert.Equal(t, link.OriginalURL, mr.HGet("link:"+link.ShortID, "originalUrl"))
	assert.Equal(t, "0", mr.HGet("link:"+link.ShortID, "visitCount"))
	assert.Equal(t, link.ShortID, mr.HGet("machine:machine-1:urls", link.OriginalURL))

	members, err := mr.ZMembers("machine:machine-1:links")
	require.NoError(t, err)
	assert.Equal(t, []string{link.ShortID}, members)
}

func TestRedisStore_PingFailsWhenServerDown(t *testing.T) {
	store, mr := newMiniredisStore(t)
	mr.Close()

	assert.Error(t, store.Ping(context.Background()))
}
