package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-occurrences/internal/domain/occurrence"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Sequence) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSequence(client)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "occurrences:protocol:tenant-1:2025", Key("tenant-1/2025"))
}

func TestNextProtocolNumber_IncrementsPerScope(t *testing.T) {
	mr, seq := setupTestRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := seq.NextProtocolNumber(ctx, "t1/2025")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := seq.NextProtocolNumber(ctx, "t2/2025")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v, err := mr.Get(Key("t1/2025"))
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestNextProtocolNumber_ContinuesFromSeed(t *testing.T) {
	mr, seq := setupTestRedis(t)
	require.NoError(t, mr.Set(Key("t1/2025"), "41"))

	n, err := seq.NextProtocolNumber(context.Background(), "t1/2025")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestNextProtocolNumber_Concurrent(t *testing.T) {
	_, seq := setupTestRedis(t)

	const n = 50
	var wg sync.WaitGroup
	got := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.NextProtocolNumber(context.Background(), "t1/2025")
			if assert.NoError(t, err) {
				got <- v
			}
		}()
	}
	wg.Wait()
	close(got)

	seen := map[int64]bool{}
	for v := range got {
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestNextProtocolNumber_Unavailable(t *testing.T) {
	mr, seq := setupTestRedis(t)
	mr.Close()

	_, err := seq.NextProtocolNumber(context.Background(), "t1/2025")
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)

	var nilSeq *Sequence
	_, err = nilSeq.NextProtocolNumber(context.Background(), "t1/2025")
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)

	_, err = NewSequence(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})).NextProtocolNumber(context.Background(), " ")
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, c)

	mr := miniredis.RunT(t)
	c, err = NewClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, c)
	_ = c.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}
