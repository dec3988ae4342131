package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type entry struct {
		Code    string `json:"code"`
		Display string `json:"display"`
	}

	require.NoError(t, c.Set(ctx, "vocab:namaste:AYU-001", entry{Code: "AYU-001", Display: "Sandhigata Vata"}, time.Minute))

	var got entry
	require.NoError(t, c.Get(ctx, "vocab:namaste:AYU-001", &got))
	assert.Equal(t, "Sandhigata Vata", got.Display)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var dest string
	err := c.Get(context.Background(), "absent", &dest)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetExpired(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "token", "abc", time.Second))
	mr.FastForward(2 * time.Second)

	var dest string
	assert.ErrorIs(t, c.Get(ctx, "token", &dest), ErrMiss)
}

func TestGetOrRefreshStringCachesValue(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	refresh := func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "fresh-token", time.Minute, nil
	}

	got, err := c.GetOrRefreshString(ctx, "icd11:access_token", refresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got)

	// Second read hits the cache, not the refresher.
	got, err = c.GetOrRefreshString(ctx, "icd11:access_token", refresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", got)
	assert.Equal(t, 1, calls)
}

func TestGetOrRefreshStringHonorsReportedTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	refresh := func(ctx context.Context) (string, time.Duration, error) {
		calls++
		return "short-lived", time.Second, nil
	}

	_, err := c.GetOrRefreshString(ctx, "icd11:access_token", refresh)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = c.GetOrRefreshString(ctx, "icd11:access_token", refresh)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired value must trigger a second refresh")
}

func TestGetOrRefreshStringRefreshError(t *testing.T) {
	c, _ := newTestCache(t)

	boom := errors.New("token endpoint down")
	_, err := c.GetOrRefreshString(context.Background(), "icd11:access_token",
		func(ctx context.Context) (string, time.Duration, error) { return "", 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestGetOrRefreshStringSingleFlight(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	refresh := func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "shared-token", time.Minute, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrRefreshString(ctx, "icd11:access_token", refresh)
			assert.NoError(t, err)
			assert.Equal(t, "shared-token", got)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
