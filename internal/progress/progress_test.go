package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestState_JSON(t *testing.T) {
	data, err := json.Marshal(Done(false, "other", 0))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"DONE","has_event":false,"inferred_domain":"other","events_found":0}`, string(data))

	data, err = json.Marshal(Processing(2, "fine"))
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"PROCESSING","stage":2,"stage_name":"fine"}`, string(data))
}

func TestState_Equal(t *testing.T) {
	require.True(t, Done(true, "traffic", 2).Equal(Done(true, "traffic", 2)))
	require.False(t, Done(true, "traffic", 2).Equal(Done(true, "traffic", 3)))
	require.False(t, Processing(1, "coarse").Equal(Processing(2, "fine")))
	require.False(t, Pending().Equal(Done(false, "", 0)))
}

func TestMemoryStore_UnknownKeyIsPending(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	st, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Equal(t, Pending(), st)
}

func TestMemoryStore_OverwritesWithoutMerging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	require.NoError(t, s.Set(ctx, "k", Processing(3, "local")))
	require.NoError(t, s.Set(ctx, "k", State{Status: StatusProcessing}))

	st, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, st.Stage)
	require.Empty(t, st.StageName)
}

func TestMemoryStore_TerminalIsSticky(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	require.NoError(t, s.Set(ctx, "k", Processing(1, "coarse")))
	require.NoError(t, s.Set(ctx, "k", Done(true, "traffic", 1)))

	require.ErrorIs(t, s.Set(ctx, "k", Processing(2, "fine")), ErrTerminalState)
	require.ErrorIs(t, s.Set(ctx, "k", Failed("late")), ErrTerminalState)

	st, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, StatusDone, st.Status)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Set(ctx, "k", Processing(1, "coarse")))
}

func TestMemoryStore_TerminalExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "done", Done(false, "other", 0)))
	require.NoError(t, s.Set(ctx, "live", Processing(1, "coarse")))

	now = now.Add(59 * time.Second)
	st, _ := s.Get(ctx, "done")
	require.Equal(t, StatusDone, st.Status)

	now = now.Add(2 * time.Second)
	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())

	st, _ = s.Get(ctx, "done")
	require.Equal(t, StatusPending, st.Status)
	st, _ = s.Get(ctx, "live")
	require.Equal(t, StatusProcessing, st.Status)
}

func TestMemoryStore_LazyEvictionAllowsReuse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Second)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", Failed("boom")))
	now = now.Add(time.Second)
	require.NoError(t, s.Set(ctx, "k", Processing(1, "coarse")))
}

func TestMemoryStore_ConcurrentWritersNeverLeaveTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	require.NoError(t, s.Set(ctx, "k", Done(true, "violence", 1)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, "k", Processing(i%3+1, "stage"))
		}(i)
	}
	wg.Wait()

	st, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, StatusDone, st.Status)
}

func TestRedisStore_TTLFor(t *testing.T) {
	s := NewRedisStore(nil, 10*time.Minute)
	require.Equal(t, 10*time.Minute, s.ttlFor(Done(true, "traffic", 1)))
	require.Equal(t, 10*time.Minute, s.ttlFor(Failed("x")))
	require.Equal(t, DefaultLiveTTL, s.ttlFor(Processing(1, "coarse")))
}

func TestConnect_AcceptsURLAndAddr(t *testing.T) {
	c, err := Connect("redis://localhost:6379/2")
	require.NoError(t, err)
	require.Equal(t, 2, c.Options().DB)
	c.Close()

	c, err = Connect("localhost:6380")
	require.NoError(t, err)
	require.Equal(t, "localhost:6380", c.Options().Addr)
	c.Close()

	_, err = Connect("redis://localhost:6379/notanumber")
	require.Error(t, err)
}

// TestRedisStore_RoundTrip runs against a real server when SIGMA_TEST_REDIS_URL is set.
func TestRedisStore_RoundTrip(t *testing.T) {
	url := os.Getenv("SIGMA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SIGMA_TEST_REDIS_URL not set")
	}
	client, err := Connect(url)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, time.Minute)
	require.NoError(t, s.Ping(ctx))

	key := fmt.Sprintf("test-%s", uuid.NewString())
	defer s.Delete(ctx, key)

	st, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, Pending(), st)

	require.NoError(t, s.Set(ctx, key, Processing(2, "fine")))
	st, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, st.Equal(Processing(2, "fine")))

	require.NoError(t, s.Set(ctx, key, Done(true, "traffic", 3)))
	require.ErrorIs(t, s.Set(ctx, key, Processing(3, "local")), ErrTerminalState)

	ttl, err := client.PTTL(ctx, redisKeyPrefix+key).Result()
	require.NoError(t, err)
	require.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Set(ctx, key, Processing(1, "coarse")))
}
