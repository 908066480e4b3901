package cdn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMiniRedisStore starts a miniredis server for the duration of the test.
func newMiniRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "")
}

func storeBackends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"redis":  newMiniRedisStore(t),
	}
}

func TestStore_sessions(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok, "expected not found for empty store")

			start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			in := &Session{
				ID:                 "s1",
				ContentID:          "movie",
				DeviceType:         DeviceTablet,
				StartTime:          start,
				EdgeID:             "eu-west-1",
				SelectedQualityIDs: []int{0, 1, 2},
			}
			require.NoError(t, store.SetSession(ctx, in))

			got, ok, err := store.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "movie", got.ContentID)
			assert.Equal(t, DeviceTablet, got.DeviceType)
			assert.True(t, start.Equal(got.StartTime))
			assert.Equal(t, []int{0, 1, 2}, got.SelectedQualityIDs)

			// Replacing keeps the count at one.
			in.PlayedQualityIDs = []int{2}
			require.NoError(t, store.SetSession(ctx, in))
			n, err := store.CountSessions(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, _, _ = store.GetSession(ctx, "s1")
			assert.Equal(t, []int{2}, got.PlayedQualityIDs)
		})
	}
}

func TestStore_bandwidth(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.GetBandwidth(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.SetBandwidth(ctx, "s1", 1234567.25))
			bw, ok, err := store.GetBandwidth(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 1234567.25, bw)
		})
	}
}

func TestStore_events(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			require.NoError(t, store.AppendEvents(ctx,
				AnalyticsEvent{Type: EventRebuffer, SessionID: "a", ServerTime: now},
				AnalyticsEvent{Type: EventQualitySwitch, SessionID: "b", ServerTime: now, Fields: map[string]any{"toQuality": 3.0}},
				AnalyticsEvent{Type: EventRebuffer, SessionID: "a", ServerTime: now},
			))
			require.NoError(t, store.AppendEvents(ctx))

			n, err := store.CountEvents(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			a, err := store.SessionEvents(ctx, "a")
			require.NoError(t, err)
			assert.Len(t, a, 2)

			b, err := store.SessionEvents(ctx, "b")
			require.NoError(t, err)
			require.Len(t, b, 1)
			q, ok := b[0].Float("toQuality")
			assert.True(t, ok)
			assert.Equal(t, 3.0, q)

			none, err := store.SessionEvents(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestInMemoryStore_returns_copies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.SetSession(ctx, &Session{ID: "s1", SelectedQualityIDs: []int{1}}))

	got, _, _ := store.GetSession(ctx, "s1")
	got.SelectedQualityIDs[0] = 7

	again, _, _ := store.GetSession(ctx, "s1")
	assert.Equal(t, []int{1}, again.SelectedQualityIDs)
}

func TestNewRedisStore_unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestNewRedisStore_connects(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetBandwidth(context.Background(), "s", 1))
	assert.True(t, mr.Exists("test:bandwidth:s"))
	assert.NoError(t, store.Ping(context.Background()))
}
