package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cdnsim:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "cdnsim:".
	Prefix string
}

// RedisStore is a Store backed by Redis so several simulator processes can
// share sessions. Sessions are JSON strings, bandwidth estimates plain floats
// and events per-session lists. Like the in-memory store nothing expires.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(id string) string   { return s.prefix + "session:" + id }
func (s *RedisStore) sessionsKey() string           { return s.prefix + "sessions" }
func (s *RedisStore) bandwidthKey(id string) string { return s.prefix + "bandwidth:" + id }
func (s *RedisStore) eventsKey(id string) string    { return s.prefix + "events:" + id }
func (s *RedisStore) eventCountKey() string         { return s.prefix + "events_total" }

// GetSession implements Store.GetSession.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, bool, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var st Session
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &st, true, nil
}

// SetSession implements Store.SetSession.
func (s *RedisStore) SetSession(ctx context.Context, st *Session) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(st.ID), data, 0)
		p.SAdd(ctx, s.sessionsKey(), st.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set session %s: %w", st.ID, err)
	}
	return nil
}

// CountSessions implements Store.CountSessions.
func (s *RedisStore) CountSessions(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.sessionsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count sessions: %w", err)
	}
	return int(n), nil
}

// GetBandwidth implements Store.GetBandwidth.
func (s *RedisStore) GetBandwidth(ctx context.Context, sessionID string) (float64, bool, error) {
	raw, err := s.client.Get(ctx, s.bandwidthKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get bandwidth %s: %w", sessionID, err)
	}
	bw, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode bandwidth %s: %w", sessionID, err)
	}
	return bw, true, nil
}

// SetBandwidth implements Store.SetBandwidth.
func (s *RedisStore) SetBandwidth(ctx context.Context, sessionID string, bps float64) error {
	v := strconv.FormatFloat(bps, 'f', -1, 64)
	if err := s.client.Set(ctx, s.bandwidthKey(sessionID), v, 0).Err(); err != nil {
		return fmt.Errorf("redis set bandwidth %s: %w", sessionID, err)
	}
	return nil
}

// AppendEvents implements Store.AppendEvents.
func (s *RedisStore) AppendEvents(ctx context.Context, events ...AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.Type, err)
			}
			p.RPush(ctx, s.eventsKey(e.SessionID), data)
		}
		p.IncrBy(ctx, s.eventCountKey(), int64(len(events)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append events: %w", err)
	}
	return nil
}

// SessionEvents implements Store.SessionEvents.
func (s *RedisStore) SessionEvents(ctx context.Context, sessionID string) ([]AnalyticsEvent, error) {
	raw, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list events %s: %w", sessionID, err)
	}
	out := make([]AnalyticsEvent, 0, len(raw))
	for _, r := range raw {
		var e AnalyticsEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode event for %s: %w", sessionID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CountEvents implements Store.CountEvents.
func (s *RedisStore) CountEvents(ctx context.Context) (int, error) {
	n, err := s.client.Get(ctx, s.eventCountKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis count events: %w", err)
	}
	return n, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
