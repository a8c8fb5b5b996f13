package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// RedisConfig holds Redis connection configuration for the registry.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Tuning bounds every registry round-trip. A dropped removeConnection
// would leak a phantom member forever, so permanent failures surface to
// the caller instead of being swallowed.
type Tuning struct {
	OpTimeout     time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	PresenceTTL   time.Duration
}

// Redis key layout:
//
//	live:room:{room_id}:members     HASH identity_id -> JSON {role, joined_at}
//	live:identity:{id}:rooms        SET  room_id          (reverse index)
//	live:presence:{id}              HASH conn_id -> JSON presence entry, TTL
//	live:session:{performer_id}     STRING JSON stream session
//	live:sessions:live              SET  performer_id
func roomMembersKey(roomID string) string {
	return fmt.Sprintf("live:room:%s:members", roomID)
}

func identityRoomsKey(identityID string) string {
	return fmt.Sprintf("live:identity:%s:rooms", identityID)
}

func presenceKey(identityID string) string {
	return fmt.Sprintf("live:presence:%s", identityID)
}

func sessionKey(performerID string) string {
	return fmt.Sprintf("live:session:%s", performerID)
}

const liveSessionsKey = "live:sessions:live"

// RedisStore implements Store on Redis. Member records are stored as typed
// JSON values, not delimiter-joined strings, so role and timestamp survive
// without fragile parsing.
type RedisStore struct {
	client *redis.Client
	tuning Tuning
}

// NewRedisStore connects to Redis and returns a registry store.
func NewRedisStore(cfg RedisConfig, tuning Tuning) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if tuning.OpTimeout <= 0 {
		tuning.OpTimeout = 2 * time.Second
	}
	if tuning.RetryAttempts <= 0 {
		tuning.RetryAttempts = 3
	}
	if tuning.RetryBackoff <= 0 {
		tuning.RetryBackoff = 50 * time.Millisecond
	}
	if tuning.PresenceTTL <= 0 {
		tuning.PresenceTTL = 90 * time.Second
	}

	return &RedisStore{client: client, tuning: tuning}, nil
}

// Client exposes the underlying client so the process can share the
// connection pool with the event bus.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// withRetry runs fn with a per-attempt timeout and bounded exponential
// backoff. The final failure is wrapped as a coordination timeout.
func (s *RedisStore) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.tuning.RetryBackoff
	var err error
	for attempt := 1; attempt <= s.tuning.RetryAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.tuning.OpTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt < s.tuning.RetryAttempts {
			pkglog.L().Warn().Str("op", op).Int("attempt", attempt).Err(err).
				Msg("registry operation failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("registry %s: %w: %v", op, domain.ErrCoordinationTimeout, err)
}

func (s *RedisStore) AddConnection(ctx context.Context, roomID, identityID string, m domain.Member) (bool, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return false, err
	}

	var already bool
	err = s.withRetry(ctx, "add_connection", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		existsCmd := pipe.HExists(ctx, roomMembersKey(roomID), identityID)
		pipe.HSet(ctx, roomMembersKey(roomID), identityID, data)
		pipe.SAdd(ctx, identityRoomsKey(identityID), roomID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		already = existsCmd.Val()
		return nil
	})
	return already, err
}

func (s *RedisStore) RemoveConnection(ctx context.Context, roomID, identityID string) (bool, error) {
	var removed bool
	err := s.withRetry(ctx, "remove_connection", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		delCmd := pipe.HDel(ctx, roomMembersKey(roomID), identityID)
		pipe.SRem(ctx, identityRoomsKey(identityID), roomID)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		removed = delCmd.Val() > 0
		return nil
	})
	return removed, err
}

func (s *RedisStore) ListMembers(ctx context.Context, roomID string) (map[string]domain.Role, error) {
	var raw map[string]string
	err := s.withRetry(ctx, "list_members", func(ctx context.Context) error {
		var err error
		raw, err = s.client.HGetAll(ctx, roomMembersKey(roomID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	members := make(map[string]domain.Role, len(raw))
	for identityID, val := range raw {
		var m domain.Member
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			pkglog.L().Warn().Str(pkglog.FieldRoomID, roomID).
				Str(pkglog.FieldIdentityID, identityID).Err(err).
				Msg("skipping undecodable member record")
			continue
		}
		members[identityID] = m.Role
	}
	return members, nil
}

func (s *RedisStore) GetConnectionMeta(ctx context.Context, roomID, identityID string) (*domain.Member, error) {
	var val string
	err := s.withRetry(ctx, "get_connection_meta", func(ctx context.Context) error {
		var err error
		val, err = s.client.HGet(ctx, roomMembersKey(roomID), identityID).Result()
		if err == redis.Nil {
			val = ""
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, nil
	}

	var m domain.Member
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, fmt.Errorf("undecodable member record: %w", err)
	}
	return &m, nil
}

func (s *RedisStore) RecordPresence(ctx context.Context, entry domain.PresenceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "record_presence", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, presenceKey(entry.IdentityID), entry.ConnID, data)
		pipe.Expire(ctx, presenceKey(entry.IdentityID), s.tuning.PresenceTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) ClearPresence(ctx context.Context, identityID, connID string) (*domain.PresenceEntry, error) {
	var val string
	var found bool
	err := s.withRetry(ctx, "clear_presence", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		getCmd := pipe.HGet(ctx, presenceKey(identityID), connID)
		pipe.HDel(ctx, presenceKey(identityID), connID)
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return err
		}
		if getCmd.Err() == nil {
			val = getCmd.Val()
			found = true
		}
		return nil
	})
	if err != nil || !found {
		return nil, err
	}

	var entry domain.PresenceEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("undecodable presence entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, identityID string) (bool, error) {
	var n int64
	err := s.withRetry(ctx, "is_online", func(ctx context.Context) error {
		var err error
		n, err = s.client.HLen(ctx, presenceKey(identityID)).Result()
		return err
	})
	return n > 0, err
}

func (s *RedisStore) RoomsForIdentity(ctx context.Context, identityID string) ([]string, error) {
	var rooms []string
	err := s.withRetry(ctx, "rooms_for_identity", func(ctx context.Context) error {
		var err error
		rooms, err = s.client.SMembers(ctx, identityRoomsKey(identityID)).Result()
		return err
	})
	return rooms, err
}

func (s *RedisStore) TrackedIdentities(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withRetry(ctx, "tracked_identities", func(ctx context.Context) error {
		ids = ids[:0]
		iter := s.client.Scan(ctx, 0, "live:identity:*:rooms", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			id := strings.TrimSuffix(strings.TrimPrefix(key, "live:identity:"), ":rooms")
			ids = append(ids, id)
		}
		return iter.Err()
	})
	return ids, err
}

func (s *RedisStore) SaveStreamSession(ctx context.Context, session *domain.StreamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "save_stream_session", func(ctx context.Context) error {
		pipe := s.client.TxPipeline()
		if session.Status == domain.StreamOffline {
			pipe.Del(ctx, sessionKey(session.PerformerID))
			pipe.SRem(ctx, liveSessionsKey, session.PerformerID)
		} else {
			pipe.Set(ctx, sessionKey(session.PerformerID), data, 0)
			pipe.SAdd(ctx, liveSessionsKey, session.PerformerID)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) LoadStreamSession(ctx context.Context, performerID string) (*domain.StreamSession, error) {
	var val string
	err := s.withRetry(ctx, "load_stream_session", func(ctx context.Context) error {
		var err error
		val, err = s.client.Get(ctx, sessionKey(performerID)).Result()
		if err == redis.Nil {
			val = ""
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if val == "" {
		return domain.OfflineSession(performerID), nil
	}

	var session domain.StreamSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("undecodable stream session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) LiveStreams(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withRetry(ctx, "live_streams", func(ctx context.Context) error {
		var err error
		ids, err = s.client.SMembers(ctx, liveSessionsKey).Result()
		return err
	})
	return ids, err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
