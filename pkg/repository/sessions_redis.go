package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"go.uber.org/zap"
)

// RedisConfig tunes the Redis session store.
type RedisConfig struct {
	// Prefix namespaces every key (default "idm:").
	Prefix string
	// OpTimeout bounds each store call (default 500ms).
	OpTimeout time.Duration
	// ExpiredRetention keeps records this long past expires_at so refresh
	// can still report them as expired rather than unknown (default 24h).
	ExpiredRetention time.Duration
	// Logger receives index maintenance failures (default: no-op).
	Logger *zap.Logger
}

// RedisSessionStore keeps each session as a JSON value under
// <prefix>session:id:<id> and indexes ids per user in the set
// <prefix>session:user:<user_id>. Index entries whose record is gone are
// pruned when read.
type RedisSessionStore struct {
	client redis.UniversalClient
	config RedisConfig
	now    func() time.Time
}

var _ domain.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client redis.UniversalClient, config RedisConfig) *RedisSessionStore {
	if config.Prefix == "" {
		config.Prefix = "idm:"
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 500 * time.Millisecond
	}
	if config.ExpiredRetention <= 0 {
		config.ExpiredRetention = 24 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RedisSessionStore{client: client, config: config, now: time.Now}
}

func (s *RedisSessionStore) sessionKey(id uuid.UUID) string {
	return s.config.Prefix + "session:id:" + id.String()
}

func (s *RedisSessionStore) userKey(userID uuid.UUID) string {
	return s.config.Prefix + "session:user:" + userID.String()
}

// Create stores a new session.
func (s *RedisSessionStore) Create(ctx context.Context, session *domain.Session) error {
	now := s.now()
	stampSession(session, now)
	if !session.ExpiresAt.After(session.CreatedAt) {
		return errInvalidExpiry
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(now) + s.config.ExpiredRetention
	if ttl < time.Second {
		ttl = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(session.UserID), session.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// FindByID returns the session or nil if absent.
func (s *RedisSessionStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(data)
}

// FindExpired returns sessions that expired before asOf.
func (s *RedisSessionStore) FindExpired(ctx context.Context, asOf time.Time, userID *uuid.UUID) ([]*domain.Session, error) {
	candidates, err := s.candidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Session
	for _, session := range candidates {
		if session.ExpiresAt.Before(asOf) {
			out = append(out, session)
		}
	}
	return out, nil
}

// FindActive returns unexpired sessions matching every supplied filter.
func (s *RedisSessionStore) FindActive(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	candidates, err := s.candidates(ctx, filter.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []*domain.Session
	for _, session := range candidates {
		if session.IsActive(now) && filter.Matches(session) {
			out = append(out, session)
		}
	}
	return out, nil
}

// Delete removes the given sessions and their index entries.
func (s *RedisSessionStore) Delete(ctx context.Context, sessions ...*domain.Session) error {
	var live []*domain.Session
	for _, session := range sessions {
		if session != nil {
			live = append(live, session)
		}
	}
	if len(live) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, session := range live {
			pipe.Del(ctx, s.sessionKey(session.ID))
			pipe.SRem(ctx, s.userKey(session.UserID), session.ID.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// Consume atomically takes the session record with GETDEL; only one caller
// can observe it.
func (s *RedisSessionStore) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	data, err := s.client.GetDel(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume session: %w", err)
	}

	if session, err := decodeSession(data); err == nil {
		// The record is already gone; a stale index entry is pruned on read.
		if err := s.client.SRem(ctx, s.userKey(session.UserID), id.String()).Err(); err != nil {
			s.config.Logger.Warn("unindex consumed session", zap.Stringer("session_id", id), zap.Error(err))
		}
	}
	return true, nil
}

// candidates loads every session of one user, or every session when
// userID is nil.
func (s *RedisSessionStore) candidates(ctx context.Context, userID *uuid.UUID) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	var keys []string
	if userID != nil {
		members, err := s.client.SMembers(ctx, s.userKey(*userID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list user sessions: %w", err)
		}
		for _, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				continue
			}
			keys = append(keys, s.sessionKey(id))
		}
	} else {
		iter := s.client.Scan(ctx, 0, s.config.Prefix+"session:id:*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var (
		out   []*domain.Session
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i][len(s.config.Prefix+"session:id:"):])
			continue
		}
		session, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}

	if userID != nil && len(stale) > 0 {
		if err := s.client.SRem(ctx, s.userKey(*userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune user sessions: %w", err)
		}
	}
	return out, nil
}

func decodeSession(data []byte) (*domain.Session, error) {
	session := &domain.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}
