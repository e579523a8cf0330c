package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adaptivecoach/memcore/internal/metrics"
	"github.com/adaptivecoach/memcore/types"
)

// SessionStoreConfig configures the session tier store.
type SessionStoreConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// TTL is the session lifetime, refreshed on every write.
	TTL time.Duration
	// MaxTurns bounds the retained conversation; older turns fall off.
	MaxTurns int
	Retries  int
	Now      func() time.Time
}

// SessionStore is the session tier: per-session conversation state in
// redis, destroyed on explicit reset or TTL expiry, never persisted
// beyond its ephemeral backing.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
	logger   *zap.Logger
}

// NewSessionStore connects to redis and verifies the connection.
func NewSessionStore(cfg SessionStoreConfig, logger *zap.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.Retries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &SessionStore{
		client:   client,
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		now:      cfg.Now,
		logger:   logger.With(zap.String("component", "session_store")),
	}, nil
}

func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%s:%s", userID, sessionID)
}

// Create initializes an empty session with the configured TTL.
func (s *SessionStore) Create(ctx context.Context, userID, sessionID string) (*types.SessionState, error) {
	state := &types.SessionState{UserID: userID, SessionID: sessionID}
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	metrics.Default().ObserveStoreOp("session", "create", "ok")
	return state, nil
}

// Get retrieves session state. Absence and read degradation both yield
// (nil, nil); degradation is logged.
func (s *SessionStore) Get(ctx context.Context, userID, sessionID string) (*types.SessionState, error) {
	data, err := s.client.Get(ctx, sessionKey(userID, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.Default().ObserveStoreOp("session", "get", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.Default().ObserveStoreOp("session", "get", "degraded")
		s.logger.Warn("session read degraded to absent",
			zap.String("user_id", userID), zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}

	var state types.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		s.logger.Error("corrupt session record",
			zap.String("user_id", userID), zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}
	metrics.Default().ObserveStoreOp("session", "get", "hit")
	return &state, nil
}

// AppendTurn appends a conversation turn, creating the session when
// absent and trimming to the configured turn cap.
func (s *SessionStore) AppendTurn(ctx context.Context, userID, sessionID, role, text string) error {
	state, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &types.SessionState{UserID: userID, SessionID: sessionID}
	}

	state.Turns = append(state.Turns, types.Turn{
		Role:      role,
		Text:      text,
		Timestamp: s.now().UTC(),
	})
	if len(state.Turns) > s.maxTurns {
		state.Turns = state.Turns[len(state.Turns)-s.maxTurns:]
	}
	return s.save(ctx, state)
}

// SetActiveIntent records the intent/agent currently driving the session.
func (s *SessionStore) SetActiveIntent(ctx context.Context, userID, sessionID, intent string) error {
	return s.mutate(ctx, userID, sessionID, func(state *types.SessionState) {
		state.ActiveIntent = intent
	})
}

// SetScratch stores an in-flight retrieval result under a scratch key.
func (s *SessionStore) SetScratch(ctx context.Context, userID, sessionID, key, value string) error {
	return s.mutate(ctx, userID, sessionID, func(state *types.SessionState) {
		if state.Scratch == nil {
			state.Scratch = make(map[string]string)
		}
		state.Scratch[key] = value
	})
}

// Reset destroys a session, returning false when nothing existed.
func (s *SessionStore) Reset(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := s.client.Del(ctx, sessionKey(userID, sessionID)).Result()
	if err != nil {
		return false, types.NewError(types.ErrStoreUnavailable, "session tier delete failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("session", "reset", "ok")
	return n > 0, nil
}

// ExtendTTL refreshes the session lifetime, returning false when the
// session no longer exists.
func (s *SessionStore) ExtendTTL(ctx context.Context, userID, sessionID string) (bool, error) {
	ok, err := s.client.Expire(ctx, sessionKey(userID, sessionID), s.ttl).Result()
	if err != nil {
		return false, types.NewError(types.ErrStoreUnavailable, "session tier expire failed").WithCause(err)
	}
	return ok, nil
}

// Close releases the redis client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) mutate(ctx context.Context, userID, sessionID string, fn func(*types.SessionState)) error {
	state, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &types.SessionState{UserID: userID, SessionID: sessionID}
	}
	fn(state)
	return s.save(ctx, state)
}

func (s *SessionStore) save(ctx context.Context, state *types.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(state.UserID, state.SessionID), data, s.ttl).Err(); err != nil {
		metrics.Default().ObserveStoreOp("session", "save", "unavailable")
		return types.NewError(types.ErrStoreUnavailable, "session tier write failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("session", "save", "ok")
	return nil
}
