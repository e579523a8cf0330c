package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adaptivecoach/memcore/types"
)

func newTestSession(t *testing.T, cfg SessionStoreConfig) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	s, err := NewSessionStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	s, _ := newTestSession(t, SessionStoreConfig{})
	ctx := context.Background()

	created, err := s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", created.UserID)

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "sess-1", state.SessionID)
	assert.Empty(t, state.Turns)

	// Sessions are scoped per user and session id.
	state, err = s.Get(ctx, "u2", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSessionStore_AppendTurnCreatesAndTrims(t *testing.T) {
	s, _ := newTestSession(t, SessionStoreConfig{MaxTurns: 3})
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "user", "turn 1"))
	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "assistant", "turn 2"))
	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "user", "turn 3"))
	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "assistant", "turn 4"))

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Turns, 3)
	assert.Equal(t, "turn 2", state.Turns[0].Text)
	assert.Equal(t, "turn 4", state.Turns[2].Text)
}

func TestSessionStore_RecentTurns(t *testing.T) {
	s, _ := newTestSession(t, SessionStoreConfig{})
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "user", text))
	}

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	recent := state.RecentTurns(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Text)
	assert.Equal(t, "d", recent[1].Text)
}

func TestSessionStore_ActiveIntentAndScratch(t *testing.T) {
	s, _ := newTestSession(t, SessionStoreConfig{})
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.SetActiveIntent(ctx, "u1", "sess-1", "nutrition"))
	require.NoError(t, s.SetScratch(ctx, "u1", "sess-1", "documents", "protein timing basics"))

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "nutrition", state.ActiveIntent)
	assert.Equal(t, "protein timing basics", state.Scratch["documents"])
}

func TestSessionStore_ResetReturnsFalseWhenAbsent(t *testing.T) {
	s, _ := newTestSession(t, SessionStoreConfig{})
	ctx := context.Background()

	existed, err := s.Reset(ctx, "u1", "ghost")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)

	existed, err = s.Reset(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.True(t, existed)

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSessionStore_TTLExpiry(t *testing.T) {
	s, mr := newTestSession(t, SessionStoreConfig{TTL: time.Hour})
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, state)

	// A write refreshes the lifetime.
	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "user", "still here"))
	mr.FastForward(45 * time.Minute)
	state, err = s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, state)

	mr.FastForward(2 * time.Hour)
	state, err = s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSessionStore_ExtendTTL(t *testing.T) {
	s, mr := newTestSession(t, SessionStoreConfig{TTL: time.Hour})
	ctx := context.Background()

	ok, err := s.ExtendTTL(ctx, "u1", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	ok, err = s.ExtendTTL(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(50 * time.Minute)
	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, state)
}

func TestSessionStore_DegradedReadYieldsAbsent(t *testing.T) {
	s, mr := newTestSession(t, SessionStoreConfig{})
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", "sess-1")
	require.NoError(t, err)

	mr.Close()
	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSessionStore_TurnTimestampsUseClock(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s, _ := newTestSession(t, SessionStoreConfig{
		Now: func() time.Time { return now },
	})
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "u1", "sess-1", "user", "hello"))

	state, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.Len(t, state.Turns, 1)
	assert.Equal(t, types.Turn{Role: "user", Text: "hello", Timestamp: now}, state.Turns[0])
}
