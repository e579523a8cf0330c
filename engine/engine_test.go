package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

var engineNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *UpdateEngine
	permanent *store.PermanentStore
	rolling   *store.RollingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	now := func() time.Time { return engineNow }

	permanent, err := store.NewPermanentStore(db, store.PermanentStoreConfig{Now: now}, zap.NewNop())
	require.NoError(t, err)
	rolling, err := store.NewRollingStore(db, store.RollingStoreConfig{Now: now}, zap.NewNop())
	require.NoError(t, err)
	eng, err := New(db, permanent, rolling, Config{Now: now}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{engine: eng, permanent: permanent, rolling: rolling}
}

func seedUser(t *testing.T, f *fixture, userID string) {
	t.Helper()
	age := 30
	height := 180.0
	weight := 80.0
	_, err := f.engine.SubmitProfile(context.Background(), userID, types.ProfilePatch{
		AgeYears: &age, HeightCm: &height, WeightKg: &weight,
	})
	require.NoError(t, err)
}

func TestEngine_RejectsMalformedEnvelope(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.engine.Apply(context.Background(), types.UpdateEvent{
		Type: types.EventSetAdd, Field: types.FieldInjuries, Value: "left knee",
		Timestamp: engineNow,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidEvent, types.GetErrorCode(err))

	err = f.engine.Apply(context.Background(), types.UpdateEvent{
		Type: types.EventType("unknown"), UserID: "u1", Timestamp: engineNow,
	})
	assert.Equal(t, types.ErrInvalidEvent, types.GetErrorCode(err))
}

func TestEngine_RoutesSetAdd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	ev := types.UpdateEvent{
		Type: types.EventSetAdd, UserID: "u1",
		Field: types.FieldAllergies, Value: "peanuts", Timestamp: engineNow,
	}
	require.NoError(t, f.engine.Apply(ctx, ev))
	// Redelivery is a no-op.
	require.NoError(t, f.engine.Apply(ctx, ev))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"peanuts"}, profile.Allergies)
}

func TestEngine_LaterTimestampWinsRegardlessOfArrival(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	later := types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 78.0, Timestamp: engineNow,
	}
	earlier := types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 82.0, Timestamp: engineNow.Add(-time.Hour),
	}

	require.NoError(t, f.engine.Apply(ctx, later))
	// The older update arrives second and is dropped as stale.
	require.NoError(t, f.engine.Apply(ctx, earlier))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 78.0, profile.WeightKg)

	// Staleness is tracked per field.
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldTargetWeight, Value: 75.0, Timestamp: engineNow.Add(-time.Hour),
	}))
	profile, err = f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, profile.TargetWeightKg)
	assert.Equal(t, 75.0, *profile.TargetWeightKg)
}

func TestEngine_RedeliveryConverges(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	ev := types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 79.5, Timestamp: engineNow,
	}
	require.NoError(t, f.engine.Apply(ctx, ev))
	require.NoError(t, f.engine.Apply(ctx, ev))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 79.5, profile.WeightKg)
}

func TestEngine_CorrectionBypassesStalenessCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 78.0, Timestamp: engineNow,
	}))
	// An explicit correction with an older timestamp still lands.
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventCorrection, UserID: "u1",
		Field: types.FieldWeight, Value: 81.0, Timestamp: engineNow.Add(-time.Hour),
	}))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 81.0, profile.WeightKg)
}

func TestEngine_RedeliveredUpdateCannotUndoCorrection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	update := types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 78.0, Timestamp: engineNow,
	}
	require.NoError(t, f.engine.Apply(ctx, update))
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventCorrection, UserID: "u1",
		Field: types.FieldWeight, Value: 81.0, Timestamp: engineNow.Add(-time.Hour),
	}))

	// At-least-once delivery: a redelivered copy of the pre-correction
	// update must stay stale.
	require.NoError(t, f.engine.Apply(ctx, update))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 81.0, profile.WeightKg)
}

func TestEngine_ClearActivityRemovesRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, day := range []time.Time{engineNow.AddDate(0, 0, -2), engineNow} {
		require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
			Type: types.EventMealLog, UserID: "u1", Timestamp: day,
			Value: types.MealEntry{Time: "08:00", Foods: []string{"oats"}, Calories: 400},
		}))
	}

	removed, err := f.engine.ClearActivity(ctx, "u1",
		engineNow.AddDate(0, 0, -3), engineNow.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := f.rolling.Window(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEngine_RoutesActivityLogs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventMealLog, UserID: "u1", Timestamp: engineNow,
		Value: types.MealEntry{Time: "08:00", Foods: []string{"oats"}, Calories: 400},
	}))
	// JSON-decoded producers deliver maps; they coerce the same way.
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventWorkoutLog, UserID: "u1", Timestamp: engineNow,
		Value: map[string]any{
			"time": "18:00", "type": "running", "duration_min": 30, "intensity": "moderate",
		},
	}))
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventSleepLog, UserID: "u1", Timestamp: engineNow,
		Value: types.SleepEntry{BedTime: "23:00", WakeTime: "07:00", Quality: 4},
	}))

	rec, err := f.rolling.Day(ctx, "u1", engineNow)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 400, rec.CaloriesConsumed)
	assert.Equal(t, 180, rec.CaloriesBurned)
	require.NotNil(t, rec.Sleep)
	assert.Equal(t, 4, rec.Sleep.Quality)
}

func TestEngine_InvalidActivityValueRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.engine.Apply(context.Background(), types.UpdateEvent{
		Type: types.EventMealLog, UserID: "u1", Timestamp: engineNow,
		Value: types.MealEntry{Time: "08:00", Foods: []string{"oats"}, Calories: -10},
	})
	assert.True(t, types.IsValidation(err))
}

func TestEngine_ConcurrentSetAddsBothPersist(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	var wg sync.WaitGroup
	for _, value := range []string{"peanuts", "dairy"} {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			assert.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
				Type: types.EventSetAdd, UserID: "u1",
				Field: types.FieldAllergies, Value: v, Timestamp: engineNow,
			}))
		}(value)
	}
	wg.Wait()

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"peanuts", "dairy"}, profile.Allergies)
}

func TestEngine_PurgeUserCascades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "u1")

	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldWeight, Value: 79.0, Timestamp: engineNow,
	}))
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventMealLog, UserID: "u1", Timestamp: engineNow,
		Value: types.MealEntry{Time: "08:00", Foods: []string{"oats"}, Calories: 400},
	}))

	require.NoError(t, f.engine.PurgeUser(ctx, "u1"))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, profile)
	records, err := f.rolling.Window(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Purging an unknown user still succeeds.
	require.NoError(t, f.engine.PurgeUser(ctx, "ghost"))
}
