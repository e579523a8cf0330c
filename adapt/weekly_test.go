package adapt

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/engine"
	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

// Friday of ISO week 2026-W35 (Mon Aug 24 - Sun Aug 30).
var jobNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

type fixture struct {
	job       *WeeklyJob
	engine    *engine.UpdateEngine
	permanent *store.PermanentStore
	rolling   *store.RollingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	now := func() time.Time { return jobNow }

	permanent, err := store.NewPermanentStore(db, store.PermanentStoreConfig{Now: now}, zap.NewNop())
	require.NoError(t, err)
	rolling, err := store.NewRollingStore(db, store.RollingStoreConfig{Now: now}, zap.NewNop())
	require.NoError(t, err)
	eng, err := engine.New(db, permanent, rolling, engine.Config{Now: now}, zap.NewNop())
	require.NoError(t, err)
	job, err := New(db, eng, permanent, rolling, Config{Now: now}, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{job: job, engine: eng, permanent: permanent, rolling: rolling}

	age := 30
	height := 180.0
	weight := 80.0
	_, err = eng.SubmitProfile(context.Background(), "u1", types.ProfilePatch{
		AgeYears: &age, HeightCm: &height, WeightKg: &weight,
	})
	require.NoError(t, err)
	return f
}

func seedWeek(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	// Four workout days, sleep on two, meals every day of the week.
	monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		require.NoError(t, f.rolling.LogEvent(ctx, "u1", day, types.MealEntry{
			Time: "08:00", Foods: []string{"oats"}, Calories: 2100,
		}))
		if i < 4 {
			require.NoError(t, f.rolling.LogEvent(ctx, "u1", day, types.WorkoutEntry{
				Time: "18:00", Type: "strength", DurationMin: 45, Intensity: types.IntensityModerate,
			}))
		}
		if i < 2 {
			require.NoError(t, f.rolling.LogEvent(ctx, "u1", day, types.SleepEntry{
				BedTime: "23:00", WakeTime: "07:00", Quality: 4,
			}))
		}
	}
}

func TestWeekOfAndParseWeekRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2026-W35", WeekOf(jobNow))

	monday, sunday, err := ParseWeek("2026-W35")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), monday)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), sunday)

	// Week 1 of a year starting mid-week still begins on a Monday.
	monday, _, err = ParseWeek("2026-W01")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, monday.Weekday())
	assert.Equal(t, "2026-W01", WeekOf(monday))

	_, _, err = ParseWeek("2026/35")
	assert.True(t, types.IsValidation(err))
	_, _, err = ParseWeek("2026-W60")
	assert.True(t, types.IsValidation(err))
}

func TestWeeklyJob_PromotesPatternsToProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedWeek(t, f)
	ctx := context.Background()

	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 4.0/7.0, profile.WorkoutCompletionRate, 1e-9)
	assert.Equal(t, 4.0, profile.AvgSleepQuality)
	assert.Equal(t, 2100, profile.AvgDailyCalories)

	// Consumed records are archived.
	records, err := f.rolling.Range(ctx, "u1", time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), jobNow)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWeeklyJob_SecondRunIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedWeek(t, f)
	ctx := context.Background()

	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	// Late-arriving data for the processed week is left untouched.
	require.NoError(t, f.rolling.LogEvent(ctx, "u1", jobNow, types.WorkoutEntry{
		Time: "20:00", Type: "cardio", DurationMin: 20, Intensity: types.IntensityLow,
	}))
	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 4.0/7.0, profile.WorkoutCompletionRate, 1e-9)

	rec, err := f.rolling.Day(ctx, "u1", jobNow)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Workouts, 1)
}

func TestWeeklyJob_PromotionInheritsConflictRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedWeek(t, f)
	ctx := context.Background()

	// A later manual update outranks the week-end promotion timestamp.
	require.NoError(t, f.engine.Apply(ctx, types.UpdateEvent{
		Type: types.EventProfileUpdate, UserID: "u1",
		Field: types.FieldAvgDailyCalories, Value: 2500,
		Timestamp: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}))

	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2500, profile.AvgDailyCalories)
	assert.InDelta(t, 4.0/7.0, profile.WorkoutCompletionRate, 1e-9)
}

func TestWeeklyJob_RetryAfterLostMarkerConverges(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedWeek(t, f)
	ctx := context.Background()

	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	// A marker write lost after the clear leaves the week unmarked. The
	// retry must converge without resurrecting rows or skewing the
	// promoted aggregates.
	err := f.job.db.Delete(&weekMarkerRow{}, "user_id = ? AND week = ?", "u1", "2026-W35").Error
	require.NoError(t, err)
	require.NoError(t, f.job.Run(ctx, "u1", "2026-W35"))

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 4.0/7.0, profile.WorkoutCompletionRate, 1e-9)
	assert.Equal(t, 2100, profile.AvgDailyCalories)

	records, err := f.rolling.Range(ctx, "u1",
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, records)

	done, err := f.job.processed(ctx, "u1", "2026-W35")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWeeklyJob_EmptyWeekStillMarks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.job.Run(ctx, "u1", "2026-W34"))

	done, err := f.job.processed(ctx, "u1", "2026-W34")
	require.NoError(t, err)
	assert.True(t, done)

	profile, err := f.permanent.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, profile.WorkoutCompletionRate)
}

func TestWeeklyJob_RunAllCoversEveryUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	age := 25
	height := 165.0
	weight := 60.0
	_, err := f.engine.SubmitProfile(ctx, "u2", types.ProfilePatch{
		AgeYears: &age, HeightCm: &height, WeightKg: &weight,
	})
	require.NoError(t, err)
	require.NoError(t, f.rolling.LogEvent(ctx, "u2", jobNow, types.WorkoutEntry{
		Time: "18:00", Type: "yoga", DurationMin: 30, Intensity: types.IntensityLow,
	}))

	require.NoError(t, f.job.RunAll(ctx, "2026-W35"))

	for _, userID := range []string{"u1", "u2"} {
		done, err := f.job.processed(ctx, userID, "2026-W35")
		require.NoError(t, err)
		assert.True(t, done, userID)
	}
	profile, err := f.permanent.Get(ctx, "u2")
	require.NoError(t, err)
	assert.InDelta(t, 1.0/7.0, profile.WorkoutCompletionRate, 1e-9)
}
