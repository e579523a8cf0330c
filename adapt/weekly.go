// Package adapt promotes rolling-window patterns into the permanent
// tier once per user per week.
package adapt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/engine"
	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

// weekMarkerRow records that a (user, week) pair has been processed, so
// re-triggered runs are no-ops.
type weekMarkerRow struct {
	UserID      string    `gorm:"column:user_id;primaryKey"`
	Week        string    `gorm:"column:week;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (weekMarkerRow) TableName() string { return "adaptation_weeks" }

// WeekOf returns the ISO week identifier for t, e.g. "2026-W35".
func WeekOf(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// ParseWeek returns the Monday and Sunday of an ISO week identifier.
func ParseWeek(week string) (monday, sunday time.Time, err error) {
	var year, num int
	if _, err := fmt.Sscanf(week, "%d-W%d", &year, &num); err != nil || num < 1 || num > 53 {
		return time.Time{}, time.Time{},
			types.NewValidationError("week", "week identifier must look like 2026-W35")
	}

	// January 4 always falls inside ISO week 1.
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)

	monday = week1Monday.AddDate(0, 0, (num-1)*7)
	if WeekOf(monday) != fmt.Sprintf("%d-W%02d", year, num) {
		return time.Time{}, time.Time{},
			types.NewValidationError("week", "no such week in year")
	}
	return monday, monday.AddDate(0, 0, 6), nil
}

// Config configures the weekly job.
type Config struct {
	Now func() time.Time
}

// WeeklyJob consumes one week of rolling-window data per user, promotes
// the derived patterns to the permanent profile through the update
// engine, and archives the consumed records. Scheduling is external;
// the job only guarantees idempotence per (user, week) once triggered.
type WeeklyJob struct {
	db        *gorm.DB
	engine    *engine.UpdateEngine
	permanent *store.PermanentStore
	rolling   *store.RollingStore
	now       func() time.Time
	logger    *zap.Logger
}

// New creates the weekly job and migrates its marker table.
func New(db *gorm.DB, eng *engine.UpdateEngine, permanent *store.PermanentStore, rolling *store.RollingStore, cfg Config, logger *zap.Logger) (*WeeklyJob, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := db.AutoMigrate(&weekMarkerRow{}); err != nil {
		return nil, fmt.Errorf("migrate adaptation_weeks table: %w", err)
	}
	return &WeeklyJob{
		db:        db,
		engine:    eng,
		permanent: permanent,
		rolling:   rolling,
		now:       cfg.Now,
		logger:    logger.With(zap.String("component", "weekly_job")),
	}, nil
}

// Run processes one (user, week) pair. A week already marked processed
// returns immediately. Promotions flow through the update engine as
// ordinary update events, all stamped with the week's end, so they
// inherit last-write-wins semantics and redelivered runs converge.
func (j *WeeklyJob) Run(ctx context.Context, userID, week string) error {
	monday, sunday, err := ParseWeek(week)
	if err != nil {
		return err
	}

	done, err := j.processed(ctx, userID, week)
	if err != nil {
		return err
	}
	if done {
		j.logger.Debug("week already processed",
			zap.String("user_id", userID), zap.String("week", week))
		return nil
	}

	records, err := j.rolling.Range(ctx, userID, monday, sunday)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		if err := j.promote(ctx, userID, records, sunday); err != nil {
			return err
		}
	}

	// The clear goes through the engine's per-user write section so it
	// cannot interleave with a racing activity log, and runs before the
	// marker is set so a failed clear leaves the week retryable.
	if _, err := j.engine.ClearActivity(ctx, userID, monday, sunday); err != nil {
		return err
	}
	if err := j.mark(ctx, userID, week); err != nil {
		return err
	}
	j.logger.Info("week processed",
		zap.String("user_id", userID), zap.String("week", week),
		zap.Int("days", len(records)))
	return nil
}

// RunAll processes the week for every user with a profile.
func (j *WeeklyJob) RunAll(ctx context.Context, week string) error {
	users, err := j.permanent.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if err := j.Run(ctx, userID, week); err != nil {
			return fmt.Errorf("process week %s for user %s: %w", week, userID, err)
		}
	}
	return nil
}

// ClearMarkers removes every processed marker for a user, for purge
// cascades.
func (j *WeeklyJob) ClearMarkers(ctx context.Context, userID string) error {
	if err := j.db.WithContext(ctx).Delete(&weekMarkerRow{}, "user_id = ?", userID).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "marker purge failed").WithCause(err)
	}
	return nil
}

func (j *WeeklyJob) promote(ctx context.Context, userID string, records []types.DailyActivityRecord, sunday time.Time) error {
	summary := types.SummarizeActivity(records)
	stamp := sunday.Add(24*time.Hour - time.Second)

	deltas := []types.UpdateEvent{{
		Type: types.EventProfileUpdate, UserID: userID,
		Field: types.FieldWorkoutCompletion,
		Value: float64(summary.WorkoutDays) / 7, Timestamp: stamp,
	}}
	if summary.AvgSleepQuality > 0 {
		deltas = append(deltas, types.UpdateEvent{
			Type: types.EventProfileUpdate, UserID: userID,
			Field: types.FieldAvgSleepQuality,
			Value: summary.AvgSleepQuality, Timestamp: stamp,
		})
	}
	if summary.AvgCalories > 0 {
		deltas = append(deltas, types.UpdateEvent{
			Type: types.EventProfileUpdate, UserID: userID,
			Field: types.FieldAvgDailyCalories,
			Value: summary.AvgCalories, Timestamp: stamp,
		})
	}

	for _, ev := range deltas {
		if err := j.engine.Apply(ctx, ev); err != nil {
			// A user who logged activity but never submitted a profile has
			// nothing to promote onto; skip rather than wedge the batch.
			if types.IsValidation(err) {
				j.logger.Warn("promotion skipped",
					zap.String("user_id", userID), zap.String("field", ev.Field), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

func (j *WeeklyJob) processed(ctx context.Context, userID, week string) (bool, error) {
	var row weekMarkerRow
	res := j.db.WithContext(ctx).First(&row, "user_id = ? AND week = ?", userID, week)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if res.Error != nil {
		return false, types.NewError(types.ErrStoreUnavailable, "marker read failed").WithCause(res.Error)
	}
	return true, nil
}

func (j *WeeklyJob) mark(ctx context.Context, userID, week string) error {
	row := weekMarkerRow{UserID: userID, Week: week, ProcessedAt: j.now().UTC()}
	if err := j.db.WithContext(ctx).Save(&row).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "marker write failed").WithCause(err)
	}
	return nil
}
