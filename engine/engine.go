// Package engine is the sole writer path into the storage tiers: it
// routes structured update events, resolves scalar conflicts by
// timestamp, and serializes all writes per user.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/internal/metrics"
	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

// versionRow records the timestamp of the last applied update per
// scalar profile field, backing last-write-wins conflict resolution
// under at-least-once event delivery.
type versionRow struct {
	UserID string    `gorm:"column:user_id;primaryKey"`
	Field  string    `gorm:"column:field;primaryKey"`
	TS     time.Time `gorm:"column:ts;not null"`
}

func (versionRow) TableName() string { return "update_versions" }

// Config configures the update rules engine.
type Config struct {
	Now func() time.Time
}

// UpdateEngine consumes update events emitted by the reasoning
// component and the weekly adaptation job. No other component mutates
// tier records.
type UpdateEngine struct {
	db        *gorm.DB
	permanent *store.PermanentStore
	rolling   *store.RollingStore
	locks     *userLocks
	now       func() time.Time
	logger    *zap.Logger
}

// New creates the engine and migrates the version table.
func New(db *gorm.DB, permanent *store.PermanentStore, rolling *store.RollingStore, cfg Config, logger *zap.Logger) (*UpdateEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := db.AutoMigrate(&versionRow{}); err != nil {
		return nil, fmt.Errorf("migrate update_versions table: %w", err)
	}
	return &UpdateEngine{
		db:        db,
		permanent: permanent,
		rolling:   rolling,
		locks:     newUserLocks(),
		now:       cfg.Now,
		logger:    logger.With(zap.String("component", "update_engine")),
	}, nil
}

// Apply routes one update event to the right tier under the per-user
// write section. Scalar profile updates with a timestamp older than the
// last applied update for the same field are dropped as stale, so
// events converge regardless of arrival order; corrections bypass the
// staleness check. Stale drops are not errors.
func (e *UpdateEngine) Apply(ctx context.Context, ev types.UpdateEvent) error {
	if err := ev.Validate(); err != nil {
		metrics.Default().ObserveEvent(string(ev.Type), "rejected")
		return err
	}

	release := e.locks.acquire(ev.UserID)
	defer release()

	outcome := "ok"
	var err error
	switch ev.Type {
	case types.EventSetAdd:
		err = e.applySetAdd(ctx, ev)
	case types.EventProfileUpdate:
		var applied bool
		applied, err = e.applyScalar(ctx, ev, false)
		if err == nil && !applied {
			outcome = "stale"
		}
	case types.EventCorrection:
		_, err = e.applyScalar(ctx, ev, true)
	case types.EventMealLog, types.EventWorkoutLog, types.EventSleepLog:
		err = e.applyActivity(ctx, ev)
	}
	if err != nil {
		outcome = "failed"
		if types.IsValidation(err) {
			outcome = "rejected"
		}
	}
	metrics.Default().ObserveEvent(string(ev.Type), outcome)
	return err
}

// SubmitProfile applies an explicit profile submission or correction
// form under the per-user write section. This is how a profile comes to
// exist; field-level events only mutate existing profiles.
func (e *UpdateEngine) SubmitProfile(ctx context.Context, userID string, patch types.ProfilePatch) (*types.PermanentProfile, error) {
	release := e.locks.acquire(userID)
	defer release()
	return e.permanent.Upsert(ctx, userID, patch)
}

// PurgeUser removes the user's profile, all rolling records, and the
// engine's version rows. It succeeds even when nothing existed.
func (e *UpdateEngine) PurgeUser(ctx context.Context, userID string) error {
	release := e.locks.acquire(userID)
	defer release()

	if _, err := e.permanent.Delete(ctx, userID); err != nil {
		return err
	}
	if _, err := e.rolling.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := e.db.WithContext(ctx).Delete(&versionRow{}, "user_id = ?", userID).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "version row purge failed").WithCause(err)
	}
	e.logger.Info("user data purged", zap.String("user_id", userID))
	return nil
}

// ClearActivity removes a user's rolling records in [from, to] under
// the per-user write section, so a concurrent activity log cannot
// re-save a day record mid-clear.
func (e *UpdateEngine) ClearActivity(ctx context.Context, userID string, from, to time.Time) (int, error) {
	release := e.locks.acquire(userID)
	defer release()
	return e.rolling.DeleteRange(ctx, userID, from, to)
}

func (e *UpdateEngine) applySetAdd(ctx context.Context, ev types.UpdateEvent) error {
	value, ok := ev.Value.(string)
	if !ok {
		return types.NewValidationError(ev.Field, "set additions carry a string value")
	}
	return e.permanent.AddToSet(ctx, ev.UserID, ev.Field, value)
}

func (e *UpdateEngine) applyScalar(ctx context.Context, ev types.UpdateEvent, unconditional bool) (bool, error) {
	applied, err := e.lastApplied(ctx, ev.UserID, ev.Field)
	if err != nil {
		return false, err
	}
	if !unconditional && applied != nil && !ev.Timestamp.After(*applied) {
		e.logger.Debug("stale scalar update dropped",
			zap.String("user_id", ev.UserID), zap.String("field", ev.Field))
		return false, nil
	}

	patch, err := types.PatchFromField(ev.Field, ev.Value)
	if err != nil {
		return false, err
	}
	if _, err := e.permanent.Upsert(ctx, ev.UserID, patch); err != nil {
		return false, err
	}

	// A correction may carry an older timestamp than the update it
	// overrides. The version clock never rewinds, or a redelivered copy
	// of that update would pass the staleness check and undo the
	// correction.
	stamp := ev.Timestamp
	if applied != nil && applied.After(stamp) {
		stamp = *applied
	}
	return true, e.recordApplied(ctx, ev.UserID, ev.Field, stamp)
}

func (e *UpdateEngine) applyActivity(ctx context.Context, ev types.UpdateEvent) error {
	entry, err := activityEntry(ev)
	if err != nil {
		return err
	}
	return e.rolling.LogEvent(ctx, ev.UserID, ev.Timestamp, entry)
}

func (e *UpdateEngine) lastApplied(ctx context.Context, userID, field string) (*time.Time, error) {
	var row versionRow
	res := e.db.WithContext(ctx).First(&row, "user_id = ? AND field = ?", userID, field)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if res.Error != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "version row read failed").WithCause(res.Error)
	}
	return &row.TS, nil
}

func (e *UpdateEngine) recordApplied(ctx context.Context, userID, field string, ts time.Time) error {
	row := versionRow{UserID: userID, Field: field, TS: ts}
	if err := e.db.WithContext(ctx).Save(&row).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "version row write failed").WithCause(err)
	}
	return nil
}

// activityEntry coerces an event value into its typed activity entry.
// Values arrive either as the typed struct (internal producers) or as a
// decoded JSON object.
func activityEntry(ev types.UpdateEvent) (types.ActivityEvent, error) {
	switch ev.Type {
	case types.EventMealLog:
		if m, ok := ev.Value.(types.MealEntry); ok {
			return m, nil
		}
		var m types.MealEntry
		if err := remarshal(ev.Value, &m); err != nil {
			return nil, types.NewValidationError("value", "malformed meal entry")
		}
		return m, nil
	case types.EventWorkoutLog:
		if w, ok := ev.Value.(types.WorkoutEntry); ok {
			return w, nil
		}
		var w types.WorkoutEntry
		if err := remarshal(ev.Value, &w); err != nil {
			return nil, types.NewValidationError("value", "malformed workout entry")
		}
		return w, nil
	case types.EventSleepLog:
		if s, ok := ev.Value.(types.SleepEntry); ok {
			return s, nil
		}
		var s types.SleepEntry
		if err := remarshal(ev.Value, &s); err != nil {
			return nil, types.NewValidationError("value", "malformed sleep entry")
		}
		return s, nil
	}
	return nil, types.NewError(types.ErrInvalidEvent, "not an activity event")
}

func remarshal(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
