package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/internal/metrics"
	"github.com/adaptivecoach/memcore/types"
)

// profileRow is the gorm model for the permanent tier. The profile is
// stored as a JSON document keyed by user id.
type profileRow struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Data      string    `gorm:"column:data;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (profileRow) TableName() string { return "profiles" }

// PermanentStoreConfig configures the permanent tier store.
type PermanentStoreConfig struct {
	// Retries is the number of retries after a failed attempt.
	Retries int
	// Backoff is the base delay between retries.
	Backoff time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// PermanentStore is the permanent tier: one profile per user, mutated
// only through the update rules engine, never auto-expiring.
type PermanentStore struct {
	db      *gorm.DB
	retries int
	backoff time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewPermanentStore creates the permanent tier store and migrates its
// schema.
func NewPermanentStore(db *gorm.DB, cfg PermanentStoreConfig, logger *zap.Logger) (*PermanentStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := db.AutoMigrate(&profileRow{}); err != nil {
		return nil, fmt.Errorf("migrate profiles table: %w", err)
	}
	return &PermanentStore{
		db:      db,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		now:     cfg.Now,
		logger:  logger.With(zap.String("component", "permanent_store")),
	}, nil
}

// Get retrieves a user's profile. Absence is not an error: a user with
// no profile yet yields (nil, nil), and so does a store that stays
// unreachable after retries. Read degradation is absorbed here and
// only logged.
func (s *PermanentStore) Get(ctx context.Context, userID string) (*types.PermanentProfile, error) {
	profile, err := s.fetch(ctx, userID)
	if err != nil {
		metrics.Default().ObserveStoreOp("permanent", "get", "degraded")
		s.logger.Warn("profile read degraded to absent",
			zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	if profile == nil {
		metrics.Default().ObserveStoreOp("permanent", "get", "miss")
		return nil, nil
	}
	metrics.Default().ObserveStoreOp("permanent", "get", "hit")
	return profile, nil
}

// fetch loads a profile and propagates read failures. Write paths must
// use it instead of Get: a degraded read mistaken for absence would
// send a read-modify-write down the creation path and overwrite the
// existing record.
func (s *PermanentStore) fetch(ctx context.Context, userID string) (*types.PermanentProfile, error) {
	var row profileRow
	err := withRetry(ctx, "permanent", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).First(&row, "user_id = ?", userID)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		return res.Error
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "permanent tier read failed").WithCause(err)
	}
	if row.UserID == "" {
		return nil, nil
	}

	var profile types.PermanentProfile
	if err := json.Unmarshal([]byte(row.Data), &profile); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "corrupt profile record").WithCause(err)
	}
	return &profile, nil
}

// Upsert validates the patch, then merges it into the existing profile
// or creates one. First submission must carry age, height, and weight.
// Write failures surface as STORE_UNAVAILABLE.
func (s *PermanentStore) Upsert(ctx context.Context, userID string, patch types.ProfilePatch) (*types.PermanentProfile, error) {
	if err := patch.Validate(); err != nil {
		metrics.Default().ObserveStoreOp("permanent", "upsert", "rejected")
		return nil, err
	}

	profile, err := s.fetch(ctx, userID)
	if err != nil {
		metrics.Default().ObserveStoreOp("permanent", "upsert", "unavailable")
		return nil, err
	}

	now := s.now().UTC()
	if profile == nil {
		if !patch.HasDemographics() {
			return nil, types.NewValidationError(types.FieldAge,
				"age, height, and weight are required on first profile submission")
		}
		profile = &types.PermanentProfile{
			UserID:       userID,
			Gender:       types.GenderUndisclosed,
			DietaryPref:  types.DietOmnivore,
			FitnessLevel: types.FitnessBeginner,
			PrimaryGoal:  types.GoalMaintain,
			CreatedAt:    now,
		}
	}
	patch.ApplyTo(profile)
	profile.UpdatedAt = now

	if err := s.save(ctx, profile); err != nil {
		metrics.Default().ObserveStoreOp("permanent", "upsert", "unavailable")
		return nil, types.NewError(types.ErrStoreUnavailable, "permanent tier write failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("permanent", "upsert", "ok")
	return profile, nil
}

// AddToSet appends value to the named set field if not already present,
// case-insensitively. Calling it again with the same value is a no-op.
func (s *PermanentStore) AddToSet(ctx context.Context, userID, field, value string) error {
	if !types.IsSetField(field) {
		return types.NewValidationError(field, "not a set field")
	}
	if value == "" {
		return types.NewValidationError(field, "set values must be non-empty strings")
	}

	profile, err := s.fetch(ctx, userID)
	if err != nil {
		metrics.Default().ObserveStoreOp("permanent", "add_to_set", "unavailable")
		return err
	}
	if profile == nil {
		return types.NewError(types.ErrNotFound, "no profile for user "+userID)
	}

	set := profile.StringSet(field)
	if types.ContainsFold(*set, value) {
		metrics.Default().ObserveStoreOp("permanent", "add_to_set", "noop")
		return nil
	}
	*set = append(*set, value)
	profile.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, profile); err != nil {
		metrics.Default().ObserveStoreOp("permanent", "add_to_set", "unavailable")
		return types.NewError(types.ErrStoreUnavailable, "permanent tier write failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("permanent", "add_to_set", "ok")
	return nil
}

// Delete removes a user's profile, returning false when nothing existed.
func (s *PermanentStore) Delete(ctx context.Context, userID string) (bool, error) {
	var rows int64
	err := withRetry(ctx, "permanent", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).Delete(&profileRow{}, "user_id = ?", userID)
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, types.NewError(types.ErrStoreUnavailable, "permanent tier delete failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("permanent", "delete", "ok")
	return rows > 0, nil
}

// ListUsers returns every user id with a profile, for batch jobs.
func (s *PermanentStore) ListUsers(ctx context.Context) ([]string, error) {
	var ids []string
	err := withRetry(ctx, "permanent", s.retries, s.backoff, func() error {
		return s.db.WithContext(ctx).Model(&profileRow{}).Pluck("user_id", &ids).Error
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "permanent tier list failed").WithCause(err)
	}
	return ids, nil
}

func (s *PermanentStore) save(ctx context.Context, profile *types.PermanentProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	row := profileRow{
		UserID:    profile.UserID,
		Data:      string(data),
		CreatedAt: profile.CreatedAt,
		UpdatedAt: profile.UpdatedAt,
	}
	return withRetry(ctx, "permanent", s.retries, s.backoff, func() error {
		return s.db.WithContext(ctx).Save(&row).Error
	})
}
