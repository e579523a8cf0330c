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

// activityRow is the gorm model for the rolling tier, keyed by user and
// calendar date.
type activityRow struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Date      string    `gorm:"column:date;primaryKey"`
	Data      string    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (activityRow) TableName() string { return "daily_logs" }

// RollingStoreConfig configures the rolling-window tier store.
type RollingStoreConfig struct {
	// RetentionDays is the inclusive rolling window, default 7: a record
	// exactly RetentionDays old is still visible.
	RetentionDays int
	Retries       int
	Backoff       time.Duration
	Now           func() time.Time
}

// RollingStore is the rolling-window tier: per-day activity records
// that expire once they fall outside the retention window.
type RollingStore struct {
	db        *gorm.DB
	retention int
	retries   int
	backoff   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewRollingStore creates the rolling tier store and migrates its schema.
func NewRollingStore(db *gorm.DB, cfg RollingStoreConfig, logger *zap.Logger) (*RollingStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := db.AutoMigrate(&activityRow{}); err != nil {
		return nil, fmt.Errorf("migrate daily_logs table: %w", err)
	}
	return &RollingStore{
		db:        db,
		retention: cfg.RetentionDays,
		retries:   cfg.Retries,
		backoff:   cfg.Backoff,
		now:       cfg.Now,
		logger:    logger.With(zap.String("component", "rolling_store")),
	}, nil
}

// LogEvent validates and folds one activity event into the record for
// the given date, creating the record on first event. Write failures
// surface as STORE_UNAVAILABLE.
func (s *RollingStore) LogEvent(ctx context.Context, userID string, date time.Time, ev types.ActivityEvent) error {
	if err := ev.Validate(); err != nil {
		metrics.Default().ObserveStoreOp("rolling", "log_event", "rejected")
		return err
	}

	day := types.DateOf(date)
	rec, err := s.day(ctx, userID, day)
	if err != nil {
		metrics.Default().ObserveStoreOp("rolling", "log_event", "unavailable")
		return types.NewError(types.ErrStoreUnavailable, "rolling tier read failed").WithCause(err)
	}
	if rec == nil {
		rec = &types.DailyActivityRecord{UserID: userID, Date: day}
	}
	ev.Apply(rec)

	if err := s.save(ctx, rec); err != nil {
		metrics.Default().ObserveStoreOp("rolling", "log_event", "unavailable")
		return types.NewError(types.ErrStoreUnavailable, "rolling tier write failed").WithCause(err)
	}
	metrics.Default().ObserveStoreOp("rolling", "log_event", "ok")
	return nil
}

// Day returns the record for one calendar date, or (nil, nil) when
// absent. Read degradation is absorbed and logged.
func (s *RollingStore) Day(ctx context.Context, userID string, date time.Time) (*types.DailyActivityRecord, error) {
	rec, err := s.day(ctx, userID, types.DateOf(date))
	if err != nil {
		s.logger.Warn("daily record read degraded to absent",
			zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return rec, nil
}

// Window returns the user's records whose date falls within the last
// `days` days inclusive, ordered oldest to newest. A degraded store
// yields an empty window.
func (s *RollingStore) Window(ctx context.Context, userID string, days int) ([]types.DailyActivityRecord, error) {
	cutoff := types.DateOf(s.now().AddDate(0, 0, -days))

	var rows []activityRow
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		return s.db.WithContext(ctx).
			Where("user_id = ? AND date >= ?", userID, cutoff).
			Order("date ASC").
			Find(&rows).Error
	})
	if err != nil {
		metrics.Default().ObserveStoreOp("rolling", "window", "degraded")
		s.logger.Warn("window read degraded to empty",
			zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	metrics.Default().ObserveStoreOp("rolling", "window", "ok")
	return s.decodeRows(rows), nil
}

// Range returns the user's records between two dates inclusive, ordered
// oldest to newest. Unlike Window, a store failure is surfaced; batch
// consumers must not mistake an outage for an empty week.
func (s *RollingStore) Range(ctx context.Context, userID string, from, to time.Time) ([]types.DailyActivityRecord, error) {
	var rows []activityRow
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		return s.db.WithContext(ctx).
			Where("user_id = ? AND date >= ? AND date <= ?", userID, types.DateOf(from), types.DateOf(to)).
			Order("date ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "rolling tier read failed").WithCause(err)
	}
	return s.decodeRows(rows), nil
}

// CleanupExpired removes records older than the retention window and
// returns how many were removed; zero when nothing is expired.
func (s *RollingStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := types.DateOf(s.now().AddDate(0, 0, -s.retention))

	var rows int64
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).Delete(&activityRow{}, "date < ?", cutoff)
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "rolling tier cleanup failed").WithCause(err)
	}
	if rows > 0 {
		s.logger.Info("expired rolling records removed", zap.Int64("count", rows))
	}
	return int(rows), nil
}

// DeleteUser removes every record for a user, for purge cascades.
func (s *RollingStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	var rows int64
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).Delete(&activityRow{}, "user_id = ?", userID)
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "rolling tier delete failed").WithCause(err)
	}
	return int(rows), nil
}

// DeleteRange removes records between two dates inclusive, used by the
// weekly adaptation job to clear consumed weeks.
func (s *RollingStore) DeleteRange(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var rows int64
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).
			Delete(&activityRow{}, "user_id = ? AND date >= ? AND date <= ?",
				userID, types.DateOf(from), types.DateOf(to))
		rows = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "rolling tier delete failed").WithCause(err)
	}
	return int(rows), nil
}

// Summary aggregates the last `days` days of activity.
func (s *RollingStore) Summary(ctx context.Context, userID string, days int) (types.ActivitySummary, error) {
	records, err := s.Window(ctx, userID, days)
	if err != nil {
		return types.ActivitySummary{}, err
	}
	return types.SummarizeActivity(records), nil
}

func (s *RollingStore) day(ctx context.Context, userID, date string) (*types.DailyActivityRecord, error) {
	var row activityRow
	err := withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		res := s.db.WithContext(ctx).First(&row, "user_id = ? AND date = ?", userID, date)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		return res.Error
	})
	if err != nil {
		return nil, err
	}
	if row.UserID == "" {
		return nil, nil
	}

	var rec types.DailyActivityRecord
	if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
		s.logger.Error("corrupt daily record",
			zap.String("user_id", userID), zap.String("date", date), zap.Error(err))
		return nil, nil
	}
	return &rec, nil
}

func (s *RollingStore) save(ctx context.Context, rec *types.DailyActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	row := activityRow{
		UserID:    rec.UserID,
		Date:      rec.Date,
		Data:      string(data),
		UpdatedAt: s.now().UTC(),
	}
	return withRetry(ctx, "rolling", s.retries, s.backoff, func() error {
		return s.db.WithContext(ctx).Save(&row).Error
	})
}

func (s *RollingStore) decodeRows(rows []activityRow) []types.DailyActivityRecord {
	records := make([]types.DailyActivityRecord, 0, len(rows))
	for _, row := range rows {
		var rec types.DailyActivityRecord
		if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
			s.logger.Error("corrupt daily record skipped",
				zap.String("user_id", row.UserID), zap.String("date", row.Date), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}
