package types

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date key format for rolling-window records.
const DateLayout = "2006-01-02"

// DateOf returns the calendar-date key for t.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// Intensity is the workout intensity vocabulary.
type Intensity string

const (
	IntensityLow      Intensity = "low"
	IntensityModerate Intensity = "moderate"
	IntensityHigh     Intensity = "high"
)

// burnRate maps intensity to estimated calories burned per minute.
var burnRate = map[Intensity]int{
	IntensityLow:      4,
	IntensityModerate: 6,
	IntensityHigh:     8,
}

// ActivityEvent is a single logged event for the rolling window. Apply
// folds the event into a daily record, updating derived aggregates.
type ActivityEvent interface {
	Validate() error
	Apply(rec *DailyActivityRecord)
}

// MealEntry is one logged meal.
type MealEntry struct {
	Time     string   `json:"time"`
	Foods    []string `json:"foods"`
	Calories int      `json:"calories"`
	Protein  int      `json:"protein"`
	Carbs    int      `json:"carbs"`
	Fat      int      `json:"fat"`
}

// Validate checks required sub-fields and non-negative numerics.
func (m MealEntry) Validate() error {
	if m.Time == "" {
		return NewValidationError("time", "meal time is required")
	}
	if len(m.Foods) == 0 {
		return NewValidationError("foods", "at least one food is required")
	}
	for field, v := range map[string]int{
		"calories": m.Calories,
		"protein":  m.Protein,
		"carbs":    m.Carbs,
		"fat":      m.Fat,
	} {
		if v < 0 {
			return NewValidationError(field, "nutritional values cannot be negative")
		}
	}
	return nil
}

// Apply folds the meal into the daily record.
func (m MealEntry) Apply(rec *DailyActivityRecord) {
	rec.Meals = append(rec.Meals, m)
	rec.CaloriesConsumed += m.Calories
	rec.ProteinTotal += m.Protein
}

// WorkoutEntry is one logged workout.
type WorkoutEntry struct {
	Time        string    `json:"time"`
	Type        string    `json:"type"`
	DurationMin int       `json:"duration_min"`
	Intensity   Intensity `json:"intensity"`
	Exercises   []string  `json:"exercises,omitempty"`
}

// Validate checks required sub-fields and domains.
func (w WorkoutEntry) Validate() error {
	if w.Time == "" {
		return NewValidationError("time", "workout time is required")
	}
	if w.Type == "" {
		return NewValidationError("type", "workout type is required")
	}
	if w.DurationMin <= 0 || w.DurationMin > 480 {
		return NewValidationError("duration_min", "duration must be in (0, 480] minutes")
	}
	switch Intensity(strings.ToLower(string(w.Intensity))) {
	case IntensityLow, IntensityModerate, IntensityHigh:
	default:
		return NewValidationError("intensity", "intensity must be low, moderate, or high")
	}
	return nil
}

// Apply folds the workout into the daily record, estimating calories
// burned from duration and intensity.
func (w WorkoutEntry) Apply(rec *DailyActivityRecord) {
	rec.Workouts = append(rec.Workouts, w)
	rate, ok := burnRate[Intensity(strings.ToLower(string(w.Intensity)))]
	if !ok {
		rate = 5
	}
	rec.CaloriesBurned += w.DurationMin * rate
}

// SleepEntry is the single sleep log for a day. Logging twice replaces
// the earlier entry.
type SleepEntry struct {
	BedTime  string `json:"bed_time"`
	WakeTime string `json:"wake_time"`
	Quality  int    `json:"quality"`
}

// Validate checks required sub-fields and the 1-5 quality scale.
func (s SleepEntry) Validate() error {
	if s.BedTime == "" {
		return NewValidationError("bed_time", "bed time is required")
	}
	if s.WakeTime == "" {
		return NewValidationError("wake_time", "wake time is required")
	}
	if s.Quality < 1 || s.Quality > 5 {
		return NewValidationError("quality", "sleep quality must be between 1 and 5")
	}
	return nil
}

// Apply sets the day's sleep entry.
func (s SleepEntry) Apply(rec *DailyActivityRecord) {
	entry := s
	rec.Sleep = &entry
}

// DailyActivityRecord is the rolling-window record for one user and one
// calendar date: logged events plus derived aggregates.
type DailyActivityRecord struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`

	Meals    []MealEntry    `json:"meals,omitempty"`
	Workouts []WorkoutEntry `json:"workouts,omitempty"`
	Sleep    *SleepEntry    `json:"sleep,omitempty"`

	CaloriesConsumed int `json:"calories_consumed"`
	CaloriesBurned   int `json:"calories_burned"`
	ProteinTotal     int `json:"protein_total"`
}

// ActivitySummary aggregates a span of daily records.
type ActivitySummary struct {
	Days            int     `json:"days"`
	AvgCalories     int     `json:"avg_calories"`
	AvgProtein      int     `json:"avg_protein"`
	AvgBurned       int     `json:"avg_burned"`
	WorkoutCount    int     `json:"workout_count"`
	WorkoutDays     int     `json:"workout_days"`
	AvgSleepQuality float64 `json:"avg_sleep_quality"`
}

// SummarizeActivity computes summary statistics over daily records.
// Averages are per recorded day; days without a sleep entry are excluded
// from the sleep average.
func SummarizeActivity(records []DailyActivityRecord) ActivitySummary {
	var s ActivitySummary
	s.Days = len(records)
	if s.Days == 0 {
		return s
	}

	var calories, protein, burned, sleepSum, sleepDays int
	for _, rec := range records {
		calories += rec.CaloriesConsumed
		protein += rec.ProteinTotal
		burned += rec.CaloriesBurned
		s.WorkoutCount += len(rec.Workouts)
		if len(rec.Workouts) > 0 {
			s.WorkoutDays++
		}
		if rec.Sleep != nil {
			sleepSum += rec.Sleep.Quality
			sleepDays++
		}
	}

	s.AvgCalories = calories / s.Days
	s.AvgProtein = protein / s.Days
	s.AvgBurned = burned / s.Days
	if sleepDays > 0 {
		s.AvgSleepQuality = float64(sleepSum) / float64(sleepDays)
	}
	return s
}
