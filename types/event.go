package types

import "time"

// EventType classifies an update event for routing by the rules engine.
type EventType string

const (
	// EventSetAdd adds a value to a profile set field (injury, allergy,
	// intolerance, condition, medication). Idempotent.
	EventSetAdd EventType = "set_add"

	// EventProfileUpdate changes a scalar profile field. Conflicts between
	// two updates to the same field resolve to the later timestamp.
	EventProfileUpdate EventType = "profile_update"

	// EventCorrection is an explicit user correction: applied immediately
	// and unconditionally, bypassing staleness checks.
	EventCorrection EventType = "correction"

	// EventMealLog, EventWorkoutLog, and EventSleepLog append to the
	// rolling window for the event timestamp's calendar date.
	EventMealLog    EventType = "meal_log"
	EventWorkoutLog EventType = "workout_log"
	EventSleepLog   EventType = "sleep_log"
)

// UpdateEvent is the structured write emitted by the reasoning component
// (or the weekly adaptation job) and consumed by the update rules engine.
type UpdateEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Field     string    `json:"field,omitempty"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the envelope; value routing is validated downstream.
func (e UpdateEvent) Validate() error {
	if e.UserID == "" {
		return NewError(ErrInvalidEvent, "event missing user id")
	}
	if e.Timestamp.IsZero() {
		return NewError(ErrInvalidEvent, "event missing timestamp")
	}
	switch e.Type {
	case EventSetAdd, EventProfileUpdate, EventCorrection,
		EventMealLog, EventWorkoutLog, EventSleepLog:
		return nil
	}
	return NewError(ErrInvalidEvent, "unknown event type "+string(e.Type))
}
