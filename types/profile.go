package types

import (
	"fmt"
	"strings"
	"time"
)

// Gender is the self-reported gender vocabulary.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderOther       Gender = "other"
	GenderUndisclosed Gender = "prefer_not_to_say"
)

// DietaryPreference is the fixed dietary vocabulary.
type DietaryPreference string

const (
	DietOmnivore    DietaryPreference = "omnivore"
	DietVegetarian  DietaryPreference = "vegetarian"
	DietVegan       DietaryPreference = "vegan"
	DietPescatarian DietaryPreference = "pescatarian"
	DietKeto        DietaryPreference = "keto"
)

// FitnessLevel is the fixed training-experience vocabulary.
type FitnessLevel string

const (
	FitnessBeginner     FitnessLevel = "beginner"
	FitnessIntermediate FitnessLevel = "intermediate"
	FitnessAdvanced     FitnessLevel = "advanced"
)

// PrimaryGoal is the fixed goal vocabulary.
type PrimaryGoal string

const (
	GoalBuildMuscle   PrimaryGoal = "build_muscle"
	GoalLoseFat       PrimaryGoal = "lose_fat"
	GoalMaintain      PrimaryGoal = "maintain"
	GoalImproveEnergy PrimaryGoal = "improve_energy"
)

// Profile field names. These are the selectors used by memory specs and
// the field keys carried by update events.
const (
	FieldAge          = "age_years"
	FieldHeight       = "height_cm"
	FieldWeight       = "weight_kg"
	FieldGender       = "gender"
	FieldDietaryPref  = "dietary_pref"
	FieldFitnessLevel = "fitness_level"
	FieldPrimaryGoal  = "primary_goal"
	FieldTargetWeight = "target_weight_kg"

	FieldInjuries         = "injuries"
	FieldIntolerances     = "intolerances"
	FieldAllergies        = "allergies"
	FieldHealthConditions = "health_conditions"
	FieldMedications      = "medications"

	FieldWorkoutCompletion = "workout_completion_rate"
	FieldAvgSleepQuality   = "avg_sleep_quality"
	FieldAvgDailyCalories  = "avg_daily_calories"
)

// PermanentProfile is the per-user record in the permanent tier. It is
// created on first explicit profile submission, mutated by explicit
// corrections and weekly promotions, and deleted only on purge.
type PermanentProfile struct {
	UserID string `json:"user_id"`

	// Demographics.
	AgeYears int     `json:"age_years"`
	HeightCm float64 `json:"height_cm"`
	WeightKg float64 `json:"weight_kg"`
	Gender   Gender  `json:"gender"`

	// Health constraints, set semantics (case-insensitive, no duplicates).
	Injuries         []string `json:"injuries,omitempty"`
	Intolerances     []string `json:"intolerances,omitempty"`
	Allergies        []string `json:"allergies,omitempty"`
	HealthConditions []string `json:"health_conditions,omitempty"`
	Medications      []string `json:"medications,omitempty"`

	// Preferences.
	DietaryPref  DietaryPreference `json:"dietary_pref"`
	FitnessLevel FitnessLevel      `json:"fitness_level"`

	// Goals.
	PrimaryGoal    PrimaryGoal `json:"primary_goal"`
	TargetWeightKg *float64    `json:"target_weight_kg,omitempty"`

	// Patterns promoted weekly from the rolling window.
	WorkoutCompletionRate float64 `json:"workout_completion_rate,omitempty"`
	AvgSleepQuality       float64 `json:"avg_sleep_quality,omitempty"`
	AvgDailyCalories      int     `json:"avg_daily_calories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSetField reports whether field is one of the string-set fields.
func IsSetField(field string) bool {
	switch field {
	case FieldInjuries, FieldIntolerances, FieldAllergies, FieldHealthConditions, FieldMedications:
		return true
	}
	return false
}

// StringSet returns a pointer to the named set field, or nil if field is
// not a set field.
func (p *PermanentProfile) StringSet(field string) *[]string {
	switch field {
	case FieldInjuries:
		return &p.Injuries
	case FieldIntolerances:
		return &p.Intolerances
	case FieldAllergies:
		return &p.Allergies
	case FieldHealthConditions:
		return &p.HealthConditions
	case FieldMedications:
		return &p.Medications
	}
	return nil
}

// ContainsFold reports whether values contains v, case-insensitively.
func ContainsFold(values []string, v string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// FieldValue formats a single profile field for retrieval. The second
// return value is false when the field is unknown or empty.
func (p *PermanentProfile) FieldValue(field string) (string, bool) {
	joined := func(vs []string) (string, bool) {
		if len(vs) == 0 {
			return "", false
		}
		if len(vs) > 5 {
			vs = vs[:5]
		}
		return strings.Join(vs, ", "), true
	}

	switch field {
	case FieldAge:
		if p.AgeYears == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", p.AgeYears), true
	case FieldHeight:
		if p.HeightCm == 0 {
			return "", false
		}
		return fmt.Sprintf("%.0fcm", p.HeightCm), true
	case FieldWeight:
		if p.WeightKg == 0 {
			return "", false
		}
		return fmt.Sprintf("%.1fkg", p.WeightKg), true
	case FieldGender:
		if p.Gender == "" || p.Gender == GenderUndisclosed {
			return "", false
		}
		return string(p.Gender), true
	case FieldDietaryPref:
		if p.DietaryPref == "" {
			return "", false
		}
		return string(p.DietaryPref), true
	case FieldFitnessLevel:
		if p.FitnessLevel == "" {
			return "", false
		}
		return string(p.FitnessLevel), true
	case FieldPrimaryGoal:
		if p.PrimaryGoal == "" {
			return "", false
		}
		return string(p.PrimaryGoal), true
	case FieldTargetWeight:
		if p.TargetWeightKg == nil {
			return "", false
		}
		return fmt.Sprintf("%.1fkg", *p.TargetWeightKg), true
	case FieldInjuries:
		return joined(p.Injuries)
	case FieldIntolerances:
		return joined(p.Intolerances)
	case FieldAllergies:
		return joined(p.Allergies)
	case FieldHealthConditions:
		return joined(p.HealthConditions)
	case FieldMedications:
		return joined(p.Medications)
	case FieldWorkoutCompletion:
		if p.WorkoutCompletionRate == 0 {
			return "", false
		}
		return fmt.Sprintf("%.0f%%", p.WorkoutCompletionRate*100), true
	case FieldAvgSleepQuality:
		if p.AvgSleepQuality == 0 {
			return "", false
		}
		return fmt.Sprintf("%.1f/5", p.AvgSleepQuality), true
	case FieldAvgDailyCalories:
		if p.AvgDailyCalories == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", p.AvgDailyCalories), true
	}
	return "", false
}

// ProfilePatch is a partial profile update. Nil pointers mean "leave
// unchanged"; non-nil set slices replace the whole set. Every set field
// is validated before any write happens.
type ProfilePatch struct {
	AgeYears       *int               `json:"age_years,omitempty"`
	HeightCm       *float64           `json:"height_cm,omitempty"`
	WeightKg       *float64           `json:"weight_kg,omitempty"`
	Gender         *Gender            `json:"gender,omitempty"`
	DietaryPref    *DietaryPreference `json:"dietary_pref,omitempty"`
	FitnessLevel   *FitnessLevel      `json:"fitness_level,omitempty"`
	PrimaryGoal    *PrimaryGoal       `json:"primary_goal,omitempty"`
	TargetWeightKg *float64           `json:"target_weight_kg,omitempty"`

	Injuries         []string `json:"injuries,omitempty"`
	Intolerances     []string `json:"intolerances,omitempty"`
	Allergies        []string `json:"allergies,omitempty"`
	HealthConditions []string `json:"health_conditions,omitempty"`
	Medications      []string `json:"medications,omitempty"`

	WorkoutCompletionRate *float64 `json:"workout_completion_rate,omitempty"`
	AvgSleepQuality       *float64 `json:"avg_sleep_quality,omitempty"`
	AvgDailyCalories      *int     `json:"avg_daily_calories,omitempty"`
}

// Validate checks every present field against its domain. The first
// invalid field rejects the whole patch.
func (p ProfilePatch) Validate() error {
	if p.AgeYears != nil && (*p.AgeYears < 13 || *p.AgeYears > 100) {
		return NewValidationError(FieldAge, "age must be between 13 and 100")
	}
	if p.HeightCm != nil && (*p.HeightCm <= 0 || *p.HeightCm > 300) {
		return NewValidationError(FieldHeight, "height must be in (0, 300] cm")
	}
	if p.WeightKg != nil && (*p.WeightKg <= 0 || *p.WeightKg > 500) {
		return NewValidationError(FieldWeight, "weight must be in (0, 500] kg")
	}
	if p.Gender != nil {
		switch *p.Gender {
		case GenderMale, GenderFemale, GenderOther, GenderUndisclosed:
		default:
			return NewValidationError(FieldGender, "unknown gender")
		}
	}
	if p.DietaryPref != nil {
		switch *p.DietaryPref {
		case DietOmnivore, DietVegetarian, DietVegan, DietPescatarian, DietKeto:
		default:
			return NewValidationError(FieldDietaryPref, "unknown dietary preference")
		}
	}
	if p.FitnessLevel != nil {
		switch *p.FitnessLevel {
		case FitnessBeginner, FitnessIntermediate, FitnessAdvanced:
		default:
			return NewValidationError(FieldFitnessLevel, "unknown fitness level")
		}
	}
	if p.PrimaryGoal != nil {
		switch *p.PrimaryGoal {
		case GoalBuildMuscle, GoalLoseFat, GoalMaintain, GoalImproveEnergy:
		default:
			return NewValidationError(FieldPrimaryGoal, "unknown primary goal")
		}
	}
	if p.TargetWeightKg != nil && (*p.TargetWeightKg <= 0 || *p.TargetWeightKg > 500) {
		return NewValidationError(FieldTargetWeight, "target weight must be in (0, 500] kg")
	}
	if p.WorkoutCompletionRate != nil && (*p.WorkoutCompletionRate < 0 || *p.WorkoutCompletionRate > 1) {
		return NewValidationError(FieldWorkoutCompletion, "completion rate must be in [0, 1]")
	}
	if p.AvgSleepQuality != nil && (*p.AvgSleepQuality < 0 || *p.AvgSleepQuality > 5) {
		return NewValidationError(FieldAvgSleepQuality, "sleep quality must be in [0, 5]")
	}
	if p.AvgDailyCalories != nil && *p.AvgDailyCalories < 0 {
		return NewValidationError(FieldAvgDailyCalories, "calories cannot be negative")
	}
	for field, set := range map[string][]string{
		FieldInjuries:         p.Injuries,
		FieldIntolerances:     p.Intolerances,
		FieldAllergies:        p.Allergies,
		FieldHealthConditions: p.HealthConditions,
		FieldMedications:      p.Medications,
	} {
		for _, v := range set {
			if strings.TrimSpace(v) == "" {
				return NewValidationError(field, "set values must be non-empty strings")
			}
		}
	}
	return nil
}

// HasDemographics reports whether the patch carries the fields required
// on first profile submission.
func (p ProfilePatch) HasDemographics() bool {
	return p.AgeYears != nil && p.HeightCm != nil && p.WeightKg != nil
}

// ApplyTo merges the patch into dst. Only present fields change.
func (p ProfilePatch) ApplyTo(dst *PermanentProfile) {
	if p.AgeYears != nil {
		dst.AgeYears = *p.AgeYears
	}
	if p.HeightCm != nil {
		dst.HeightCm = *p.HeightCm
	}
	if p.WeightKg != nil {
		dst.WeightKg = *p.WeightKg
	}
	if p.Gender != nil {
		dst.Gender = *p.Gender
	}
	if p.DietaryPref != nil {
		dst.DietaryPref = *p.DietaryPref
	}
	if p.FitnessLevel != nil {
		dst.FitnessLevel = *p.FitnessLevel
	}
	if p.PrimaryGoal != nil {
		dst.PrimaryGoal = *p.PrimaryGoal
	}
	if p.TargetWeightKg != nil {
		dst.TargetWeightKg = p.TargetWeightKg
	}
	if p.Injuries != nil {
		dst.Injuries = dedupeFold(p.Injuries)
	}
	if p.Intolerances != nil {
		dst.Intolerances = dedupeFold(p.Intolerances)
	}
	if p.Allergies != nil {
		dst.Allergies = dedupeFold(p.Allergies)
	}
	if p.HealthConditions != nil {
		dst.HealthConditions = dedupeFold(p.HealthConditions)
	}
	if p.Medications != nil {
		dst.Medications = dedupeFold(p.Medications)
	}
	if p.WorkoutCompletionRate != nil {
		dst.WorkoutCompletionRate = *p.WorkoutCompletionRate
	}
	if p.AvgSleepQuality != nil {
		dst.AvgSleepQuality = *p.AvgSleepQuality
	}
	if p.AvgDailyCalories != nil {
		dst.AvgDailyCalories = *p.AvgDailyCalories
	}
}

func dedupeFold(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !ContainsFold(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// PatchFromField builds a single-field patch from an update event's
// field name and loosely typed value. JSON-decoded numbers arrive as
// float64 and are coerced where the target is integral.
func PatchFromField(field string, value any) (ProfilePatch, error) {
	var patch ProfilePatch

	asFloat := func() (float64, bool) {
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
		return 0, false
	}
	asString := func() (string, bool) {
		s, ok := value.(string)
		return s, ok
	}

	switch field {
	case FieldAge:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		n := int(f)
		patch.AgeYears = &n
	case FieldHeight:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		patch.HeightCm = &f
	case FieldWeight:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		patch.WeightKg = &f
	case FieldTargetWeight:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		patch.TargetWeightKg = &f
	case FieldGender:
		s, ok := asString()
		if !ok {
			return patch, NewValidationError(field, "expected string value")
		}
		g := Gender(strings.ToLower(s))
		patch.Gender = &g
	case FieldDietaryPref:
		s, ok := asString()
		if !ok {
			return patch, NewValidationError(field, "expected string value")
		}
		d := DietaryPreference(strings.ToLower(s))
		patch.DietaryPref = &d
	case FieldFitnessLevel:
		s, ok := asString()
		if !ok {
			return patch, NewValidationError(field, "expected string value")
		}
		l := FitnessLevel(strings.ToLower(s))
		patch.FitnessLevel = &l
	case FieldPrimaryGoal:
		s, ok := asString()
		if !ok {
			return patch, NewValidationError(field, "expected string value")
		}
		g := PrimaryGoal(strings.ToLower(s))
		patch.PrimaryGoal = &g
	case FieldWorkoutCompletion:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		patch.WorkoutCompletionRate = &f
	case FieldAvgSleepQuality:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		patch.AvgSleepQuality = &f
	case FieldAvgDailyCalories:
		f, ok := asFloat()
		if !ok {
			return patch, NewValidationError(field, "expected numeric value")
		}
		n := int(f)
		patch.AvgDailyCalories = &n
	default:
		return patch, NewValidationError(field, "unknown profile field")
	}

	if err := patch.Validate(); err != nil {
		return ProfilePatch{}, err
	}
	return patch, nil
}
