package intent

import (
	"sort"

	"github.com/adaptivecoach/memcore/types"
)

// Rolling-window field selectors used by memory specs.
const (
	RollingMeals            = "meals"
	RollingWorkouts         = "workouts"
	RollingSleep            = "sleep"
	RollingCaloriesConsumed = "calories_consumed"
	RollingProteinTotal     = "protein_total"
	RollingCaloriesBurned   = "calories_burned"
)

// MemorySpec declares which fields each tier must supply for an intent,
// how many session turns to include, and the per-tier priority rank
// (1 low to 3 high) that weights tier budgets during retrieval.
type MemorySpec struct {
	PermanentFields []string
	RollingFields   []string
	SessionTurns    int
	Priority        map[types.Tier]int
}

// MaxPriority is the top priority rank a spec can declare for a tier.
const MaxPriority = 3

var defaultSpecs = map[Category]MemorySpec{
	CategoryWorkout: {
		PermanentFields: []string{types.FieldInjuries, types.FieldFitnessLevel, types.FieldPrimaryGoal},
		RollingFields:   []string{RollingWorkouts, RollingSleep},
		SessionTurns:    3,
		Priority:        map[types.Tier]int{types.TierPermanent: 3, types.TierRolling: 2, types.TierSession: 2},
	},
	CategoryNutrition: {
		PermanentFields: []string{
			types.FieldIntolerances, types.FieldAllergies, types.FieldDietaryPref,
			types.FieldPrimaryGoal, types.FieldWeight, types.FieldTargetWeight,
		},
		RollingFields: []string{RollingMeals, RollingCaloriesConsumed, RollingProteinTotal},
		SessionTurns:  3,
		Priority:      map[types.Tier]int{types.TierPermanent: 3, types.TierRolling: 3, types.TierSession: 2},
	},
	CategoryRecovery: {
		PermanentFields: []string{types.FieldFitnessLevel, types.FieldPrimaryGoal},
		RollingFields:   []string{RollingSleep, RollingWorkouts},
		SessionTurns:    3,
		Priority:        map[types.Tier]int{types.TierPermanent: 2, types.TierRolling: 3, types.TierSession: 2},
	},
	CategoryPlanning: {
		PermanentFields: []string{
			types.FieldInjuries, types.FieldFitnessLevel, types.FieldPrimaryGoal,
			types.FieldDietaryPref, types.FieldIntolerances,
		},
		RollingFields: []string{RollingMeals, RollingWorkouts, RollingSleep},
		SessionTurns:  5,
		Priority:      map[types.Tier]int{types.TierPermanent: 3, types.TierRolling: 3, types.TierSession: 3},
	},
	CategoryProgress: {
		PermanentFields: []string{
			types.FieldWeight, types.FieldTargetWeight, types.FieldPrimaryGoal,
			types.FieldHeight, types.FieldAge,
		},
		RollingFields: []string{RollingCaloriesConsumed, RollingCaloriesBurned},
		SessionTurns:  3,
		Priority:      map[types.Tier]int{types.TierPermanent: 3, types.TierRolling: 2, types.TierSession: 1},
	},
	CategoryDefault: {
		PermanentFields: []string{types.FieldPrimaryGoal, types.FieldInjuries, types.FieldIntolerances},
		RollingFields:   []string{RollingMeals, RollingWorkouts},
		SessionTurns:    3,
		Priority:        map[types.Tier]int{types.TierPermanent: 2, types.TierRolling: 2, types.TierSession: 2},
	},
}

// Registry maps intent categories to memory specs.
type Registry struct {
	specs map[Category]MemorySpec
}

// NewRegistry creates a registry with the built-in spec table. The
// default category is always present.
func NewRegistry() *Registry {
	specs := make(map[Category]MemorySpec, len(defaultSpecs))
	for cat, spec := range defaultSpecs {
		specs[cat] = spec
	}
	return &Registry{specs: specs}
}

// Set registers or replaces the spec for a category.
func (r *Registry) Set(cat Category, spec MemorySpec) {
	r.specs[cat] = spec
}

// Resolve returns the memory spec for a set of categories. A single
// category resolves to its registered spec verbatim; multiple
// categories resolve to the union of per-tier field lists, with the
// highest priority rank and largest turn count winning per tier, so a
// multi-domain query never under-allocates a tier that any matched
// category considers important. Unknown categories fall back to the
// default spec.
func (r *Registry) Resolve(categories []Category) MemorySpec {
	var matched []MemorySpec
	for _, cat := range categories {
		if spec, ok := r.specs[cat]; ok {
			matched = append(matched, spec)
		}
	}
	if len(matched) == 0 {
		return r.specs[CategoryDefault]
	}
	if len(matched) == 1 {
		return matched[0]
	}

	merged := MemorySpec{Priority: make(map[types.Tier]int)}
	for _, spec := range matched {
		merged.PermanentFields = unionSorted(merged.PermanentFields, spec.PermanentFields)
		merged.RollingFields = unionSorted(merged.RollingFields, spec.RollingFields)
		if spec.SessionTurns > merged.SessionTurns {
			merged.SessionTurns = spec.SessionTurns
		}
		for tier, rank := range spec.Priority {
			if rank > merged.Priority[tier] {
				merged.Priority[tier] = rank
			}
		}
	}
	return merged
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, vs := range [][]string{a, b} {
		for _, v := range vs {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}
