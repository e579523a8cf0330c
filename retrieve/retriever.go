// Package retrieve orchestrates query-aware memory retrieval across the
// three storage tiers.
package retrieve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adaptivecoach/memcore/intent"
	"github.com/adaptivecoach/memcore/internal/metrics"
	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

// Config holds per-tier token sub-budgets and the rolling lookback.
type Config struct {
	PermanentBudget int
	RollingBudget   int
	SessionBudget   int
	WindowDays      int
}

// Retriever fetches only the memory sections a query needs: classify,
// resolve the memory spec, fetch each tier concurrently, format, and
// truncate to the tier's sub-budget. It holds no persistent state.
type Retriever struct {
	classifier *intent.Classifier
	registry   *intent.Registry
	permanent  *store.PermanentStore
	rolling    *store.RollingStore
	session    *store.SessionStore
	tok        types.Tokenizer
	cfg        Config
	logger     *zap.Logger
}

// New creates a retriever over the three tier stores.
func New(
	classifier *intent.Classifier,
	registry *intent.Registry,
	permanent *store.PermanentStore,
	rolling *store.RollingStore,
	session *store.SessionStore,
	tok types.Tokenizer,
	cfg Config,
	logger *zap.Logger,
) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = types.NewEstimateTokenizer()
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	return &Retriever{
		classifier: classifier,
		registry:   registry,
		permanent:  permanent,
		rolling:    rolling,
		session:    session,
		tok:        tok,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "retriever")),
	}
}

// ForQuery retrieves the formatted memory text for each tier. An absent
// record or a degraded tier read yields an empty string for that tier;
// an empty permanent text is the signal callers use to detect a user
// who still needs onboarding.
func (r *Retriever) ForQuery(ctx context.Context, userID, sessionID, query string) (map[types.Tier]string, error) {
	categories := r.classifier.Classify(query)
	spec := r.registry.Resolve(categories)

	var permText, rollText, sessText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		permText = r.fetchPermanent(gctx, userID, spec)
		return nil
	})
	g.Go(func() error {
		rollText = r.fetchRolling(gctx, userID, spec)
		return nil
	})
	g.Go(func() error {
		sessText = r.fetchSession(gctx, userID, sessionID, spec)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[types.Tier]string{
		types.TierPermanent: permText,
		types.TierRolling:   rollText,
		types.TierSession:   sessText,
	}, nil
}

func (r *Retriever) fetchPermanent(ctx context.Context, userID string, spec intent.MemorySpec) string {
	profile, err := r.permanent.Get(ctx, userID)
	if err != nil || profile == nil {
		return ""
	}

	var lines []string
	for _, field := range spec.PermanentFields {
		if v, ok := profile.FieldValue(field); ok {
			lines = append(lines, fmt.Sprintf("- %s: %s", field, v))
		}
	}
	return r.truncate(types.TierPermanent, strings.Join(lines, "\n"), spec)
}

func (r *Retriever) fetchRolling(ctx context.Context, userID string, spec intent.MemorySpec) string {
	records, err := r.rolling.Window(ctx, userID, r.cfg.WindowDays)
	if err != nil || len(records) == 0 {
		return ""
	}

	// The window is ordered oldest first; detail lines cover the three
	// most recent days, averages cover the whole window.
	recent := records
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var lines []string
	for _, field := range spec.RollingFields {
		switch field {
		case intent.RollingMeals:
			var meals []string
			for _, day := range recent {
				for _, m := range day.Meals {
					meals = append(meals, fmt.Sprintf("%s: %s", day.Date, strings.Join(m.Foods, ", ")))
				}
			}
			if len(meals) > 5 {
				meals = meals[:5]
			}
			if len(meals) > 0 {
				lines = append(lines, "- recent_meals: "+strings.Join(meals, "; "))
			}
		case intent.RollingWorkouts:
			var workouts []string
			for _, day := range recent {
				for _, w := range day.Workouts {
					workouts = append(workouts, fmt.Sprintf("%s: %s (%dmin, %s)",
						day.Date, w.Type, w.DurationMin, w.Intensity))
				}
			}
			if len(workouts) > 5 {
				workouts = workouts[:5]
			}
			if len(workouts) > 0 {
				lines = append(lines, "- recent_workouts: "+strings.Join(workouts, "; "))
			}
		case intent.RollingSleep:
			var sleeps []string
			for _, day := range recent {
				if day.Sleep != nil {
					sleeps = append(sleeps, fmt.Sprintf("%s: quality %d/5", day.Date, day.Sleep.Quality))
				}
			}
			if len(sleeps) > 0 {
				lines = append(lines, "- recent_sleep: "+strings.Join(sleeps, "; "))
			}
		case intent.RollingCaloriesConsumed:
			total := 0
			for _, day := range records {
				total += day.CaloriesConsumed
			}
			lines = append(lines, fmt.Sprintf("- avg_daily_calories: %d", total/len(records)))
		case intent.RollingProteinTotal:
			total := 0
			for _, day := range records {
				total += day.ProteinTotal
			}
			lines = append(lines, fmt.Sprintf("- avg_daily_protein: %dg", total/len(records)))
		case intent.RollingCaloriesBurned:
			total := 0
			for _, day := range records {
				total += day.CaloriesBurned
			}
			lines = append(lines, fmt.Sprintf("- avg_daily_burned: %d", total/len(records)))
		}
	}
	return r.truncate(types.TierRolling, strings.Join(lines, "\n"), spec)
}

func (r *Retriever) fetchSession(ctx context.Context, userID, sessionID string, spec intent.MemorySpec) string {
	state, err := r.session.Get(ctx, userID, sessionID)
	if err != nil || state == nil {
		return ""
	}

	turns := state.RecentTurns(spec.SessionTurns)
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Text))
	}
	return r.truncate(types.TierSession, strings.Join(lines, "\n"), spec)
}

// truncate applies the tier sub-budget, scaled down by the spec's
// priority rank so low-priority tiers leave headroom for important ones
// on multi-domain queries.
func (r *Retriever) truncate(tier types.Tier, text string, spec intent.MemorySpec) string {
	if text == "" {
		return ""
	}

	var base int
	switch tier {
	case types.TierPermanent:
		base = r.cfg.PermanentBudget
	case types.TierRolling:
		base = r.cfg.RollingBudget
	case types.TierSession:
		base = r.cfg.SessionBudget
	}

	budget := base
	if rank, ok := spec.Priority[tier]; ok && rank > 0 && rank < intent.MaxPriority {
		budget = base * rank / intent.MaxPriority
	}
	out := types.TruncateToTokens(r.tok, text, budget)
	if len(out) < len(text) {
		metrics.Default().ObserveTruncation(string(tier))
		r.logger.Debug("tier text truncated",
			zap.String("tier", string(tier)), zap.Int("budget", budget))
	}
	return out
}
