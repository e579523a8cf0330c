// Package memcore is a tiered memory and context-assembly engine: it
// decides which remembered facts about a user are relevant to a query,
// fetches them from three storage tiers with different lifecycles,
// compresses them into fixed token budgets, and assembles one bounded
// context block for a downstream reasoning component.
package memcore

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adaptivecoach/memcore/adapt"
	"github.com/adaptivecoach/memcore/assemble"
	"github.com/adaptivecoach/memcore/config"
	"github.com/adaptivecoach/memcore/engine"
	"github.com/adaptivecoach/memcore/intent"
	"github.com/adaptivecoach/memcore/retrieve"
	"github.com/adaptivecoach/memcore/store"
	"github.com/adaptivecoach/memcore/types"
)

// defaultInstructions is the fixed instruction block used when the
// caller supplies none.
const defaultInstructions = "You are a personal health and fitness coach. " +
	"Ground every recommendation in the user's profile, recent activity, " +
	"and conversation below. Never give medical advice; refer health " +
	"concerns to a professional."

// Options carries optional collaborators for the engine. Zero values
// select defaults.
type Options struct {
	// Logger overrides the logger built from config.
	Logger *zap.Logger
	// Supplier provides ranked document passages; nil disables the
	// documents section.
	Supplier assemble.DocumentSupplier
	// Tokenizer overrides the default tiktoken-backed tokenizer.
	Tokenizer types.Tokenizer
	// Instructions overrides the fixed instruction block.
	Instructions string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine wires the tier stores, classifier, retriever, assembler,
// update rules engine, and weekly adaptation job into one facade.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	permanent *store.PermanentStore
	rolling   *store.RollingStore
	session   *store.SessionStore

	classifier *intent.Classifier
	registry   *intent.Registry
	retriever  *retrieve.Retriever
	assembler  *assemble.Assembler
	updates    *engine.UpdateEngine
	weekly     *adapt.WeeklyJob
}

// New builds a fully wired engine from configuration.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = config.NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = types.NewTiktokenTokenizer("")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = defaultInstructions
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	permanent, err := store.NewPermanentStore(db, store.PermanentStoreConfig{
		Retries: cfg.Memory.WriteRetries,
		Backoff: cfg.Memory.RetryBackoff.Std(),
		Now:     now,
	}, logger)
	if err != nil {
		return nil, err
	}
	rolling, err := store.NewRollingStore(db, store.RollingStoreConfig{
		RetentionDays: cfg.Memory.RetentionDays,
		Retries:       cfg.Memory.WriteRetries,
		Backoff:       cfg.Memory.RetryBackoff.Std(),
		Now:           now,
	}, logger)
	if err != nil {
		return nil, err
	}
	session, err := store.NewSessionStore(store.SessionStoreConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		TTL:      cfg.Memory.SessionTTL.Std(),
		MaxTurns: cfg.Memory.MaxTurns,
		Retries:  cfg.Memory.WriteRetries,
		Now:      now,
	}, logger)
	if err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(logger)
	registry := intent.NewRegistry()
	retriever := retrieve.New(classifier, registry, permanent, rolling, session, tok, retrieve.Config{
		PermanentBudget: cfg.Budgets.Permanent,
		RollingBudget:   cfg.Budgets.Rolling,
		SessionBudget:   cfg.Budgets.Session,
		WindowDays:      cfg.Memory.RetentionDays,
	}, logger)
	assembler := assemble.New(opts.Supplier, tok, assemble.Config{
		FixedInstructions: instructions,
		GlobalBudget:      cfg.Budgets.Global,
		DocumentBudget:    cfg.Budgets.Documents,
		SupplierTimeout:   cfg.Memory.SupplierTimeout.Std(),
		DocumentLimit:     cfg.Memory.DocumentLimit,
	}, logger)

	updates, err := engine.New(db, permanent, rolling, engine.Config{Now: now}, logger)
	if err != nil {
		return nil, err
	}
	weekly, err := adapt.New(db, updates, permanent, rolling, adapt.Config{Now: now}, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "memcore")),
		db:         db,
		permanent:  permanent,
		rolling:    rolling,
		session:    session,
		classifier: classifier,
		registry:   registry,
		retriever:  retriever,
		assembler:  assembler,
		updates:    updates,
		weekly:     weekly,
	}, nil
}

// BuildResult is the outcome of a context build. When the query fails
// safety screening, Verdict names the reason and Context is nil.
type BuildResult struct {
	Verdict intent.ScreenVerdict
	Context *assemble.AssembledContext
}

// BuildContext screens the query, retrieves the relevant memory from
// every tier, and assembles the bounded context. It is read-only, so an
// abandoned build has no side effects on any tier.
func (e *Engine) BuildContext(ctx context.Context, userID, sessionID, query string) (*BuildResult, error) {
	if verdict := e.classifier.Screen(query); verdict != intent.ScreenOK {
		return &BuildResult{Verdict: verdict}, nil
	}

	tiers, err := e.retriever.ForQuery(ctx, userID, sessionID, query)
	if err != nil {
		return nil, err
	}
	assembled, err := e.assembler.Assemble(ctx, query, tiers)
	if err != nil {
		return nil, err
	}
	return &BuildResult{Verdict: intent.ScreenOK, Context: assembled}, nil
}

// StartSession creates a fresh session and returns its state. The
// session id is generated.
func (e *Engine) StartSession(ctx context.Context, userID string) (*types.SessionState, error) {
	return e.session.Create(ctx, userID, uuid.NewString())
}

// AppendTurn records one conversation turn on a session. User turns
// also refresh the session's active intent; context builds never write,
// so this is the only place the intent is recorded.
func (e *Engine) AppendTurn(ctx context.Context, userID, sessionID, role, text string) error {
	if err := e.session.AppendTurn(ctx, userID, sessionID, role, text); err != nil {
		return err
	}
	if role != "user" {
		return nil
	}
	if categories := e.classifier.Classify(text); len(categories) > 0 {
		if err := e.session.SetActiveIntent(ctx, userID, sessionID, string(categories[0])); err != nil {
			e.logger.Warn("active intent not recorded", zap.Error(err))
		}
	}
	return nil
}

// ResetSession destroys a session, reporting whether it existed.
func (e *Engine) ResetSession(ctx context.Context, userID, sessionID string) (bool, error) {
	return e.session.Reset(ctx, userID, sessionID)
}

// ExtendSession refreshes a session's lifetime.
func (e *Engine) ExtendSession(ctx context.Context, userID, sessionID string) (bool, error) {
	return e.session.ExtendTTL(ctx, userID, sessionID)
}

// SubmitProfile applies an explicit profile submission.
func (e *Engine) SubmitProfile(ctx context.Context, userID string, patch types.ProfilePatch) (*types.PermanentProfile, error) {
	return e.updates.SubmitProfile(ctx, userID, patch)
}

// Profile returns a user's permanent profile, or nil when absent.
func (e *Engine) Profile(ctx context.Context, userID string) (*types.PermanentProfile, error) {
	return e.permanent.Get(ctx, userID)
}

// Apply routes one update event through the rules engine.
func (e *Engine) Apply(ctx context.Context, ev types.UpdateEvent) error {
	return e.updates.Apply(ctx, ev)
}

// ActivitySummary aggregates the user's rolling window.
func (e *Engine) ActivitySummary(ctx context.Context, userID string) (types.ActivitySummary, error) {
	return e.rolling.Summary(ctx, userID, e.cfg.Memory.RetentionDays)
}

// PurgeUser removes every record for a user across all tiers and
// bookkeeping tables. It succeeds even when nothing existed.
func (e *Engine) PurgeUser(ctx context.Context, userID string) error {
	if err := e.updates.PurgeUser(ctx, userID); err != nil {
		return err
	}
	return e.weekly.ClearMarkers(ctx, userID)
}

// RunWeekly triggers the adaptation job for one user and week.
func (e *Engine) RunWeekly(ctx context.Context, userID, week string) error {
	return e.weekly.Run(ctx, userID, week)
}

// RunWeeklyAll triggers the adaptation job for every user with a
// profile.
func (e *Engine) RunWeeklyAll(ctx context.Context, week string) error {
	return e.weekly.RunAll(ctx, week)
}

// CleanupExpired removes rolling records outside the retention window.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	return e.rolling.CleanupExpired(ctx)
}

// Close releases the engine's store connections.
func (e *Engine) Close() error {
	if err := e.session.Close(); err != nil {
		return err
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
