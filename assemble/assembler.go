// Package assemble merges retrieved memory, supplied documents, a fixed
// instruction block, and the literal query into one bounded context.
package assemble

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adaptivecoach/memcore/internal/metrics"
	"github.com/adaptivecoach/memcore/types"
)

// Section labels, in priority-ladder order. When the global budget is
// exceeded, sections are truncated or emptied strictly from the bottom
// of the ladder up; instructions and the query are never touched.
const (
	SectionInstructions = "instructions"
	SectionProfile      = "profile"
	SectionQuery        = "query"
	SectionConversation = "conversation"
	SectionDocuments    = "documents"
	SectionActivity     = "recent_activity"
)

// truncationOrder lists the truncatable sections, lowest priority first.
var truncationOrder = []string{
	SectionActivity,
	SectionDocuments,
	SectionConversation,
	SectionProfile,
}

// Section is one labeled block of the assembled context.
type Section struct {
	Label  string
	Text   string
	Tokens int
}

// AssembledContext is the bounded, ordered context handed to the
// reasoning component. TotalTokens never exceeds the global budget.
type AssembledContext struct {
	Sections    []Section
	TotalTokens int
}

// Text renders the context as labeled blocks.
func (a *AssembledContext) Text() string {
	blocks := make([]string, 0, len(a.Sections))
	for _, s := range a.Sections {
		blocks = append(blocks, "["+s.Label+"]\n"+s.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// Section returns the text of a labeled section and whether it is
// present.
func (a *AssembledContext) Section(label string) (string, bool) {
	for _, s := range a.Sections {
		if s.Label == label {
			return s.Text, true
		}
	}
	return "", false
}

// Config configures the assembler.
type Config struct {
	// FixedInstructions is the never-truncated instruction block.
	FixedInstructions string
	// GlobalBudget bounds the total token count of the assembled context.
	GlobalBudget int
	// DocumentBudget bounds the document section before global truncation.
	DocumentBudget int
	// SupplierTimeout bounds the document supplier call.
	SupplierTimeout time.Duration
	// DocumentLimit is the result-count hint passed to the supplier.
	DocumentLimit int
}

// Assembler builds bounded contexts. It is stateless across calls and
// performs no writes, so an abandoned assembly has no side effects.
type Assembler struct {
	supplier DocumentSupplier
	tok      types.Tokenizer
	cfg      Config
	logger   *zap.Logger
}

// New creates an assembler. supplier may be nil, in which case the
// document section is always empty.
func New(supplier DocumentSupplier, tok types.Tokenizer, cfg Config, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tok == nil {
		tok = types.NewEstimateTokenizer()
	}
	if cfg.SupplierTimeout <= 0 {
		cfg.SupplierTimeout = 2 * time.Second
	}
	if cfg.DocumentLimit <= 0 {
		cfg.DocumentLimit = 5
	}
	return &Assembler{
		supplier: supplier,
		tok:      tok,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "assembler")),
	}
}

// Assemble merges the fixed instructions, per-tier retriever output,
// document supplier output, and the literal query into one context no
// larger than the global budget. Instructions and the query are always
// present and complete; if they alone exceed the budget, assembly fails
// with a CONFIGURATION error.
func (a *Assembler) Assemble(ctx context.Context, query string, tiers map[types.Tier]string) (*AssembledContext, error) {
	instrTokens := a.tok.CountTokens(a.cfg.FixedInstructions)
	queryTokens := a.tok.CountTokens(query)
	if instrTokens+queryTokens > a.cfg.GlobalBudget {
		return nil, types.NewError(types.ErrConfiguration,
			"fixed instructions and query alone exceed the global budget")
	}

	docs := a.fetchDocuments(ctx, query)

	sections := make([]Section, 0, 6)
	add := func(label, text string) {
		if text == "" && label != SectionInstructions && label != SectionQuery {
			return
		}
		sections = append(sections, Section{Label: label, Text: text, Tokens: a.tok.CountTokens(text)})
	}
	add(SectionInstructions, a.cfg.FixedInstructions)
	add(SectionProfile, tiers[types.TierPermanent])
	add(SectionQuery, query)
	add(SectionConversation, tiers[types.TierSession])
	add(SectionDocuments, docs)
	add(SectionActivity, tiers[types.TierRolling])

	total := 0
	for _, s := range sections {
		total += s.Tokens
	}

	// Sacrifice sections from the bottom of the ladder up until the
	// context fits.
	for _, label := range truncationOrder {
		if total <= a.cfg.GlobalBudget {
			break
		}
		idx := -1
		for i, s := range sections {
			if s.Label == label {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		excess := total - a.cfg.GlobalBudget
		allowed := sections[idx].Tokens - excess
		metrics.Default().ObserveTruncation(label)

		if allowed <= 0 {
			total -= sections[idx].Tokens
			sections = append(sections[:idx], sections[idx+1:]...)
			a.logger.Debug("context section dropped", zap.String("section", label))
			continue
		}
		cut := types.TruncateToTokens(a.tok, sections[idx].Text, allowed)
		total -= sections[idx].Tokens
		if cut == "" {
			sections = append(sections[:idx], sections[idx+1:]...)
			continue
		}
		sections[idx].Text = cut
		sections[idx].Tokens = a.tok.CountTokens(cut)
		total += sections[idx].Tokens
		a.logger.Debug("context section truncated",
			zap.String("section", label), zap.Int("tokens", sections[idx].Tokens))
	}

	metrics.Default().ObserveAssembly(total)
	return &AssembledContext{Sections: sections, TotalTokens: total}, nil
}

// fetchDocuments calls the supplier under the configured timeout and
// formats the ranked passages. Errors and timeouts degrade to an empty
// section.
func (a *Assembler) fetchDocuments(ctx context.Context, query string) string {
	if a.supplier == nil {
		return ""
	}

	sctx, cancel := context.WithTimeout(ctx, a.cfg.SupplierTimeout)
	defer cancel()

	passages, err := a.supplier.Search(sctx, query, a.cfg.DocumentLimit)
	if err != nil {
		a.logger.Warn("document supplier degraded to empty", zap.Error(err))
		return ""
	}
	if len(passages) > a.cfg.DocumentLimit {
		passages = passages[:a.cfg.DocumentLimit]
	}

	lines := make([]string, 0, len(passages))
	for _, p := range passages {
		if p.Text != "" {
			lines = append(lines, "- "+p.Text)
		}
	}
	return types.TruncateToTokens(a.tok, strings.Join(lines, "\n"), a.cfg.DocumentBudget)
}
