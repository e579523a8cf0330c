// Package intent classifies queries into intent categories and resolves
// the memory spec each category demands.
package intent

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Category labels what kind of information a query likely needs.
type Category string

const (
	CategoryWorkout   Category = "workout"
	CategoryNutrition Category = "nutrition"
	CategoryRecovery  Category = "recovery"
	CategoryPlanning  Category = "planning"
	CategoryProgress  Category = "progress"

	// CategoryDefault is the fallback for unmatched queries. It is the
	// only category guaranteed to resolve independent of registration.
	CategoryDefault Category = "general"
)

// categoryOrder fixes the iteration order so classification output is
// deterministic.
var categoryOrder = []Category{
	CategoryWorkout,
	CategoryNutrition,
	CategoryRecovery,
	CategoryPlanning,
	CategoryProgress,
}

var defaultTriggers = map[Category][]string{
	CategoryWorkout:   {"workout", "exercise", "training", "gym", "lift", "strength", "cardio", "muscle"},
	CategoryNutrition: {"food", "meal", "eat", "nutrition", "calories", "diet", "protein", "carb", "macro"},
	CategoryRecovery:  {"sleep", "tired", "rest", "recovery", "fatigue", "energy", "soreness"},
	CategoryPlanning:  {"plan", "week", "schedule", "program", "routine"},
	CategoryProgress:  {"weight", "progress", "goal", "target"},
}

var offTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`weather`),
	regexp.MustCompile(`politics`),
	regexp.MustCompile(`news`),
	regexp.MustCompile(`movie`),
	regexp.MustCompile(`capital\s+of`),
	regexp.MustCompile(`president`),
	regexp.MustCompile(`who\s+is\s+\w+\s+\w+$`),
}

var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`how\s+to\s+(starve|purge)`),
	regexp.MustCompile(`(anorexia|bulimia)`),
	regexp.MustCompile(`extreme\s+diet`),
	regexp.MustCompile(`steroids?`),
	regexp.MustCompile(`lose\s+\d+\s+pounds?\s+in\s+(one|two|\d)\s+(day|week)`),
}

// ScreenVerdict is the safety screening outcome for a query.
type ScreenVerdict string

const (
	ScreenOK       ScreenVerdict = "ok"
	ScreenOffTopic ScreenVerdict = "off_topic"
	ScreenHarmful  ScreenVerdict = "harmful"
)

// Classifier maps raw query text to intent categories by lowercased
// substring matching against registered trigger phrases. Classification
// is deterministic and pure.
type Classifier struct {
	triggers map[Category][]string
	order    []Category
	logger   *zap.Logger
}

// NewClassifier creates a classifier with the built-in trigger table.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	triggers := make(map[Category][]string, len(defaultTriggers))
	for cat, words := range defaultTriggers {
		triggers[cat] = append([]string(nil), words...)
	}
	return &Classifier{
		triggers: triggers,
		order:    append([]Category(nil), categoryOrder...),
		logger:   logger.With(zap.String("component", "intent_classifier")),
	}
}

// Register adds trigger phrases for a category, creating the category
// when new. Phrases are matched case-insensitively.
func (c *Classifier) Register(cat Category, phrases ...string) {
	if _, ok := c.triggers[cat]; !ok {
		c.order = append(c.order, cat)
	}
	for _, p := range phrases {
		c.triggers[cat] = append(c.triggers[cat], strings.ToLower(p))
	}
}

// Classify returns every category whose trigger phrases appear in the
// query. Zero matches yields the singleton {CategoryDefault}.
func (c *Classifier) Classify(query string) []Category {
	q := strings.ToLower(query)

	var matched []Category
	for _, cat := range c.order {
		for _, phrase := range c.triggers[cat] {
			if strings.Contains(q, phrase) {
				matched = append(matched, cat)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []Category{CategoryDefault}
	}
	c.logger.Debug("query classified",
		zap.Int("categories", len(matched)))
	return matched
}

// Screen checks a query against off-topic and harmful pattern lists
// before any retrieval happens. Harmful takes precedence.
func (c *Classifier) Screen(query string) ScreenVerdict {
	q := strings.ToLower(query)
	for _, p := range harmfulPatterns {
		if p.MatchString(q) {
			c.logger.Warn("harmful query screened out")
			return ScreenHarmful
		}
	}
	for _, p := range offTopicPatterns {
		if p.MatchString(q) {
			return ScreenOffTopic
		}
	}
	return ScreenOK
}
