package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_SingleCategory(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	tests := []struct {
		query string
		want  Category
	}{
		{"what workout should I do?", CategoryWorkout},
		{"how much protein do I need", CategoryNutrition},
		{"I feel so tired lately", CategoryRecovery},
		{"build me a schedule", CategoryPlanning},
		{"am I making progress?", CategoryProgress},
	}
	for _, tt := range tests {
		assert.Equal(t, []Category{tt.want}, c.Classify(tt.query), tt.query)
	}
}

func TestClassifier_MultipleCategories(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	got := c.Classify("plan my meals and workouts for the week")
	assert.Equal(t, []Category{CategoryWorkout, CategoryNutrition, CategoryPlanning}, got)
}

func TestClassifier_NoMatchYieldsDefault(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	assert.Equal(t, []Category{CategoryDefault}, c.Classify("hello there"))
	assert.Equal(t, []Category{CategoryDefault}, c.Classify(""))
}

func TestClassifier_MatchingIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	assert.Equal(t, []Category{CategoryWorkout}, c.Classify("BEST GYM NEAR ME"))
}

func TestClassifier_Register(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	c.Register(CategoryRecovery, "burnt out")
	assert.Equal(t, []Category{CategoryRecovery}, c.Classify("I am feeling burnt out"))

	c.Register(Category("hydration"), "water", "thirsty")
	assert.Equal(t, []Category{Category("hydration")}, c.Classify("how much water should I drink"))
}

func TestClassifier_Screen(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	tests := []struct {
		query string
		want  ScreenVerdict
	}{
		{"what should I eat before the gym", ScreenOK},
		{"what's the weather like today", ScreenOffTopic},
		{"who won the election, politics wise", ScreenOffTopic},
		{"how to starve myself", ScreenHarmful},
		{"should I take steroids", ScreenHarmful},
		{"lose 20 pounds in one week", ScreenHarmful},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Screen(tt.query), tt.query)
	}
}
