// Package router decides which model tier runs a task. Picking is a pure
// function of the task shape and the remaining budget; no state, no side
// effects.
package router

import "strings"

// Tier identifies a model class with a token ceiling and a per-token price.
type Tier struct {
	Name           string   `json:"name"`
	Models         []string `json:"models"`
	CostPer1KCents float64  `json:"cost_per_1k_cents"`
	MaxTokens      int      `json:"max_tokens"`
}

// The three execution tiers, ordered by capability.
var (
	TierFast = Tier{
		Name:           "fast",
		Models:         []string{"google/gemini-2.5-flash-lite", "openai/gpt-5-nano"},
		CostPer1KCents: 0.01,
		MaxTokens:      4000,
	}
	TierBalanced = Tier{
		Name:           "balanced",
		Models:         []string{"google/gemini-2.5-flash", "openai/gpt-5-mini"},
		CostPer1KCents: 0.05,
		MaxTokens:      8000,
	}
	TierPowerful = Tier{
		Name:           "powerful",
		Models:         []string{"google/gemini-2.5-pro", "openai/gpt-5"},
		CostPer1KCents: 0.20,
		MaxTokens:      32000,
	}
)

// Budget thresholds for tier downgrades, in cents.
const (
	LowBudgetCents      = 50
	CriticalBudgetCents = 20
)

// Task describes the work a model is being picked for.
type Task struct {
	Kind       string `json:"kind"`
	Difficulty int    `json:"difficulty"`
}

// Complexity buckets produced by AnalyzeComplexity.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// PickModel selects the tier for a task given the tenant's remaining daily
// budget. Rules apply in priority order: verification work always runs
// cheap; trivial extraction runs cheap; a low budget forces cheap for any
// nonzero difficulty; everything else gets the powerful tier.
func PickModel(task Task, centsRemaining float64) Tier {
	if task.Kind == "verify" {
		return TierFast
	}
	if task.Kind == "extract" && task.Difficulty == 0 {
		return TierFast
	}
	if centsRemaining < LowBudgetCents && task.Difficulty > 0 {
		return TierFast
	}
	return TierPowerful
}

// AnalyzeComplexity estimates the difficulty bucket of a prompt from its
// length, multi-step language, and whether tools are attached.
func AnalyzeComplexity(prompt string, hasTools bool) Complexity {
	lower := strings.ToLower(prompt)
	multiStep := false
	for _, kw := range []string{"step", "plan", "analyze", "compare", "evaluate", "summarize"} {
		if strings.Contains(lower, kw) {
			multiStep = true
			break
		}
	}
	longForm := len(prompt) > 500

	switch {
	case longForm && multiStep && hasTools:
		return ComplexityExpert
	case multiStep && hasTools:
		return ComplexityComplex
	case hasTools || multiStep:
		return ComplexityModerate
	case len(prompt) > 200:
		return ComplexitySimple
	default:
		return ComplexityTrivial
	}
}

// TierForComplexity maps a complexity bucket to a tier. realtime forces
// the fast tier regardless of complexity.
func TierForComplexity(c Complexity, realtime bool) Tier {
	if realtime {
		return TierFast
	}
	switch c {
	case ComplexityExpert, ComplexityComplex:
		return TierPowerful
	case ComplexityModerate, ComplexitySimple:
		return TierBalanced
	default:
		return TierFast
	}
}

// Downgrade lowers a tier when the remaining budget is tight. Below the
// low-water mark everything runs fast; below the critical mark the
// powerful tier is capped at balanced.
func Downgrade(tier Tier, centsRemaining float64) Tier {
	if centsRemaining < LowBudgetCents && tier.Name != TierFast.Name {
		return TierFast
	}
	if centsRemaining < CriticalBudgetCents && tier.Name == TierPowerful.Name {
		return TierBalanced
	}
	return tier
}

// EstimateCostCents returns the projected cost for a token count at the
// given tier.
func EstimateCostCents(tier Tier, tokens int) float64 {
	return float64(tokens) / 1000 * tier.CostPer1KCents
}
