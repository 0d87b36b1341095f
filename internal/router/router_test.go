package router

import "testing"

func TestPickModel_VerifyAlwaysCheap(t *testing.T) {
	got := PickModel(Task{Kind: "verify", Difficulty: 2}, 0)
	if got.Name != TierFast.Name {
		t.Errorf("verify should always pick fast, got %s", got.Name)
	}
}

func TestPickModel_TrivialExtractCheap(t *testing.T) {
	got := PickModel(Task{Kind: "extract", Difficulty: 0}, 1000)
	if got.Name != TierFast.Name {
		t.Errorf("trivial extract should pick fast, got %s", got.Name)
	}
}

func TestPickModel_LowBudgetDowngrades(t *testing.T) {
	got := PickModel(Task{Kind: "chat", Difficulty: 2}, 5)
	if got.Name != TierFast.Name {
		t.Errorf("low budget should pick fast, got %s", got.Name)
	}
}

func TestPickModel_DefaultPowerful(t *testing.T) {
	got := PickModel(Task{Kind: "chat", Difficulty: 2}, 500)
	if got.Name != TierPowerful.Name {
		t.Errorf("expected powerful, got %s", got.Name)
	}
}

func TestAnalyzeComplexity(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name     string
		prompt   string
		hasTools bool
		want     Complexity
	}{
		{"trivial", "hi", false, ComplexityTrivial},
		{"moderate from keyword", "plan my week", false, ComplexityModerate},
		{"complex from keyword and tools", "compare these vendors", true, ComplexityComplex},
		{"expert from long multi-step with tools", string(long) + " analyze this", true, ComplexityExpert},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AnalyzeComplexity(tc.prompt, tc.hasTools); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTierForComplexity_RealtimeForcesFast(t *testing.T) {
	if got := TierForComplexity(ComplexityExpert, true); got.Name != TierFast.Name {
		t.Errorf("realtime should force fast, got %s", got.Name)
	}
}

func TestDowngrade(t *testing.T) {
	if got := Downgrade(TierPowerful, 30); got.Name != TierFast.Name {
		t.Errorf("below low water should force fast, got %s", got.Name)
	}
	if got := Downgrade(TierPowerful, 100); got.Name != TierPowerful.Name {
		t.Errorf("ample budget should keep powerful, got %s", got.Name)
	}
	if got := Downgrade(TierFast, 1); got.Name != TierFast.Name {
		t.Errorf("fast never downgrades, got %s", got.Name)
	}
}

func TestEstimateCostCents(t *testing.T) {
	got := EstimateCostCents(TierPowerful, 2000)
	if got != 0.4 {
		t.Errorf("expected 0.4, got %v", got)
	}
}
