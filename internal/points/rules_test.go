package points

import "testing"

func TestStreakMultiplier(t *testing.T) {
	if got := StreakMultiplier(0); got != 1.0 {
		t.Fatalf("StreakMultiplier(0) = %v, want 1.0", got)
	}
	if got := StreakMultiplier(-3); got != 1.0 {
		t.Fatalf("StreakMultiplier(-3) = %v, want 1.0", got)
	}

	prev := StreakMultiplier(0)
	for d := 1; d <= 365; d++ {
		got := StreakMultiplier(d)
		if got < prev {
			t.Fatalf("multiplier decreased at day %d: %v < %v", d, got, prev)
		}
		if got > 2.0 {
			t.Fatalf("multiplier above cap at day %d: %v", d, got)
		}
		prev = got
	}
	if StreakMultiplier(365) != 2.0 {
		t.Fatalf("expected cap reached after a year")
	}
}

func TestRuleTables(t *testing.T) {
	if ReportBase("Very Large") != 65 || ReportBase(" small ") != 15 || ReportBase("") != 25 {
		t.Fatalf("unexpected report base lookup")
	}
	if TypeMultiplier("Metal") != 1.4 || TypeMultiplier("organic") != 0.9 || TypeMultiplier("") != 1.0 {
		t.Fatalf("unexpected type multiplier lookup")
	}
	if QualityBonus("low") != 5 || QualityBonus("") != 0 {
		t.Fatalf("unexpected quality bonus lookup")
	}
	if DifficultyMultiplier("easy") != 1.0 || DifficultyMultiplier("") != 1.3 || DifficultyMultiplier("hard") != 1.8 {
		t.Fatalf("unexpected difficulty lookup")
	}
	if VerificationBonus(1) != 25 || VerificationBonus(0.5) != 13 || VerificationBonus(0) != 0 {
		t.Fatalf("unexpected verification bonus")
	}
}
