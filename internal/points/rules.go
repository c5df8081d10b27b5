package points

import (
	"math"
	"strings"
)

// Fallback awards used when a calculation cannot complete
const (
	ReportFallback  int64 = 20
	CleanupFallback int64 = 30
)

const (
	defaultReportBase = 25
	aiBonus           = 8

	cleanupBase            = 30
	maxVerificationBonus   = 25
	defaultDifficultyValue = 1.3
	speedBonus             = 10
	speedLimitSeconds      = 600
	completionBonus        = 20

	streakBase    = 1.05
	maxStreakMult = 2.0
)

// keys are lower-cased before lookup
var reportBase = map[string]int{
	"small":      15,
	"medium":     25,
	"large":      40,
	"very large": 65,
}

var typeMultipliers = map[string]float64{
	"general":   1.0,
	"plastic":   1.3,
	"glass":     1.2,
	"metal":     1.4,
	"organic":   0.9,
	"hazardous": 2.5,
}

var qualityBonuses = map[string]int{
	"high":   15,
	"medium": 10,
	"low":    5,
}

var difficultyMultipliers = map[string]float64{
	"easy":   1.0,
	"medium": 1.3,
	"hard":   1.8,
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ReportBase returns the base points for a report size, 25 when unknown
func ReportBase(size string) int {
	if v, ok := reportBase[key(size)]; ok {
		return v
	}
	return defaultReportBase
}

// TypeMultiplier returns the trash type multiplier, 1.0 when unknown
func TypeMultiplier(trashType string) float64 {
	if v, ok := typeMultipliers[key(trashType)]; ok {
		return v
	}
	return 1.0
}

// QualityBonus returns the severity bonus, 0 when absent or unknown
func QualityBonus(severity string) int {
	return qualityBonuses[key(severity)]
}

// DifficultyMultiplier returns the cleanup difficulty multiplier.
// Missing and unknown difficulties are scored as medium.
func DifficultyMultiplier(difficulty string) float64 {
	if v, ok := difficultyMultipliers[key(difficulty)]; ok {
		return v
	}
	return defaultDifficultyValue
}

// VerificationBonus scales a 0..1 confidence to at most 25 points
func VerificationBonus(confidence float64) int {
	return int(math.Round(confidence * maxVerificationBonus))
}

// StreakMultiplier is 1.05^days capped at 2.0
func StreakMultiplier(days int) float64 {
	if days <= 0 {
		return 1.0
	}
	return math.Min(math.Pow(streakBase, float64(days)), maxStreakMult)
}
