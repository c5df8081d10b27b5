package domain

import "time"

// ActionType identifies what produced a point transaction
type ActionType string

const (
	ActionReport      ActionType = "report"
	ActionCleanup     ActionType = "cleanup"
	ActionBonus       ActionType = "bonus"
	ActionPenalty     ActionType = "penalty"
	ActionAchievement ActionType = "achievement"
)

// Valid reports whether the action type is one the ledger accepts
func (a ActionType) Valid() bool {
	switch a {
	case ActionReport, ActionCleanup, ActionBonus, ActionPenalty, ActionAchievement:
		return true
	}
	return false
}

// Multipliers is the multiplicative part of a breakdown, stored as JSON
type Multipliers struct {
	Type   float64 `json:"type"`
	Streak float64 `json:"streak"`
	Rank   float64 `json:"rank"`
	Combo  float64 `json:"combo"`
}

// Bonuses is the additive part of a breakdown, stored as JSON.
// Location and FirstTime are fractions (0.25 means +25%).
type Bonuses struct {
	Quality      int     `json:"quality"`
	AI           int     `json:"ai"`
	Location     float64 `json:"location"`
	FirstTime    float64 `json:"first_time"`
	Verification int     `json:"verification"`
	Speed        int     `json:"speed"`
	Completion   int     `json:"completion"`
}

// RelatedIDs links a transaction to the report or cleanup that caused it
type RelatedIDs struct {
	ReportID  string `json:"report_id,omitempty"`
	CleanupID string `json:"cleanup_id,omitempty"`
}

// PointTransaction is an immutable ledger row
type PointTransaction struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	ActionType    ActionType  `json:"action_type"`
	PointsAwarded int64       `json:"points_awarded"`
	BasePoints    int64       `json:"base_points"`
	Multipliers   Multipliers `json:"multipliers"`
	Bonuses       Bonuses     `json:"bonuses"`
	Related       RelatedIDs  `json:"related"`
	Description   string      `json:"description,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Breakdown enumerates every factor that went into an award
type Breakdown struct {
	BasePoints           int64   `json:"base_points"`
	TypeMultiplier       float64 `json:"type_multiplier,omitempty"`
	QualityBonus         int     `json:"quality_bonus,omitempty"`
	AIBonus              int     `json:"ai_bonus,omitempty"`
	VerificationBonus    int     `json:"verification_bonus,omitempty"`
	DifficultyMultiplier float64 `json:"difficulty_multiplier,omitempty"`
	SpeedBonus           int     `json:"speed_bonus,omitempty"`
	CompletionBonus      int     `json:"completion_bonus,omitempty"`
	LocationBonus        float64 `json:"location_bonus"`
	FirstTimeBonus       float64 `json:"first_time_bonus"`
	StreakMultiplier     float64 `json:"streak_multiplier"`
	ComboMultiplier      float64 `json:"combo_multiplier"`
	RankMultiplier       float64 `json:"rank_multiplier"`
	TotalPoints          int64   `json:"total_points"`
	Fallback             bool    `json:"fallback,omitempty"`
}

// Multipliers projects the multiplicative factors of the breakdown
func (b Breakdown) Multipliers() Multipliers {
	typ := b.TypeMultiplier
	if typ == 0 {
		typ = b.DifficultyMultiplier
	}
	if typ == 0 {
		typ = 1
	}
	return Multipliers{
		Type:   typ,
		Streak: orOne(b.StreakMultiplier),
		Rank:   orOne(b.RankMultiplier),
		Combo:  b.ComboMultiplier,
	}
}

// Bonuses projects the additive factors of the breakdown
func (b Breakdown) Bonuses() Bonuses {
	return Bonuses{
		Quality:      b.QualityBonus,
		AI:           b.AIBonus,
		Location:     b.LocationBonus,
		FirstTime:    b.FirstTimeBonus,
		Verification: b.VerificationBonus,
		Speed:        b.SpeedBonus,
		Completion:   b.CompletionBonus,
	}
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
