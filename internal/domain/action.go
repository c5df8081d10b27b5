package domain

// ReportContext describes a submitted trash report.
// Severity and AI description come from the media analysis service.
type ReportContext struct {
	ReportID         string   `json:"report_id,omitempty"`
	Size             string   `json:"size"`
	TrashType        string   `json:"trash_type"`
	Severity         string   `json:"severity,omitempty"`
	HasAIDescription bool     `json:"has_ai_description"`
	TrashTypes       []string `json:"trash_types,omitempty"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	TrashCount       int      `json:"trash_count,omitempty"`
}

// CleanupContext describes a verified cleanup session
type CleanupContext struct {
	CleanupID              string  `json:"cleanup_id,omitempty"`
	ReportID               string  `json:"report_id,omitempty"`
	VerificationConfidence float64 `json:"verification_confidence"`
	Verified               bool    `json:"verified"`
	TimeTakenSeconds       int     `json:"time_taken_seconds"`
	Difficulty             string  `json:"difficulty,omitempty"`
	Latitude               float64 `json:"latitude"`
	Longitude              float64 `json:"longitude"`
}

// Award is the calculator's output for a single action
type Award struct {
	Points    int64     `json:"points"`
	Breakdown Breakdown `json:"breakdown"`
}

// AwardResult is returned to callers of the award operations
type AwardResult struct {
	TransactionID   string                `json:"transaction_id"`
	PointsAwarded   int64                 `json:"points_awarded"`
	Breakdown       Breakdown             `json:"breakdown"`
	NewAchievements []UnlockedAchievement `json:"new_achievements"`
	TotalPoints     int64                 `json:"total_points"`
	Rank            string                `json:"rank"`
	Level           int                   `json:"level"`
}

// ProgressSnapshot summarizes a user's standing in the rank table
type ProgressSnapshot struct {
	UserID            string  `json:"user_id"`
	Points            int64   `json:"points"`
	WeeklyPoints      int64   `json:"weekly_points"`
	MonthlyPoints     int64   `json:"monthly_points"`
	Rank              string  `json:"rank"`
	Level             int     `json:"level"`
	Multiplier        float64 `json:"multiplier"`
	StreakDays        int     `json:"streak_days"`
	ComboStreak       int     `json:"combo_streak"`
	MaxComboStreak    int     `json:"max_combo_streak"`
	NextRank          string  `json:"next_rank,omitempty"`
	NextRankThreshold *int64  `json:"next_rank_threshold,omitempty"`
	PointsToNextRank  int64   `json:"points_to_next_rank"`
	ProgressPercent   float64 `json:"progress_percent"`
}
