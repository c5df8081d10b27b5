package domain

import "time"

// AchievementType selects which user stat an achievement tracks
type AchievementType string

const (
	AchievementCleanups AchievementType = "cleanups"
	AchievementReports  AchievementType = "reports"
	AchievementPoints   AchievementType = "points"
	AchievementStreak   AchievementType = "streak"
)

// Rarity of an achievement
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityLegendary Rarity = "legendary"
)

// Achievement is a static catalog entry
type Achievement struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Icon            string          `json:"icon"`
	Category        string          `json:"category"`
	AchievementType AchievementType `json:"achievement_type"`
	ThresholdValue  int64           `json:"threshold_value"`
	PointsReward    int64           `json:"points_reward"`
	Rarity          Rarity          `json:"rarity"`
}

// UserAchievement is unique on (UserID, AchievementID)
type UserAchievement struct {
	UserID           string    `json:"user_id"`
	AchievementID    string    `json:"achievement_id"`
	UnlockedAt       time.Time `json:"unlocked_at"`
	ProgressAtUnlock int64     `json:"progress_at_unlock"`
}

// UnlockedAchievement is reported to the client after an unlock
type UnlockedAchievement struct {
	Achievement
	UnlockedAt    time.Time `json:"unlocked_at"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

// AchievementProgress is a catalog entry annotated with a user's progress
type AchievementProgress struct {
	Achievement
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	Progress    int64      `json:"progress"`
	MaxProgress int64      `json:"max_progress"`
}
