package domain

// DefaultCatalog is the achievement set seeded at startup
func DefaultCatalog() []Achievement {
	return []Achievement{
		{ID: "first-steps", Title: "First Steps", Description: "Complete your first trash pickup", Icon: "eco", Category: "beginner", AchievementType: AchievementCleanups, ThresholdValue: 1, PointsReward: 50, Rarity: RarityCommon},
		{ID: "reporter", Title: "Reporter", Description: "Submit your first trash report", Icon: "camera_alt", Category: "beginner", AchievementType: AchievementReports, ThresholdValue: 1, PointsReward: 25, Rarity: RarityCommon},
		{ID: "cleanup-novice", Title: "Cleanup Novice", Description: "Complete 5 trash pickups", Icon: "cleaning_services", Category: "cleanup", AchievementType: AchievementCleanups, ThresholdValue: 5, PointsReward: 100, Rarity: RarityCommon},
		{ID: "point-collector", Title: "Point Collector", Description: "Earn 500 points", Icon: "star", Category: "points", AchievementType: AchievementPoints, ThresholdValue: 500, PointsReward: 100, Rarity: RarityCommon},
		{ID: "cleanup-expert", Title: "Cleanup Expert", Description: "Complete 25 trash pickups", Icon: "workspace_premium", Category: "cleanup", AchievementType: AchievementCleanups, ThresholdValue: 25, PointsReward: 500, Rarity: RarityUncommon},
		{ID: "dedicated-reporter", Title: "Dedicated Reporter", Description: "Submit 10 trash reports", Icon: "report", Category: "social", AchievementType: AchievementReports, ThresholdValue: 10, PointsReward: 250, Rarity: RarityUncommon},
		{ID: "week-warrior", Title: "Week Warrior", Description: "Maintain a 7-day streak", Icon: "local_fire_department", Category: "streak", AchievementType: AchievementStreak, ThresholdValue: 7, PointsReward: 300, Rarity: RarityUncommon},
		{ID: "point-master", Title: "Point Master", Description: "Earn 2500 points", Icon: "emoji_events", Category: "points", AchievementType: AchievementPoints, ThresholdValue: 2500, PointsReward: 500, Rarity: RarityUncommon},
		{ID: "cleanup-champion", Title: "Cleanup Champion", Description: "Complete 50 trash pickups", Icon: "military_tech", Category: "cleanup", AchievementType: AchievementCleanups, ThresholdValue: 50, PointsReward: 1000, Rarity: RarityRare},
		{ID: "community-hero", Title: "Community Hero", Description: "Submit 25 trash reports", Icon: "volunteer_activism", Category: "social", AchievementType: AchievementReports, ThresholdValue: 25, PointsReward: 500, Rarity: RarityRare},
		{ID: "streak-legend", Title: "Streak Legend", Description: "Maintain a 30-day streak", Icon: "whatshot", Category: "streak", AchievementType: AchievementStreak, ThresholdValue: 30, PointsReward: 1000, Rarity: RarityRare},
		{ID: "point-legend", Title: "Point Legend", Description: "Earn 10000 points", Icon: "diamond", Category: "points", AchievementType: AchievementPoints, ThresholdValue: 10000, PointsReward: 2000, Rarity: RarityLegendary},
		{ID: "cleanup-master", Title: "Cleanup Master", Description: "Complete 100 trash pickups", Icon: "shield", Category: "cleanup", AchievementType: AchievementCleanups, ThresholdValue: 100, PointsReward: 2500, Rarity: RarityLegendary},
	}
}
