package scan

import "time"

// DayLog is what the user recorded about the scan day.
type DayLog struct {
	UserID          string    `json:"userId"`
	Date            string    `json:"date"`
	Workout         string    `json:"workout,omitempty"`
	WorkoutMinutes  int       `json:"workoutMinutes,omitempty"`
	CaloriesKcal    int       `json:"caloriesKcal,omitempty"`
	ProteinGrams    int       `json:"proteinGrams,omitempty"`
	SleepHours      float64   `json:"sleepHours,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	WaterLiters     float64   `json:"waterLiters,omitempty"`
	StepCount       int       `json:"stepCount,omitempty"`
	SelfReportedKg  *float64  `json:"selfReportedKg,omitempty"`
	PerceivedEffort int       `json:"perceivedEffort,omitempty"`
}

// HasWorkout reports whether any training was logged.
func (d *DayLog) HasWorkout() bool {
	return d != nil && (d.Workout != "" || d.WorkoutMinutes > 0)
}

// HasNutrition reports whether any intake was logged.
func (d *DayLog) HasNutrition() bool {
	return d != nil && (d.CaloriesKcal > 0 || d.ProteinGrams > 0)
}

// PrivacySettings are the user's sharing toggles. A missing record means
// nothing beyond activity is shared.
type PrivacySettings struct {
	ShowTrend       bool `json:"showTrend"`
	ShowWeight      bool `json:"showWeight"`
	ShowLastInsight bool `json:"showLastInsight"`
	ShowBadges      bool `json:"showBadges"`
	ShowLeanMass    bool `json:"showLeanMass"`
	ShowBodyFat     bool `json:"showBodyFat"`
}

// Profile holds the user's goals and sharing preferences.
type Profile struct {
	UserID         string           `json:"userId"`
	Goal           string           `json:"goal,omitempty"`
	Level          string           `json:"level,omitempty"`
	TargetWeightKg *float64         `json:"targetWeightKg,omitempty"`
	Badges         []string         `json:"badges,omitempty"`
	Privacy        *PrivacySettings `json:"privacy,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}
