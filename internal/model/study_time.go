package model

import "time"

// StudyTime is the user's declared study capacity, one row per user.
// DaysPerWeek is stored but not consulted by the planner yet.
type StudyTime struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"uniqueIndex"`
	HoursPerDay float64
	DaysPerWeek int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MaxTasksPerDay derives the planner capacity from HoursPerDay: the whole
// hours are a coarse stand-in for "topics per day", not real durations.
func (s StudyTime) MaxTasksPerDay() int {
	return int(s.HoursPerDay)
}
