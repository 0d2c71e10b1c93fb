package model

import "time"

// StudyTask schedules one topic onto one calendar date for a user.
// At most one task per (user, topic) pair ever exists. Tasks are created
// by the planner, moved by the rescheduler and completed by the user.
type StudyTask struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"index;index:idx_user_topic,unique"`
	SubjectID   uint      `gorm:"index"`
	TopicID     uint      `gorm:"index:idx_user_topic,unique"`
	TaskDate    time.Time `gorm:"index"`
	IsCompleted bool      `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
