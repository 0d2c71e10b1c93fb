package model

import "time"

// Topic is the smallest unit of study content. Once planned it maps to at
// most one StudyTask per user.
type Topic struct {
	ID        uint `gorm:"primaryKey"`
	SubjectID uint `gorm:"index"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
