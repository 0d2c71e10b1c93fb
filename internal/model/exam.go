package model

import "time"

// Exam holds the single exam date of a subject. Setting it again
// overwrites the previous date.
type Exam struct {
	ID        uint `gorm:"primaryKey"`
	SubjectID uint `gorm:"uniqueIndex"`
	ExamDate  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
