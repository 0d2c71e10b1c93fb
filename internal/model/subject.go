package model

import "time"

// Subject is one study area owned by a user, with its topics and an
// optional exam date.
type Subject struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;index:idx_user_subject_name,unique"`
	Name      string `gorm:"index:idx_user_subject_name,unique"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Topics    []Topic `gorm:"foreignKey:SubjectID"`
	Exam      *Exam   `gorm:"foreignKey:SubjectID"`
}
