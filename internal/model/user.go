package model

import "time"

// User stores Telegram user metadata and anchors all study data.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Subjects   []Subject `gorm:"foreignKey:UserID"`
}
