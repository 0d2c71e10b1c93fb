package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"study-planner/internal/model"
)

// StudyTimeRepository manages the one-per-user study capacity record.
type StudyTimeRepository struct {
	db *gorm.DB
}

func NewStudyTimeRepository(db *gorm.DB) *StudyTimeRepository {
	return &StudyTimeRepository{db: db}
}

// Upsert creates or replaces the user's study time settings.
func (r *StudyTimeRepository) Upsert(ctx context.Context, userID uint, hoursPerDay float64, daysPerWeek int) (*model.StudyTime, error) {
	db := r.db.WithContext(ctx)

	var studyTime model.StudyTime
	err := db.Where("user_id = ?", userID).First(&studyTime).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"hours_per_day": hoursPerDay,
			"days_per_week": daysPerWeek,
		}
		if err := db.Model(&studyTime).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update study time: %w", err)
		}
		return &studyTime, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		studyTime = model.StudyTime{UserID: userID, HoursPerDay: hoursPerDay, DaysPerWeek: daysPerWeek}
		if err := db.Create(&studyTime).Error; err != nil {
			return nil, fmt.Errorf("create study time: %w", err)
		}
		return &studyTime, nil
	default:
		return nil, fmt.Errorf("find study time: %w", err)
	}
}

// FindByUser returns gorm.ErrRecordNotFound when the user never set one.
func (r *StudyTimeRepository) FindByUser(ctx context.Context, userID uint) (*model.StudyTime, error) {
	var studyTime model.StudyTime
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&studyTime).Error; err != nil {
		return nil, err
	}
	return &studyTime, nil
}
