package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"study-planner/internal/model"
)

// SubjectRepository manages subjects, their topics and exam dates.
type SubjectRepository struct {
	db *gorm.DB
}

func NewSubjectRepository(db *gorm.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

func (r *SubjectRepository) Create(ctx context.Context, userID uint, name string) (*model.Subject, error) {
	subject := model.Subject{UserID: userID, Name: name}
	if err := r.db.WithContext(ctx).Create(&subject).Error; err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	return &subject, nil
}

// FindByName looks up one of the user's subjects by exact name.
// Returns gorm.ErrRecordNotFound when there is no such subject.
func (r *SubjectRepository) FindByName(ctx context.Context, userID uint, name string) (*model.Subject, error) {
	var subject model.Subject
	if err := r.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&subject).Error; err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListByUser returns the user's subjects with topics and exam preloaded.
// Topics come back in insertion order, which is the order the planner
// schedules them in.
func (r *SubjectRepository) ListByUser(ctx context.Context, userID uint) ([]model.Subject, error) {
	var subjects []model.Subject
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Topics", func(db *gorm.DB) *gorm.DB { return db.Order("topics.id ASC") }).
		Preload("Exam").
		Order("id ASC").
		Find(&subjects).Error
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

func (r *SubjectRepository) AddTopic(ctx context.Context, subjectID uint, name string) (*model.Topic, error) {
	topic := model.Topic{SubjectID: subjectID, Name: name}
	if err := r.db.WithContext(ctx).Create(&topic).Error; err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &topic, nil
}

func (r *SubjectRepository) ListTopics(ctx context.Context, subjectID uint) ([]model.Topic, error) {
	var topics []model.Topic
	if err := r.db.WithContext(ctx).Where("subject_id = ?", subjectID).Order("id ASC").Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// SetExam stores the subject's exam date, overwriting a previous one.
func (r *SubjectRepository) SetExam(ctx context.Context, subjectID uint, examDate time.Time) error {
	db := r.db.WithContext(ctx)

	var exam model.Exam
	err := db.Where("subject_id = ?", subjectID).First(&exam).Error
	switch {
	case err == nil:
		if err := db.Model(&exam).Update("exam_date", examDate).Error; err != nil {
			return fmt.Errorf("update exam: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		exam = model.Exam{SubjectID: subjectID, ExamDate: examDate}
		if err := db.Create(&exam).Error; err != nil {
			return fmt.Errorf("create exam: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find exam: %w", err)
	}
}
