package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"study-planner/internal/model"
)

// TaskRepository handles the scheduled study tasks and the filters the
// planner and rescheduler run on them.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// CreateBatch inserts all tasks of one planner run in a single
// transaction, so a failure commits nothing.
func (r *TaskRepository) CreateBatch(ctx context.Context, tasks []*model.StudyTask) error {
	if len(tasks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, task := range tasks {
			if err := tx.Create(task).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}
	return nil
}

// UpdateDates moves tasks to new dates in a single transaction.
func (r *TaskRepository) UpdateDates(ctx context.Context, moves map[uint]time.Time) error {
	if len(moves) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for taskID, date := range moves {
			res := tx.Model(&model.StudyTask{}).Where("id = ?", taskID).Update("task_date", date)
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("move tasks: %w", err)
	}
	return nil
}

// MapByTopic returns the user's tasks keyed by topic id. The planner uses
// it for the one-task-per-topic check.
func (r *TaskRepository) MapByTopic(ctx context.Context, userID uint) (map[uint]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	byTopic := make(map[uint]model.StudyTask, len(tasks))
	for _, task := range tasks {
		byTopic[task.TopicID] = task
	}
	return byTopic, nil
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID uint) ([]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("task_date ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListPending(ctx context.Context, userID uint) ([]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ? AND is_completed = ?", userID, false).
		Order("task_date ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListForDate(ctx context.Context, userID uint, date time.Time) ([]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ? AND task_date = ?", userID, model.DateOnly(date)).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks for date: %w", err)
	}
	return tasks, nil
}

// ListMissed returns every incomplete task dated before the given day,
// oldest first, across all users.
func (r *TaskRepository) ListMissed(ctx context.Context, before time.Time) ([]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("task_date < ? AND is_completed = ?", model.DateOnly(before), false).
		Order("task_date ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list missed tasks: %w", err)
	}
	return tasks, nil
}

// ListMissedByUser is ListMissed scoped to a single user.
func (r *TaskRepository) ListMissedByUser(ctx context.Context, userID uint, before time.Time) ([]model.StudyTask, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ? AND task_date < ? AND is_completed = ?", userID, model.DateOnly(before), false).
		Order("task_date ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list missed tasks: %w", err)
	}
	return tasks, nil
}

// OccupiedDates returns the set of days that already carry a task for the
// user, completed or not.
func (r *TaskRepository) OccupiedDates(ctx context.Context, userID uint) (map[time.Time]bool, error) {
	var tasks []model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	occupied := make(map[time.Time]bool, len(tasks))
	for _, task := range tasks {
		occupied[model.DateOnly(task.TaskDate)] = true
	}
	return occupied, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID uint) (*model.StudyTask, error) {
	var task model.StudyTask
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) MarkCompleted(ctx context.Context, task *model.StudyTask) error {
	task.IsCompleted = true
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}
