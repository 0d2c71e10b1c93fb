package service

import (
	"context"
	"time"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

// TaskService wraps queries over scheduled tasks and completion.
type TaskService struct {
	taskRepo *repository.TaskRepository
}

func NewTaskService(taskRepo *repository.TaskRepository) *TaskService {
	return &TaskService{taskRepo: taskRepo}
}

func (s *TaskService) ListPending(ctx context.Context, user *model.User) ([]model.StudyTask, error) {
	return s.taskRepo.ListPending(ctx, user.ID)
}

func (s *TaskService) ListForDate(ctx context.Context, user *model.User, date time.Time) ([]model.StudyTask, error) {
	return s.taskRepo.ListForDate(ctx, user.ID, date)
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.StudyTask, error) {
	return s.taskRepo.FindByID(ctx, user.ID, taskID)
}

// CompleteTask flips the completion flag. The task keeps its date, even if
// that date already passed.
func (s *TaskService) CompleteTask(ctx context.Context, user *model.User, taskID uint) (*model.StudyTask, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsCompleted {
		return task, nil
	}
	if err := s.taskRepo.MarkCompleted(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
