package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

// Planner precondition failures. Both are detected before any mutation and
// surfaced to the caller as-is.
var (
	ErrStudyTimeNotSet = errors.New("study time is not configured")
	ErrStudyTimeTooLow = errors.New("study time is too low to plan even one topic per day")
)

// PlannerService builds study plans and repairs them after missed days.
type PlannerService struct {
	subjectRepo   *repository.SubjectRepository
	studyTimeRepo *repository.StudyTimeRepository
	taskRepo      *repository.TaskRepository
}

func NewPlannerService(subjectRepo *repository.SubjectRepository, studyTimeRepo *repository.StudyTimeRepository, taskRepo *repository.TaskRepository) *PlannerService {
	return &PlannerService{subjectRepo: subjectRepo, studyTimeRepo: studyTimeRepo, taskRepo: taskRepo}
}

// GeneratePlan allocates one task per unplanned topic onto the days before
// each subject's exam, at most MaxTasksPerDay per subject per day. Each
// subject walks its own date cursor starting at today; subjects know
// nothing about each other's allocations, so two subjects may fill the
// same day. Topics that do not fit before the exam are left unplanned.
// Re-running is idempotent: a topic that already has a task is skipped
// without consuming capacity. All inserts commit as one transaction.
func (s *PlannerService) GeneratePlan(ctx context.Context, user *model.User, today time.Time) (int, error) {
	studyTime, err := s.studyTimeRepo.FindByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrStudyTimeNotSet
		}
		return 0, fmt.Errorf("load study time: %w", err)
	}

	capacity := studyTime.MaxTasksPerDay()
	if capacity < 1 {
		return 0, ErrStudyTimeTooLow
	}

	subjects, err := s.subjectRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	planned, err := s.taskRepo.MapByTopic(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	today = model.DateOnly(today)

	var created []*model.StudyTask
	for i := range subjects {
		subject := &subjects[i]
		if subject.Exam == nil || len(subject.Topics) == 0 {
			continue
		}

		examDate := model.DateOnly(subject.Exam.ExamDate)
		current := today
		tasksToday := 0

		for _, topic := range subject.Topics {
			if _, ok := planned[topic.ID]; ok {
				continue
			}
			if tasksToday >= capacity {
				current = current.AddDate(0, 0, 1)
				tasksToday = 0
			}
			// Checked after the capacity rollover too, so a full day can
			// never push a task onto the exam date.
			if !current.Before(examDate) {
				break
			}
			created = append(created, &model.StudyTask{
				UserID:    user.ID,
				SubjectID: subject.ID,
				TopicID:   topic.ID,
				TaskDate:  current,
			})
			tasksToday++
		}
	}

	if len(created) == 0 {
		return 0, nil
	}
	if err := s.taskRepo.CreateBatch(ctx, created); err != nil {
		return 0, fmt.Errorf("save plan: %w", err)
	}
	return len(created), nil
}

// RescheduleMissedForUser moves the user's overdue incomplete tasks onto
// the days after today, oldest original date first. The cursor starts at
// today+1, skips days that already carry a task for this user (including
// ones placed earlier in the same run) and always advances past a placed
// task, so no two repairs share a day. Completion flags stay untouched.
// All moves commit as one transaction.
func (s *PlannerService) RescheduleMissedForUser(ctx context.Context, userID uint, today time.Time) (int, error) {
	today = model.DateOnly(today)

	missed, err := s.taskRepo.ListMissedByUser(ctx, userID, today)
	if err != nil {
		return 0, err
	}
	if len(missed) == 0 {
		return 0, nil
	}

	occupied, err := s.taskRepo.OccupiedDates(ctx, userID)
	if err != nil {
		return 0, err
	}

	moves := make(map[uint]time.Time, len(missed))
	candidate := today.AddDate(0, 0, 1)
	for i := range missed {
		for occupied[candidate] {
			candidate = candidate.AddDate(0, 0, 1)
		}
		moves[missed[i].ID] = candidate
		occupied[candidate] = true
		candidate = candidate.AddDate(0, 0, 1)
	}

	if err := s.taskRepo.UpdateDates(ctx, moves); err != nil {
		return 0, fmt.Errorf("save reschedule: %w", err)
	}
	return len(moves), nil
}

// RescheduleMissed repairs the plan of every user with missed tasks. Each
// user gets an independent date cursor, so one user's backlog never pushes
// another user's dates forward. Used by the nightly job.
func (s *PlannerService) RescheduleMissed(ctx context.Context, today time.Time) (int, error) {
	missed, err := s.taskRepo.ListMissed(ctx, today)
	if err != nil {
		return 0, err
	}

	var userIDs []uint
	seen := make(map[uint]bool)
	for _, task := range missed {
		if !seen[task.UserID] {
			seen[task.UserID] = true
			userIDs = append(userIDs, task.UserID)
		}
	}

	total := 0
	for _, userID := range userIDs {
		moved, err := s.RescheduleMissedForUser(ctx, userID, today)
		if err != nil {
			return total, fmt.Errorf("reschedule user %d: %w", userID, err)
		}
		total += moved
	}
	return total, nil
}
