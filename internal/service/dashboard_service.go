package service

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

// ExamRisk classifies whether a subject's pending topics still fit before
// its exam at the user's current capacity.
type ExamRisk int

const (
	RiskNone ExamRisk = iota // no exam, nothing pending, or capacity unknown
	RiskOnTrack
	RiskBehind     // pending topics exceed what fits before the exam
	RiskExamPassed // exam date passed with topics still pending
)

// SubjectProgress is one row of the per-subject breakdown.
type SubjectProgress struct {
	Subject    string
	Total      int
	Completed  int
	Percentage float64
	ExamDate   *time.Time
	Risk       ExamRisk
}

// Dashboard is a snapshot of the user's progress. It is recomputed from
// the current task state on every call and never cached.
type Dashboard struct {
	TotalTasks           int
	CompletedTasks       int
	PendingTasks         int
	MissedTasks          int
	CompletionPercentage float64
	Subjects             []SubjectProgress
	AvgTasksPerDay       float64
	PredictedFinish      *time.Time
}

// DashboardService derives read-only progress views from task state.
type DashboardService struct {
	subjectRepo   *repository.SubjectRepository
	studyTimeRepo *repository.StudyTimeRepository
	taskRepo      *repository.TaskRepository
}

func NewDashboardService(subjectRepo *repository.SubjectRepository, studyTimeRepo *repository.StudyTimeRepository, taskRepo *repository.TaskRepository) *DashboardService {
	return &DashboardService{subjectRepo: subjectRepo, studyTimeRepo: studyTimeRepo, taskRepo: taskRepo}
}

// Build computes the dashboard for one user. Degenerate inputs (no tasks,
// nothing completed yet) yield zero percentages and no prediction rather
// than an error.
func (s *DashboardService) Build(ctx context.Context, user *model.User, today time.Time) (*Dashboard, error) {
	today = model.DateOnly(today)

	tasks, err := s.taskRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	subjects, err := s.subjectRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	capacity := 0
	studyTime, err := s.studyTimeRepo.FindByUser(ctx, user.ID)
	switch {
	case err == nil:
		capacity = studyTime.MaxTasksPerDay()
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Risk stays unknown without a declared capacity.
	default:
		return nil, err
	}

	dash := &Dashboard{}
	perSubject := make(map[uint]*SubjectProgress)

	var firstTaskDate time.Time
	for _, task := range tasks {
		dash.TotalTasks++
		taskDate := model.DateOnly(task.TaskDate)
		if firstTaskDate.IsZero() || taskDate.Before(firstTaskDate) {
			firstTaskDate = taskDate
		}
		if task.IsCompleted {
			dash.CompletedTasks++
		} else {
			dash.PendingTasks++
			if taskDate.Before(today) {
				dash.MissedTasks++
			}
		}
		row, ok := perSubject[task.SubjectID]
		if !ok {
			row = &SubjectProgress{}
			perSubject[task.SubjectID] = row
		}
		row.Total++
		if task.IsCompleted {
			row.Completed++
		}
	}

	if dash.TotalTasks > 0 {
		dash.CompletionPercentage = round2(float64(dash.CompletedTasks) / float64(dash.TotalTasks) * 100)
	}

	// Breakdown rows follow the subject list order; subjects without any
	// tasks are left out, like the original dashboard.
	for i := range subjects {
		subject := &subjects[i]
		row, ok := perSubject[subject.ID]
		if !ok {
			continue
		}
		row.Subject = subject.Name
		if row.Total > 0 {
			row.Percentage = round2(float64(row.Completed) / float64(row.Total) * 100)
		}
		if subject.Exam != nil {
			examDate := model.DateOnly(subject.Exam.ExamDate)
			row.ExamDate = &examDate
			row.Risk = classifyRisk(row.Total-row.Completed, examDate, today, capacity)
		}
		dash.Subjects = append(dash.Subjects, *row)
	}

	// Linear pace projection: completed tasks per day since the earliest
	// scheduled date, extrapolated over what is still pending.
	if dash.TotalTasks > 0 && dash.CompletedTasks > 0 {
		days := int(today.Sub(firstTaskDate).Hours() / 24)
		if days < 1 {
			days = 1
		}
		dash.AvgTasksPerDay = float64(dash.CompletedTasks) / float64(days)
		if dash.PendingTasks > 0 {
			daysLeft := int(math.Ceil(float64(dash.PendingTasks) / dash.AvgTasksPerDay))
			finish := today.AddDate(0, 0, daysLeft)
			dash.PredictedFinish = &finish
		}
	}

	return dash, nil
}

func classifyRisk(pending int, examDate, today time.Time, capacity int) ExamRisk {
	if pending <= 0 {
		return RiskNone
	}
	if !examDate.After(today) {
		return RiskExamPassed
	}
	if capacity < 1 {
		return RiskNone
	}
	daysLeft := int(examDate.Sub(today).Hours() / 24)
	if pending > daysLeft*capacity {
		return RiskBehind
	}
	return RiskOnTrack
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
