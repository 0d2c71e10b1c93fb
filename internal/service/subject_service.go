package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

// SubjectService provides helpers around subjects, topics, exam dates and
// the user's study settings.
type SubjectService struct {
	subjectRepo   *repository.SubjectRepository
	studyTimeRepo *repository.StudyTimeRepository
}

func NewSubjectService(subjectRepo *repository.SubjectRepository, studyTimeRepo *repository.StudyTimeRepository) *SubjectService {
	return &SubjectService{subjectRepo: subjectRepo, studyTimeRepo: studyTimeRepo}
}

func (s *SubjectService) List(ctx context.Context, user *model.User) ([]model.Subject, error) {
	return s.subjectRepo.ListByUser(ctx, user.ID)
}

func (s *SubjectService) FindByName(ctx context.Context, user *model.User, name string) (*model.Subject, error) {
	return s.subjectRepo.FindByName(ctx, user.ID, strings.TrimSpace(name))
}

// CreateWithTopics creates a subject with an optional topic list and exam
// date in one go, as the /newsubject conversation collects them.
func (s *SubjectService) CreateWithTopics(ctx context.Context, user *model.User, name string, topics []string, examDate *time.Time) (*model.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("subject name is required")
	}

	subject, err := s.subjectRepo.Create(ctx, user.ID, name)
	if err != nil {
		return nil, err
	}

	if _, err := s.AddTopics(ctx, subject.ID, topics); err != nil {
		return nil, err
	}

	if examDate != nil {
		if err := s.subjectRepo.SetExam(ctx, subject.ID, model.DateOnly(*examDate)); err != nil {
			return nil, err
		}
	}

	return subject, nil
}

// AddTopics appends topics in the given order, skipping blanks and names
// the subject already has. Returns the number actually added.
func (s *SubjectService) AddTopics(ctx context.Context, subjectID uint, topics []string) (int, error) {
	existing, err := s.subjectRepo.ListTopics(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing))
	for _, topic := range existing {
		seen[strings.ToLower(topic.Name)] = true
	}

	added := 0
	for _, name := range topics {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		if _, err := s.subjectRepo.AddTopic(ctx, subjectID, name); err != nil {
			return added, err
		}
		seen[strings.ToLower(name)] = true
		added++
	}
	return added, nil
}

func (s *SubjectService) SetExam(ctx context.Context, subjectID uint, examDate time.Time) error {
	return s.subjectRepo.SetExam(ctx, subjectID, model.DateOnly(examDate))
}

// SetStudyTime stores the user's capacity: fractional hours per day and
// study days per week (the latter is informational for now).
func (s *SubjectService) SetStudyTime(ctx context.Context, user *model.User, hoursPerDay float64, daysPerWeek int) (*model.StudyTime, error) {
	if hoursPerDay < 0 {
		return nil, fmt.Errorf("hours per day must not be negative")
	}
	if daysPerWeek < 1 || daysPerWeek > 7 {
		return nil, fmt.Errorf("days per week must be between 1 and 7")
	}
	return s.studyTimeRepo.Upsert(ctx, user.ID, hoursPerDay, daysPerWeek)
}

func (s *SubjectService) StudyTime(ctx context.Context, user *model.User) (*model.StudyTime, error) {
	return s.studyTimeRepo.FindByUser(ctx, user.ID)
}
