package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

// AgendaService builds human-readable daily summaries for notifications.
type AgendaService struct {
	subjectRepo *repository.SubjectRepository
	taskRepo    *repository.TaskRepository
}

func NewAgendaService(subjectRepo *repository.SubjectRepository, taskRepo *repository.TaskRepository) *AgendaService {
	return &AgendaService{subjectRepo: subjectRepo, taskRepo: taskRepo}
}

// topicNames maps topic id to "topic" and subject id to "subject" labels
// for rendering tasks.
type nameIndex struct {
	topics   map[uint]string
	subjects map[uint]string
}

func (s *AgendaService) names(ctx context.Context, userID uint) (nameIndex, error) {
	subjects, err := s.subjectRepo.ListByUser(ctx, userID)
	if err != nil {
		return nameIndex{}, err
	}
	idx := nameIndex{
		topics:   make(map[uint]string),
		subjects: make(map[uint]string),
	}
	for _, subject := range subjects {
		idx.subjects[subject.ID] = subject.Name
		for _, topic := range subject.Topics {
			idx.topics[topic.ID] = topic.Name
		}
	}
	return idx, nil
}

// DailyAgenda renders today's study tasks, the missed backlog and the
// exams coming up within a week.
func (s *AgendaService) DailyAgenda(ctx context.Context, user model.User, now time.Time) (string, error) {
	today := model.DateOnly(now)

	idx, err := s.names(ctx, user.ID)
	if err != nil {
		return "", err
	}

	todays, err := s.taskRepo.ListForDate(ctx, user.ID, today)
	if err != nil {
		return "", err
	}

	missed, err := s.taskRepo.ListMissedByUser(ctx, user.ID, today)
	if err != nil {
		return "", err
	}

	subjects, err := s.subjectRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📚 <b>План на сегодня</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", today.Format("02.01.2006")))

	if len(todays) == 0 {
		builder.WriteString("— на сегодня тем нет\n")
	} else {
		for _, task := range todays {
			builder.WriteString(formatAgendaTask(task, idx))
		}
	}

	if len(missed) > 0 {
		builder.WriteString(fmt.Sprintf("\n⚠️ Пропущено тем: <b>%d</b>. Набери /reschedule, чтобы перенести их.\n", len(missed)))
	}

	var exams []string
	for _, subject := range subjects {
		if subject.Exam == nil {
			continue
		}
		examDate := model.DateOnly(subject.Exam.ExamDate)
		daysLeft := int(examDate.Sub(today).Hours() / 24)
		if daysLeft < 0 || daysLeft > 7 {
			continue
		}
		exams = append(exams, fmt.Sprintf("• %s — %s (осталось %d дн.)", escapeHTML(subject.Name), examDate.Format("2006-01-02"), daysLeft))
	}
	if len(exams) > 0 {
		builder.WriteString("\n🎯 <b>Экзамены на этой неделе</b>\n")
		builder.WriteString(strings.Join(exams, "\n"))
		builder.WriteByte('\n')
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatAgendaTask(task model.StudyTask, idx nameIndex) string {
	topic := idx.topics[task.TopicID]
	subject := idx.subjects[task.SubjectID]
	icon := "🟢"
	if task.IsCompleted {
		icon = "✅"
	}
	return fmt.Sprintf("%s <b>#%d</b> %s <i>(%s)</i>\n", icon, task.ID, escapeHTML(topic), escapeHTML(subject))
}

func escapeHTML(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
