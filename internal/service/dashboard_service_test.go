package service

import (
	"context"
	"testing"

	"study-planner/internal/model"
)

func newDashboardService(env *plannerEnv) *DashboardService {
	return NewDashboardService(env.subjects, env.studyTimes, env.tasks)
}

func seedTasks(t *testing.T, env *plannerEnv, tasks []*model.StudyTask) {
	t.Helper()
	if err := env.tasks.CreateBatch(context.Background(), tasks); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
}

func TestDashboardEmptyPlan(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 200)

	dash, err := newDashboardService(env).Build(context.Background(), user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}
	if dash.TotalTasks != 0 || dash.CompletionPercentage != 0 {
		t.Fatalf("expected zero dashboard, got %+v", dash)
	}
	if dash.PredictedFinish != nil {
		t.Fatal("empty plan must not produce a prediction")
	}
}

func TestDashboardCountsAndPercentage(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 201)
	exam := day(testToday, 10)
	subject := env.addSubject(t, user.ID, "Математика", []string{"Т1", "Т2", "Т3"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	tasks := []*model.StudyTask{
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[0].ID, TaskDate: day(testToday, -2)},
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[1].ID, TaskDate: day(testToday, -1)},
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[2].ID, TaskDate: day(testToday, 1)},
	}
	seedTasks(t, env, tasks)
	if err := env.tasks.MarkCompleted(ctx, tasks[0]); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	dash, err := newDashboardService(env).Build(ctx, user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}
	if dash.TotalTasks != 3 || dash.CompletedTasks != 1 || dash.PendingTasks != 2 {
		t.Fatalf("unexpected counts: %+v", dash)
	}
	// Only the incomplete past task counts as missed.
	if dash.MissedTasks != 1 {
		t.Fatalf("expected 1 missed task, got %d", dash.MissedTasks)
	}
	if dash.CompletionPercentage != 33.33 {
		t.Fatalf("expected 33.33%%, got %v", dash.CompletionPercentage)
	}
	if len(dash.Subjects) != 1 || dash.Subjects[0].Subject != "Математика" {
		t.Fatalf("unexpected subject rows: %+v", dash.Subjects)
	}
}

func TestDashboardPredictedFinish(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 202)
	exam := day(testToday, 30)
	subject := env.addSubject(t, user.ID, "Физика", []string{"Т1", "Т2", "Т3", "Т4", "Т5"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	var tasks []*model.StudyTask
	for i, topic := range topics {
		tasks = append(tasks, &model.StudyTask{
			UserID: user.ID, SubjectID: subject.ID, TopicID: topic.ID, TaskDate: day(testToday, i-4),
		})
	}
	seedTasks(t, env, tasks)
	// 2 completed over the 4 days since the earliest task: 0.5 per day.
	for _, task := range tasks[:2] {
		if err := env.tasks.MarkCompleted(ctx, task); err != nil {
			t.Fatalf("complete task: %v", err)
		}
	}

	dash, err := newDashboardService(env).Build(ctx, user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}
	if dash.AvgTasksPerDay != 0.5 {
		t.Fatalf("expected pace 0.5, got %v", dash.AvgTasksPerDay)
	}
	if dash.PredictedFinish == nil {
		t.Fatal("expected a predicted finish date")
	}
	// 3 pending at 0.5 per day: 6 more days.
	if want := day(testToday, 6); !dash.PredictedFinish.Equal(want) {
		t.Fatalf("predicted finish %s, want %s", dash.PredictedFinish, want)
	}
}

func TestDashboardNoPredictionWithoutCompletions(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 203)
	exam := day(testToday, 10)
	subject := env.addSubject(t, user.ID, "Химия", []string{"Т1"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	seedTasks(t, env, []*model.StudyTask{
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[0].ID, TaskDate: day(testToday, 1)},
	})

	dash, err := newDashboardService(env).Build(ctx, user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}
	if dash.AvgTasksPerDay != 0 || dash.PredictedFinish != nil {
		t.Fatalf("expected no pace or prediction, got %+v", dash)
	}
}

func TestDashboardExamRisk(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 204)
	env.setStudyTime(t, user.ID, 1)

	behindExam := day(testToday, 2)
	behind := env.addSubject(t, user.ID, "Завал", []string{"Т1", "Т2", "Т3"}, &behindExam)
	okExam := day(testToday, 10)
	onTrack := env.addSubject(t, user.ID, "Норма", []string{"Т1"}, &okExam)
	passedExam := day(testToday, -1)
	passed := env.addSubject(t, user.ID, "Прошёл", []string{"Т1"}, &passedExam)

	ctx := context.Background()
	for _, subject := range []*model.Subject{behind, onTrack, passed} {
		topics, err := env.subjects.ListTopics(ctx, subject.ID)
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		for i, topic := range topics {
			seedTasks(t, env, []*model.StudyTask{
				{UserID: user.ID, SubjectID: subject.ID, TopicID: topic.ID, TaskDate: day(testToday, i)},
			})
		}
	}

	dash, err := newDashboardService(env).Build(ctx, user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}

	risks := make(map[string]ExamRisk)
	for _, row := range dash.Subjects {
		risks[row.Subject] = row.Risk
	}
	// 3 pending, 2 days at capacity 1 before the exam.
	if risks["Завал"] != RiskBehind {
		t.Fatalf("expected RiskBehind, got %v", risks["Завал"])
	}
	if risks["Норма"] != RiskOnTrack {
		t.Fatalf("expected RiskOnTrack, got %v", risks["Норма"])
	}
	if risks["Прошёл"] != RiskExamPassed {
		t.Fatalf("expected RiskExamPassed, got %v", risks["Прошёл"])
	}
}

func TestDashboardRiskUnknownWithoutStudyTime(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 205)
	exam := day(testToday, 3)
	subject := env.addSubject(t, user.ID, "Математика", []string{"Т1"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	seedTasks(t, env, []*model.StudyTask{
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[0].ID, TaskDate: day(testToday, 1)},
	})

	dash, err := newDashboardService(env).Build(ctx, user, testToday)
	if err != nil {
		t.Fatalf("build dashboard: %v", err)
	}
	if dash.Subjects[0].Risk != RiskNone {
		t.Fatalf("expected RiskNone without study time, got %v", dash.Subjects[0].Risk)
	}
}
