package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

type plannerEnv struct {
	users      *repository.UserRepository
	subjects   *repository.SubjectRepository
	studyTimes *repository.StudyTimeRepository
	tasks      *repository.TaskRepository
	planner    *PlannerService
}

func newPlannerEnv(t *testing.T) *plannerEnv {
	t.Helper()
	db, err := repository.NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	subjects := repository.NewSubjectRepository(db)
	studyTimes := repository.NewStudyTimeRepository(db)
	tasks := repository.NewTaskRepository(db)
	return &plannerEnv{
		users:      repository.NewUserRepository(db),
		subjects:   subjects,
		studyTimes: studyTimes,
		tasks:      tasks,
		planner:    NewPlannerService(subjects, studyTimes, tasks),
	}
}

func (env *plannerEnv) createUser(t *testing.T, telegramID int64) *model.User {
	t.Helper()
	user, err := env.users.UpsertFromTelegram(context.Background(), telegramID, "Test", "User", "test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (env *plannerEnv) addSubject(t *testing.T, userID uint, name string, topics []string, examDate *time.Time) *model.Subject {
	t.Helper()
	ctx := context.Background()
	subject, err := env.subjects.Create(ctx, userID, name)
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	for _, topic := range topics {
		if _, err := env.subjects.AddTopic(ctx, subject.ID, topic); err != nil {
			t.Fatalf("add topic: %v", err)
		}
	}
	if examDate != nil {
		if err := env.subjects.SetExam(ctx, subject.ID, model.DateOnly(*examDate)); err != nil {
			t.Fatalf("set exam: %v", err)
		}
	}
	return subject
}

func (env *plannerEnv) setStudyTime(t *testing.T, userID uint, hours float64) {
	t.Helper()
	if _, err := env.studyTimes.Upsert(context.Background(), userID, hours, 7); err != nil {
		t.Fatalf("set study time: %v", err)
	}
}

func day(base time.Time, offset int) time.Time {
	return model.DateOnly(base).AddDate(0, 0, offset)
}

var testToday = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func TestGeneratePlanRequiresStudyTime(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 100)
	exam := day(testToday, 10)
	env.addSubject(t, user.ID, "Математика", []string{"Пределы"}, &exam)

	_, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if !errors.Is(err, ErrStudyTimeNotSet) {
		t.Fatalf("expected ErrStudyTimeNotSet, got %v", err)
	}
}

func TestGeneratePlanRejectsTooLowStudyTime(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 101)
	env.setStudyTime(t, user.ID, 0.5)
	exam := day(testToday, 10)
	env.addSubject(t, user.ID, "Математика", []string{"Пределы"}, &exam)

	_, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if !errors.Is(err, ErrStudyTimeTooLow) {
		t.Fatalf("expected ErrStudyTimeTooLow, got %v", err)
	}
}

func TestGeneratePlanFillsDaysUpToCapacity(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 102)
	env.setStudyTime(t, user.ID, 2)
	exam := day(testToday, 10)
	env.addSubject(t, user.ID, "Математика", []string{"Т1", "Т2", "Т3", "Т4", "Т5"}, &exam)

	created, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if created != 5 {
		t.Fatalf("expected 5 tasks, got %d", created)
	}

	tasks, err := env.tasks.ListByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}

	perDay := make(map[time.Time]int)
	seenTopics := make(map[uint]bool)
	for _, task := range tasks {
		taskDate := model.DateOnly(task.TaskDate)
		perDay[taskDate]++
		if seenTopics[task.TopicID] {
			t.Fatalf("topic %d planned twice", task.TopicID)
		}
		seenTopics[task.TopicID] = true
		if !taskDate.Before(model.DateOnly(exam)) {
			t.Fatalf("task %d scheduled on/after exam: %s", task.ID, taskDate)
		}
	}
	for date, count := range perDay {
		if count > 2 {
			t.Fatalf("day %s has %d tasks, capacity is 2", date, count)
		}
	}
	// 5 topics at 2 per day: today x2, +1 x2, +2 x1.
	if perDay[day(testToday, 0)] != 2 || perDay[day(testToday, 1)] != 2 || perDay[day(testToday, 2)] != 1 {
		t.Fatalf("unexpected distribution: %v", perDay)
	}
}

func TestGeneratePlanStopsBeforeExamDate(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 103)
	env.setStudyTime(t, user.ID, 2)
	// Only today is available: the exam is tomorrow.
	exam := day(testToday, 1)
	env.addSubject(t, user.ID, "Физика", []string{"Т1", "Т2", "Т3"}, &exam)

	created, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	// The third topic would roll over onto the exam day and must be dropped.
	if created != 2 {
		t.Fatalf("expected 2 tasks, got %d", created)
	}

	tasks, err := env.tasks.ListByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if !model.DateOnly(task.TaskDate).Before(model.DateOnly(exam)) {
			t.Fatalf("task scheduled on/after exam: %s", task.TaskDate)
		}
	}
}

func TestGeneratePlanSkipsSubjectsWithoutExamOrTopics(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 104)
	env.setStudyTime(t, user.ID, 3)
	env.addSubject(t, user.ID, "Без экзамена", []string{"Т1"}, nil)
	exam := day(testToday, 5)
	env.addSubject(t, user.ID, "Без тем", nil, &exam)

	created, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 tasks, got %d", created)
	}
}

func TestGeneratePlanIsIdempotent(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 105)
	env.setStudyTime(t, user.ID, 2)
	exam := day(testToday, 10)
	env.addSubject(t, user.ID, "Математика", []string{"Т1", "Т2", "Т3"}, &exam)

	ctx := context.Background()
	if _, err := env.planner.GeneratePlan(ctx, user, testToday); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	created, err := env.planner.GeneratePlan(ctx, user, testToday)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if created != 0 {
		t.Fatalf("second run created %d tasks, want 0", created)
	}

	tasks, err := env.tasks.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks total, got %d", len(tasks))
	}
}

func TestGeneratePlanPlansNewTopicsAfterFirstRun(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 106)
	env.setStudyTime(t, user.ID, 1)
	exam := day(testToday, 10)
	subject := env.addSubject(t, user.ID, "Химия", []string{"Т1", "Т2"}, &exam)

	ctx := context.Background()
	if _, err := env.planner.GeneratePlan(ctx, user, testToday); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if _, err := env.subjects.AddTopic(ctx, subject.ID, "Т3"); err != nil {
		t.Fatalf("add topic: %v", err)
	}

	created, err := env.planner.GeneratePlan(ctx, user, testToday)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 new task, got %d", created)
	}
}

func TestGeneratePlanSubjectsShareDays(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 107)
	env.setStudyTime(t, user.ID, 1)
	exam := day(testToday, 5)
	env.addSubject(t, user.ID, "Математика", []string{"М1"}, &exam)
	env.addSubject(t, user.ID, "Физика", []string{"Ф1"}, &exam)

	created, err := env.planner.GeneratePlan(context.Background(), user, testToday)
	if err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 tasks, got %d", created)
	}

	// Each subject runs its own cursor, so both land on today.
	tasks, err := env.tasks.ListForDate(context.Background(), user.ID, testToday)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected both tasks on today, got %d", len(tasks))
	}
}

func TestRescheduleMovesMissedTasksToFreeDays(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 108)
	env.setStudyTime(t, user.ID, 2)
	exam := day(testToday, 30)
	subject := env.addSubject(t, user.ID, "Математика", []string{"Т1", "Т2", "Т3"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}

	// Two missed tasks and one already occupying tomorrow.
	seed := []*model.StudyTask{
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[0].ID, TaskDate: day(testToday, -3)},
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[1].ID, TaskDate: day(testToday, -1)},
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[2].ID, TaskDate: day(testToday, 1)},
	}
	if err := env.tasks.CreateBatch(ctx, seed); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}

	moved, err := env.planner.RescheduleMissedForUser(ctx, user.ID, testToday)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved tasks, got %d", moved)
	}

	tasks, err := env.tasks.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	byTopic := make(map[uint]time.Time)
	for _, task := range tasks {
		byTopic[task.TopicID] = model.DateOnly(task.TaskDate)
	}

	// Tomorrow is taken, so the oldest missed task goes to +2 and the next to +3.
	if got := byTopic[topics[0].ID]; !got.Equal(day(testToday, 2)) {
		t.Fatalf("oldest missed task moved to %s, want %s", got, day(testToday, 2))
	}
	if got := byTopic[topics[1].ID]; !got.Equal(day(testToday, 3)) {
		t.Fatalf("second missed task moved to %s, want %s", got, day(testToday, 3))
	}
	if got := byTopic[topics[2].ID]; !got.Equal(day(testToday, 1)) {
		t.Fatalf("untouched task moved to %s", got)
	}
}

func TestRescheduleKeepsCompletionFlags(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 109)
	exam := day(testToday, 30)
	subject := env.addSubject(t, user.ID, "Физика", []string{"Т1", "Т2"}, &exam)

	ctx := context.Background()
	topics, err := env.subjects.ListTopics(ctx, subject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	seed := []*model.StudyTask{
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[0].ID, TaskDate: day(testToday, -2)},
		{UserID: user.ID, SubjectID: subject.ID, TopicID: topics[1].ID, TaskDate: day(testToday, -2)},
	}
	if err := env.tasks.CreateBatch(ctx, seed); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
	// A completed task in the past is not missed and must stay put.
	if err := env.tasks.MarkCompleted(ctx, seed[0]); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	moved, err := env.planner.RescheduleMissedForUser(ctx, user.ID, testToday)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved task, got %d", moved)
	}

	completed, err := env.tasks.FindByID(ctx, user.ID, seed[0].ID)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if !model.DateOnly(completed.TaskDate).Equal(day(testToday, -2)) {
		t.Fatalf("completed task was moved to %s", completed.TaskDate)
	}
	if !completed.IsCompleted {
		t.Fatal("completion flag lost")
	}
}

func TestRescheduleWithNoMissedTasks(t *testing.T) {
	env := newPlannerEnv(t)
	user := env.createUser(t, 110)

	moved, err := env.planner.RescheduleMissedForUser(context.Background(), user.ID, testToday)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected 0 moved tasks, got %d", moved)
	}
}

func TestRescheduleAllUsersHaveIndependentCursors(t *testing.T) {
	env := newPlannerEnv(t)
	alice := env.createUser(t, 111)
	bob := env.createUser(t, 112)
	exam := day(testToday, 30)
	aliceSubject := env.addSubject(t, alice.ID, "Математика", []string{"А1"}, &exam)
	bobSubject := env.addSubject(t, bob.ID, "Математика", []string{"Б1"}, &exam)

	ctx := context.Background()
	aliceTopics, err := env.subjects.ListTopics(ctx, aliceSubject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	bobTopics, err := env.subjects.ListTopics(ctx, bobSubject.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	seed := []*model.StudyTask{
		{UserID: alice.ID, SubjectID: aliceSubject.ID, TopicID: aliceTopics[0].ID, TaskDate: day(testToday, -1)},
		{UserID: bob.ID, SubjectID: bobSubject.ID, TopicID: bobTopics[0].ID, TaskDate: day(testToday, -1)},
	}
	if err := env.tasks.CreateBatch(ctx, seed); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}

	moved, err := env.planner.RescheduleMissed(ctx, testToday)
	if err != nil {
		t.Fatalf("reschedule all: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved tasks, got %d", moved)
	}

	// Both land on tomorrow: one user's backlog never shifts another's.
	for _, userID := range []uint{alice.ID, bob.ID} {
		tasks, err := env.tasks.ListForDate(ctx, userID, day(testToday, 1))
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if len(tasks) != 1 {
			t.Fatalf("user %d: expected task on tomorrow, got %d", userID, len(tasks))
		}
	}
}
