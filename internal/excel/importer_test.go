package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

func newTestImporter(t *testing.T) (*Importer, *repository.SubjectRepository, uint) {
	t.Helper()
	db, err := repository.NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	user, err := repository.NewUserRepository(db).UpsertFromTelegram(context.Background(), 300, "Test", "User", "test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	subjectRepo := repository.NewSubjectRepository(db)
	return NewImporter(subjectRepo), subjectRepo, user.ID
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syllabus.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestImportCSV(t *testing.T) {
	importer, subjectRepo, userID := newTestImporter(t)

	path := writeCSV(t, "предмет,тема,экзамен\n"+
		"Математика,Пределы,2026-06-10\n"+
		"Математика,Производные,\n"+
		"Физика,Кинематика,2026-06-15\n")

	ctx := context.Background()
	result, err := importer.ImportFile(ctx, userID, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.TotalProcessed != 3 {
		t.Errorf("processed %d rows, want 3", result.TotalProcessed)
	}
	if result.SubjectsCreated != 2 {
		t.Errorf("created %d subjects, want 2", result.SubjectsCreated)
	}
	if result.TopicsCreated != 3 {
		t.Errorf("created %d topics, want 3", result.TopicsCreated)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	subjects, err := subjectRepo.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list subjects: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected 2 subjects, got %d", len(subjects))
	}
	math := subjects[0]
	if math.Name != "Математика" || len(math.Topics) != 2 {
		t.Fatalf("unexpected first subject: %+v", math)
	}
	wantExam := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	if math.Exam == nil || !model.DateOnly(math.Exam.ExamDate).Equal(wantExam) {
		t.Fatalf("unexpected exam: %+v", math.Exam)
	}
}

func TestImportSkipsDuplicateTopics(t *testing.T) {
	importer, _, userID := newTestImporter(t)

	path := writeCSV(t, "Математика,Пределы,\n"+
		"Математика,пределы,\n")

	result, err := importer.ImportFile(context.Background(), userID, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.TopicsCreated != 1 {
		t.Errorf("created %d topics, want 1", result.TopicsCreated)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped %d rows, want 1", result.Skipped)
	}
}

func TestImportCollectsRowErrors(t *testing.T) {
	importer, subjectRepo, userID := newTestImporter(t)

	path := writeCSV(t, "Математика,Пределы,\n"+
		",Бесхозная тема,\n"+
		"Физика,Кинематика,10.06.2026\n"+
		"Физика,Динамика,\n")

	ctx := context.Background()
	result, err := importer.ImportFile(ctx, userID, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	// Bad rows are reported but do not stop the rest of the file.
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 row errors, got %v", result.Errors)
	}
	if result.TopicsCreated != 3 {
		t.Errorf("created %d topics, want 3", result.TopicsCreated)
	}

	subjects, err := subjectRepo.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list subjects: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected 2 subjects, got %d", len(subjects))
	}
}

func TestImportExcel(t *testing.T) {
	importer, subjectRepo, userID := newTestImporter(t)

	f := excelize.NewFile()
	rows := [][]interface{}{
		{"subject", "topic", "exam date"},
		{"История", "Средние века", "2026-05-20"},
		{"История", "Новое время", ""},
	}
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue("Sheet1", cell, value); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "syllabus.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	ctx := context.Background()
	result, err := importer.ImportFile(ctx, userID, path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.SubjectsCreated != 1 || result.TopicsCreated != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	subjects, err := subjectRepo.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list subjects: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Exam == nil {
		t.Fatalf("unexpected subjects: %+v", subjects)
	}
}
