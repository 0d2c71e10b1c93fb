package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"study-planner/internal/model"
	"study-planner/internal/repository"
)

const dateLayout = "2006-01-02"

// ImportResult holds the counters of one import run. Row-level problems
// land in Errors and do not abort the rest of the file.
type ImportResult struct {
	TotalProcessed  int
	SubjectsCreated int
	TopicsCreated   int
	Skipped         int
	Errors          []string
}

// Importer loads syllabus rows (subject, topic, exam date) from an Excel
// or CSV file into one user's account.
type Importer struct {
	subjectRepo *repository.SubjectRepository
}

func NewImporter(subjectRepo *repository.SubjectRepository) *Importer {
	return &Importer{subjectRepo: subjectRepo}
}

// ImportFile dispatches on the file extension: .csv is parsed with the
// stdlib reader, anything else is treated as a workbook.
func (im *Importer) ImportFile(ctx context.Context, userID uint, path string) (*ImportResult, error) {
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return im.importFromCSV(ctx, userID, path)
	}
	return im.importFromExcel(ctx, userID, path)
}

func (im *Importer) importFromExcel(ctx context.Context, userID uint, path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	return im.importRows(ctx, userID, rows)
}

func (im *Importer) importFromCSV(ctx context.Context, userID uint, path string) (*ImportResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, record)
	}

	return im.importRows(ctx, userID, rows)
}

func (im *Importer) importRows(ctx context.Context, userID uint, rows [][]string) (*ImportResult, error) {
	result := &ImportResult{Errors: make([]string, 0)}

	// Cache subjects and their topic sets across rows so a file with many
	// topics per subject hits the database once per subject.
	subjects := make(map[string]*model.Subject)
	topicSets := make(map[uint]map[string]bool)

	for i, row := range rows {
		if i == 0 && isHeaderRow(row) {
			continue
		}

		result.TotalProcessed++

		if err := im.processRow(ctx, userID, row, subjects, topicSets, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}

	return result, nil
}

func (im *Importer) processRow(ctx context.Context, userID uint, row []string, subjects map[string]*model.Subject, topicSets map[uint]map[string]bool, result *ImportResult) error {
	subjectName := cell(row, 0)
	topicName := cell(row, 1)
	examRaw := cell(row, 2)

	if subjectName == "" {
		return fmt.Errorf("empty subject name")
	}

	subject, err := im.resolveSubject(ctx, userID, subjectName, subjects, result)
	if err != nil {
		return err
	}

	if topicName != "" {
		topics, ok := topicSets[subject.ID]
		if !ok {
			existing, err := im.subjectRepo.ListTopics(ctx, subject.ID)
			if err != nil {
				return err
			}
			topics = make(map[string]bool, len(existing))
			for _, topic := range existing {
				topics[strings.ToLower(topic.Name)] = true
			}
			topicSets[subject.ID] = topics
		}

		key := strings.ToLower(topicName)
		if topics[key] {
			result.Skipped++
		} else {
			if _, err := im.subjectRepo.AddTopic(ctx, subject.ID, topicName); err != nil {
				return err
			}
			topics[key] = true
			result.TopicsCreated++
		}
	}

	if examRaw != "" {
		examDate, err := time.Parse(dateLayout, examRaw)
		if err != nil {
			return fmt.Errorf("bad exam date %q, expected YYYY-MM-DD", examRaw)
		}
		if err := im.subjectRepo.SetExam(ctx, subject.ID, model.DateOnly(examDate)); err != nil {
			return err
		}
	}

	return nil
}

func (im *Importer) resolveSubject(ctx context.Context, userID uint, name string, cache map[string]*model.Subject, result *ImportResult) (*model.Subject, error) {
	key := strings.ToLower(name)
	if subject, ok := cache[key]; ok {
		return subject, nil
	}

	subject, err := im.subjectRepo.FindByName(ctx, userID, name)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		subject, err = im.subjectRepo.Create(ctx, userID, name)
		if err != nil {
			return nil, err
		}
		result.SubjectsCreated++
	default:
		return nil, fmt.Errorf("find subject: %w", err)
	}

	cache[key] = subject
	return subject, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isHeaderRow(row []string) bool {
	first := strings.ToLower(cell(row, 0))
	return first == "subject" || first == "предмет"
}
