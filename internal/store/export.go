package store

import (
	"errors"
	"fmt"

	"github.com/pavelanni/grader/internal/model"
)

// ErrNoRun is returned when the snapshot holds no run.
var ErrNoRun = errors.New("no graded run in database")

// SaveRun replaces the snapshot with one run: its metadata, every graded
// answer and the ranks of the counted ones.
func (s *Store) SaveRun(info RunInfo, results []model.GradedResult, sc model.Scorecard) error {
	if err := s.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := s.SaveAnswers(results, sc); err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	if err := s.SetRunInfo(info); err != nil {
		return fmt.Errorf("save run info: %w", err)
	}
	return nil
}

// ExportRun builds the export-ready view of the stored run.
func (s *Store) ExportRun() (model.RunExport, error) {
	info, err := s.GetRunInfo()
	if err != nil {
		return model.RunExport{}, fmt.Errorf("get run info: %w", err)
	}
	if info.RunID == "" {
		return model.RunExport{}, ErrNoRun
	}

	answers, err := s.ListAnswers()
	if err != nil {
		return model.RunExport{}, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = []model.AnswerResult{}
	}

	return model.RunExport{
		RunID:      info.RunID,
		GradedAt:   info.GradedAt,
		TotalMarks: info.TotalMarks,
		Threshold:  info.Threshold,
		Total:      info.Total,
		Status:     info.Status,
		Answers:    answers,
	}, nil
}
