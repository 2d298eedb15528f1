package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pavelanni/grader/internal/model"
)

// SetMetadata upserts a key-value pair in the run_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO run_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM run_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RunInfo is the run-level part of a snapshot.
type RunInfo struct {
	RunID         string
	GradedAt      time.Time
	TotalMarks    int
	Threshold     float64
	Total         float64
	Status        model.Status
	PromptVariant string
}

// SetRunInfo stores all RunInfo fields as metadata rows.
func (s *Store) SetRunInfo(info RunInfo) error {
	pairs := []struct{ k, v string }{
		{"run_id", info.RunID},
		{"graded_at", info.GradedAt.UTC().Format(time.RFC3339)},
		{"total_marks", strconv.Itoa(info.TotalMarks)},
		{"threshold", strconv.FormatFloat(info.Threshold, 'f', -1, 64)},
		{"total_obtained", strconv.FormatFloat(info.Total, 'f', -1, 64)},
		{"status", string(info.Status)},
		{"prompt_variant", info.PromptVariant},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return fmt.Errorf("set %s: %w", p.k, err)
		}
	}
	return nil
}

// GetRunInfo reads all RunInfo fields from metadata. Missing numeric fields
// read as zero.
func (s *Store) GetRunInfo() (RunInfo, error) {
	var info RunInfo
	var err error

	if info.RunID, err = s.GetMetadata("run_id"); err != nil {
		return info, err
	}
	if info.PromptVariant, err = s.GetMetadata("prompt_variant"); err != nil {
		return info, err
	}
	status, err := s.GetMetadata("status")
	if err != nil {
		return info, err
	}
	info.Status = model.Status(status)

	gradedAt, err := s.GetMetadata("graded_at")
	if err != nil {
		return info, err
	}
	if gradedAt != "" {
		if info.GradedAt, err = time.Parse(time.RFC3339, gradedAt); err != nil {
			return info, fmt.Errorf("parse graded_at: %w", err)
		}
	}

	tm, err := s.GetMetadata("total_marks")
	if err != nil {
		return info, err
	}
	if tm != "" {
		if info.TotalMarks, err = strconv.Atoi(tm); err != nil {
			return info, fmt.Errorf("parse total_marks: %w", err)
		}
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"threshold", &info.Threshold},
		{"total_obtained", &info.Total},
	} {
		v, err := s.GetMetadata(f.key)
		if err != nil {
			return info, err
		}
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return info, fmt.Errorf("parse %s: %w", f.key, err)
		}
	}
	return info, nil
}
