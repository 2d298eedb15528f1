package model

import "time"

// RunExport is the top-level JSON structure for scorecard export.
type RunExport struct {
	RunID      string         `json:"run_id"`
	GradedAt   time.Time      `json:"graded_at"`
	TotalMarks int            `json:"total_marks"`
	Threshold  float64        `json:"threshold"`
	Total      float64        `json:"total_obtained"`
	Status     Status         `json:"status"`
	Answers    []AnswerResult `json:"answers"`
}

// AnswerResult holds per-answer data for export.
type AnswerResult struct {
	Identifier string  `json:"identifier"`
	Group      string  `json:"group"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Marks      int     `json:"marks"`
	WordCount  int     `json:"word_count"`
	RawScore   float64 `json:"raw_score"`
	Obtained   float64 `json:"obtained"`
	Rank       *int    `json:"rank,omitempty"` // nil when the answer did not count
}
