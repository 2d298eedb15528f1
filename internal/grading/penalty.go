package grading

import (
	"math"
	"strings"
)

// PenaltyBand defines the answer-length penalties for questions worth TotalMarks.
// Word counts up to SevereUpper, and the gap between SevereUpper and MildLow,
// take the severe penalty; MildLow..MildHigh takes the mild one.
type PenaltyBand struct {
	TotalMarks    int     `mapstructure:"total_marks" json:"total_marks"`
	SevereUpper   int     `mapstructure:"severe_upper" json:"severe_upper"`
	MildLow       int     `mapstructure:"mild_low" json:"mild_low"`
	MildHigh      int     `mapstructure:"mild_high" json:"mild_high"`
	SeverePenalty float64 `mapstructure:"severe_penalty" json:"severe_penalty"`
	MildPenalty   float64 `mapstructure:"mild_penalty" json:"mild_penalty"`
}

// Penalty returns the deduction for an answer of wordCount words.
func (b PenaltyBand) Penalty(wordCount int) float64 {
	switch {
	case wordCount <= b.SevereUpper:
		return b.SeverePenalty
	case wordCount < b.MildLow:
		return b.SeverePenalty
	case wordCount <= b.MildHigh:
		return b.MildPenalty
	default:
		return 0
	}
}

// PenaltyTable holds one band per question mark weight.
type PenaltyTable []PenaltyBand

// Apply returns raw reduced by the length penalty for a question worth
// totalMarks. The result is never negative and never above raw. Mark weights
// without a band are not penalized.
func (t PenaltyTable) Apply(wordCount int, raw float64, totalMarks int) float64 {
	var penalty float64
	for _, b := range t {
		if b.TotalMarks == totalMarks {
			penalty = b.Penalty(wordCount)
			break
		}
	}
	return math.Min(math.Max(raw-penalty, 0), raw)
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
