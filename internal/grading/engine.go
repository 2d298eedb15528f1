package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/grader/internal/llm"
	"github.com/pavelanni/grader/internal/model"
)

// Engine scores matched pairs and builds the scorecard.
type Engine struct {
	scorer llm.Scorer
	rules  Rules
}

// New creates an Engine.
func New(scorer llm.Scorer, rules Rules) *Engine {
	return &Engine{scorer: scorer, rules: rules}
}

// Rules returns the rules the engine applies.
func (e *Engine) Rules() Rules {
	return e.rules
}

// ScorePair grades one pair. A failed call or an unparsable reply scores 0.
func (e *Engine) ScorePair(ctx context.Context, pair model.MatchedPair) model.GradedResult {
	marks := pair.Question.Marks
	res := model.GradedResult{
		Question:  pair.Question,
		Answer:    pair.Answer,
		WordCount: WordCount(pair.Answer.Text),
	}

	reply, err := e.scorer.Score(ctx, llm.ScoreRequest{
		Question:  pair.Question.Text,
		Answer:    pair.Answer.Text,
		MaxPoints: marks,
	})
	if err != nil {
		slog.Warn("scoring failed, answer scores 0",
			"id", pair.Question.ID.String(), "error", err)
		res.Ungraded = true
		return res
	}

	raw, ok := llm.ParseScore(reply)
	if !ok {
		slog.Warn("unparsable scoring reply, answer scores 0",
			"id", pair.Question.ID.String(), "reply", reply)
		res.Ungraded = true
		return res
	}
	if raw > float64(marks) {
		raw = float64(marks)
	}

	res.RawScore = raw
	res.Obtained = e.rules.Penalties.Apply(res.WordCount, raw, marks)
	slog.Debug("answer graded",
		"id", pair.Question.ID.String(),
		"words", res.WordCount,
		"raw", res.RawScore,
		"obtained", res.Obtained,
		"marks", marks,
	)
	return res
}

// GradeAll scores pairs one at a time, in order. It stops only when ctx is
// cancelled between calls.
func (e *Engine) GradeAll(ctx context.Context, pairs []model.MatchedPair) ([]model.GradedResult, error) {
	results := make([]model.GradedResult, 0, len(pairs))
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grading stopped after %d of %d answers: %w", i, len(pairs), err)
		}
		results = append(results, e.ScorePair(ctx, p))
	}
	return results, nil
}

// Scorecard applies the run's selection policy and computes total and status.
func (e *Engine) Scorecard(run model.Run, results []model.GradedResult) model.Scorecard {
	sc := model.Scorecard{Threshold: run.Threshold}
	for rank, i := range SelectIndices(results, run.Policy) {
		r := results[i]
		sc.Rows = append(sc.Rows, model.ScorecardRow{
			Rank:     rank + 1,
			Question: r.Question.Text,
			Answer:   r.Answer.Text,
			Obtained: r.Obtained,
			Ungraded: r.Ungraded,
			Index:    i,
		})
		sc.Total += r.Obtained
	}
	sc.Status = StatusFor(sc.Total, run.Threshold)
	return sc
}

// StatusFor returns PASS when total reaches threshold.
func StatusFor(total, threshold float64) model.Status {
	if total >= threshold {
		return model.StatusPass
	}
	return model.StatusFail
}
