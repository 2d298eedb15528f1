package grading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/pavelanni/grader/internal/llm"
	"github.com/pavelanni/grader/internal/model"
)

func TestPenaltyApply(t *testing.T) {
	table := DefaultRules().Penalties

	tests := []struct {
		name  string
		words int
		raw   float64
		total int
		want  float64
	}{
		{"2 marks severe", 10, 2, 2, 1.5},
		{"2 marks severe edge", 25, 2, 2, 1.5},
		{"2 marks gap", 26, 2, 2, 1.5},
		{"2 marks gap upper", 39, 2, 2, 1.5},
		{"2 marks mild low", 40, 2, 2, 1.5},
		{"2 marks mild high", 50, 2, 2, 1.5},
		{"2 marks adequate", 51, 2, 2, 2},
		{"5 marks severe", 120, 5, 5, 3},
		{"5 marks gap", 149, 5, 5, 3},
		{"5 marks mild", 150, 5, 5, 4},
		{"5 marks mild high", 170, 5, 5, 4},
		{"5 marks adequate", 171, 5, 5, 5},
		{"10 marks severe", 0, 10, 10, 7},
		{"10 marks gap", 499, 10, 10, 7},
		{"10 marks mild", 530, 10, 10, 8},
		{"10 marks adequate", 650, 10, 10, 10},
		{"floor at zero", 5, 1, 10, 0},
		{"zero raw stays zero", 5, 0, 5, 0},
		{"unknown total no penalty", 1, 3, 3, 3},
		{"unknown total no penalty 20", 1, 20, 20, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Apply(tt.words, tt.raw, tt.total)
			if got != tt.want {
				t.Errorf("Apply(%d, %v, %d) = %v, want %v", tt.words, tt.raw, tt.total, got, tt.want)
			}
		})
	}
}

func TestPenaltyProperties(t *testing.T) {
	table := DefaultRules().Penalties

	for _, total := range []int{2, 5, 10, 7} {
		for _, raw := range []float64{0, 0.5, 1, 2, 4.5, float64(total)} {
			prev := -1.0
			for words := 0; words <= 700; words++ {
				got := table.Apply(words, raw, total)
				if got < 0 || got > raw {
					t.Fatalf("Apply(%d, %v, %d) = %v outside [0, raw]", words, raw, total, got)
				}
				if got < prev {
					t.Fatalf("Apply not monotonic at total=%d raw=%v words=%d: %v < %v", total, raw, words, got, prev)
				}
				if again := table.Apply(words, raw, total); again != got {
					t.Fatalf("Apply not deterministic: %v vs %v", got, again)
				}
				prev = got
			}
		}
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"1.1 one two", 3},
		{"  spaced\tout\nwords  ", 3},
	}
	for _, tt := range tests {
		if got := WordCount(tt.in); got != tt.want {
			t.Errorf("WordCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// graded builds a result for group g with adjusted score s.
func graded(g int, key string, s float64) model.GradedResult {
	id := model.Identifier{Group: strconv.Itoa(g), Key: key}
	return model.GradedResult{
		Question: model.Question{ID: id, Text: id.String() + " question", Marks: 10},
		Answer:   model.Answer{ID: id, Text: id.String() + " answer"},
		RawScore: s,
		Obtained: s,
	}
}

func ids(results []model.GradedResult) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Question.ID.String())
	}
	return out
}

func TestSelect20Marks(t *testing.T) {
	policy := DefaultRules().Policy(20)
	if policy == nil {
		t.Fatal("no 20-mark policy")
	}

	var results []model.GradedResult
	for i, s := range []float64{5, 9, 3, 7, 8, 4, 6} {
		results = append(results, graded(1, fmt.Sprint(i+1), s))
	}
	results = append(results,
		graded(2, "A", 4), graded(2, "B", 6),
		graded(3, "A", 2), graded(3, "B", 2),
		graded(4, "A", 10),
	)

	got := Select(results, policy)

	var scores []float64
	for _, r := range got {
		scores = append(scores, r.Obtained)
	}
	want := []float64{9, 8, 7, 6, 5, 6, 2}
	if fmt.Sprint(scores) != fmt.Sprint(want) {
		t.Fatalf("selected scores = %v, want %v", scores, want)
	}
	wantIDs := "[1.2 1.5 1.4 1.7 1.1 2.B 3.A]"
	if fmt.Sprint(ids(got)) != wantIDs {
		t.Errorf("selected ids = %v, want %s (ties keep original order)", ids(got), wantIDs)
	}
}

func TestSelect80Marks(t *testing.T) {
	policy := DefaultRules().Policy(80)
	if policy == nil {
		t.Fatal("no 80-mark policy")
	}

	results := []model.GradedResult{
		graded(1, "1", 2), graded(1, "2", 5), graded(1, "3", 1),
		graded(1, "4", 4), graded(1, "5", 3),
		graded(2, "A", 5), graded(2, "B", 5), // 10
		graded(3, "A", 9), graded(3, "B", 4), // 13
		graded(4, "A", 2), // 2
		graded(5, "A", 1), graded(5, "B", 9), // 10, ties with group 2
		graded(6, "A", 12), // 12
	}

	got := Select(results, policy)
	want := "[1.2 1.4 1.5 1.1 3.A 3.B 6.A 2.A 2.B]"
	if fmt.Sprint(ids(got)) != want {
		t.Errorf("selected ids = %v, want %s", ids(got), want)
	}
}

func TestSelectGroupKeptVerbatim(t *testing.T) {
	policy := DefaultRules().Policy(20)
	zero := model.Identifier{Group: "01", Key: "A"}
	results := []model.GradedResult{
		{Question: model.Question{ID: zero, Text: "01.A question", Marks: 10}, Answer: model.Answer{ID: zero}, Obtained: 9},
		graded(1, "A", 2),
	}
	got := Select(results, policy)
	if fmt.Sprint(ids(got)) != "[1.A]" {
		t.Errorf("selected ids = %v, want [1.A] (group 01 has no quota)", ids(got))
	}
}

func TestSelectNoPolicy(t *testing.T) {
	results := []model.GradedResult{graded(7, "A", 1), graded(1, "A", 2)}
	got := Select(results, nil)
	if fmt.Sprint(ids(got)) != "[7.A 1.A]" {
		t.Errorf("Select(nil policy) = %v, want all in order", ids(got))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		total, threshold float64
		want             model.Status
	}{
		{8, 8, model.StatusPass},
		{7.99, 8, model.StatusFail},
		{32, 32, model.StatusPass},
		{0, 0, model.StatusPass},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.total, tt.threshold); got != tt.want {
			t.Errorf("StatusFor(%v, %v) = %s, want %s", tt.total, tt.threshold, got, tt.want)
		}
	}
}

func TestNewRun(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name          string
		total         int
		passThreshold float64
		passRatio     float64
		wantThreshold float64
		wantPolicy    bool
	}{
		{"20 marks", 20, 0, 0, 8, true},
		{"80 marks", 80, 0, 0, 32, true},
		{"policy ignores override", 20, 15, 0, 8, true},
		{"other total default ratio", 50, 0, 0, 20, false},
		{"other total explicit ratio", 50, 0, 0.5, 25, false},
		{"other total explicit threshold", 50, 30, 0.5, 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewRun("run-1", tt.total, rules, tt.passThreshold, tt.passRatio)
			if run.Threshold != tt.wantThreshold {
				t.Errorf("Threshold = %v, want %v", run.Threshold, tt.wantThreshold)
			}
			if (run.Policy != nil) != tt.wantPolicy {
				t.Errorf("Policy present = %v, want %v", run.Policy != nil, tt.wantPolicy)
			}
		})
	}
}

func TestRulesValidate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}

	bad := DefaultRules()
	bad.Penalties = append(bad.Penalties, PenaltyBand{TotalMarks: 3, SevereUpper: 50, MildLow: 40, MildHigh: 60})
	if err := bad.Validate(); err == nil {
		t.Error("expected error for overlapping bands")
	}

	dup := DefaultRules()
	dup.Policies = append(dup.Policies, model.SelectionPolicy{TotalMarks: 20})
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicate policy")
	}
}

// fakeScorer replies from a table keyed by answer text.
type fakeScorer struct {
	replies map[string]string
	errs    map[string]error
	calls   []llm.ScoreRequest
}

func (f *fakeScorer) Score(_ context.Context, req llm.ScoreRequest) (string, error) {
	f.calls = append(f.calls, req)
	if err := f.errs[req.Answer]; err != nil {
		return "", err
	}
	return f.replies[req.Answer], nil
}

func pair(q, a string) model.MatchedPair {
	question, _ := model.NewQuestion(q)
	answer, _ := model.NewAnswer(a)
	return model.MatchedPair{Question: question, Answer: answer}
}

func TestScorePair(t *testing.T) {
	long := "1.1 " + strings.Repeat("word ", 100)
	scorer := &fakeScorer{
		replies: map[string]string{
			long:          "Score: 2 out of 2",
			"1.2 short":   "Score: 2 out of 2",
			"1.3 garbage": "I think this deserves full marks",
			"1.4 greedy":  "Score: 9 out of 2",
		},
		errs: map[string]error{"1.5 boom": errors.New("connection refused")},
	}
	engine := New(scorer, DefaultRules())

	tests := []struct {
		name         string
		pair         model.MatchedPair
		wantRaw      float64
		wantObtained float64
		wantUngraded bool
	}{
		{"adequate length", pair("1.1 Define (2 M)", long), 2, 2, false},
		{"short answer penalized", pair("1.2 Define (2 M)", "1.2 short"), 2, 1.5, false},
		{"unparsable reply", pair("1.3 Define (2 M)", "1.3 garbage"), 0, 0, true},
		{"raw clamped to marks", pair("1.4 Define (2 M)", "1.4 greedy"), 2, 1.5, false},
		{"service error", pair("1.5 Define (2 M)", "1.5 boom"), 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ScorePair(context.Background(), tt.pair)
			if got.RawScore != tt.wantRaw || got.Obtained != tt.wantObtained {
				t.Errorf("ScorePair = raw %v obtained %v, want raw %v obtained %v",
					got.RawScore, got.Obtained, tt.wantRaw, tt.wantObtained)
			}
			if got.Ungraded != tt.wantUngraded {
				t.Errorf("Ungraded = %v, want %v", got.Ungraded, tt.wantUngraded)
			}
		})
	}

	if scorer.calls[0].MaxPoints != 2 {
		t.Errorf("request MaxPoints = %d, want 2", scorer.calls[0].MaxPoints)
	}
}

func TestGradeAllSequentialAndCancellable(t *testing.T) {
	scorer := &fakeScorer{replies: map[string]string{}}
	engine := New(scorer, DefaultRules())
	pairs := []model.MatchedPair{
		pair("1.1 a (5 M)", "1.1 x"),
		pair("1.2 b (5 M)", "1.2 y"),
	}

	results, err := engine.GradeAll(context.Background(), pairs)
	if err != nil {
		t.Fatalf("GradeAll: %v", err)
	}
	if len(results) != 2 || len(scorer.calls) != 2 {
		t.Fatalf("got %d results / %d calls, want 2 / 2", len(results), len(scorer.calls))
	}
	if scorer.calls[0].Answer != "1.1 x" || scorer.calls[1].Answer != "1.2 y" {
		t.Error("answers not scored in order")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.GradeAll(ctx, pairs); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestScorecard(t *testing.T) {
	engine := New(&fakeScorer{}, DefaultRules())
	results := []model.GradedResult{
		graded(1, "1", 3), graded(1, "2", 2), graded(2, "A", 1.5), graded(3, "A", 1.5),
	}

	run := NewRun("r", 20, engine.Rules(), 0, 0)
	sc := engine.Scorecard(run, results)
	if sc.Total != 8 {
		t.Errorf("Total = %v, want 8", sc.Total)
	}
	if sc.Status != model.StatusPass {
		t.Errorf("Status = %s, want PASS", sc.Status)
	}
	if len(sc.Rows) != 4 || sc.Rows[0].Rank != 1 || sc.Rows[3].Rank != 4 {
		t.Fatalf("unexpected rows %+v", sc.Rows)
	}
	if sc.Rows[2].Index != 2 {
		t.Errorf("row 3 index = %d, want 2", sc.Rows[2].Index)
	}

	results[0].Obtained = 2.99
	sc = engine.Scorecard(run, results)
	if sc.Status != model.StatusFail {
		t.Errorf("Status = %s at total %v, want FAIL", sc.Status, sc.Total)
	}
}
