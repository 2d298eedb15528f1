package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/grader/internal/grading"
	"github.com/pavelanni/grader/internal/llm"
	"github.com/pavelanni/grader/internal/model"
	"github.com/pavelanni/grader/internal/report"
	"github.com/pavelanni/grader/internal/store"
)

// tableScorer replies with a fixed score per answer identifier.
type tableScorer map[string]string

func (s tableScorer) Score(_ context.Context, req llm.ScoreRequest) (string, error) {
	id, _ := model.ParseIdentifier(req.Answer)
	reply, ok := s[id.String()]
	if !ok {
		return "", errors.New("no reply configured")
	}
	return reply, nil
}

const questions20 = `Total Marks: 20

1.1 Define a goroutine (2 M)
1.2 Define a channel (2 M)
2.A Explain the scheduler (5 M)
3.A Explain garbage collection (5 M)
`

const answers20 = `1.1 A lightweight thread managed by the runtime
1.2 A typed conduit
2.A The scheduler multiplexes goroutines onto threads
3.A unanswered
9.Z stray answer with no question
`

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func newTestRunner(dir, dbPath string, scorer llm.Scorer) *Runner {
	cfg := model.RunConfig{WorkDir: dir, DBPath: dbPath, PromptVariant: "standard"}
	return NewRunner(cfg, grading.New(scorer, grading.DefaultRules()))
}

func defaultScorer() tableScorer {
	return tableScorer{
		"1.1": "Score: 2 out of 2",
		"1.2": "Score: 1 out of 2",
		"2.A": "Score: 5 out of 5",
		"3.A": "I cannot grade this",
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		AnswersFile:       answers20,
	})
	r := newTestRunner(dir, "", defaultScorer())

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Run.TotalMarks != 20 || out.Run.Threshold != 8 || out.Run.Policy == nil {
		t.Fatalf("unexpected run %+v", out.Run)
	}
	if len(out.Results) != 4 {
		t.Fatalf("expected 4 graded results, got %d", len(out.Results))
	}
	if out.Scorecard == nil {
		t.Fatal("expected a scorecard")
	}

	// Short answers lose the severe penalty: 1.1 -> 1.5, 1.2 -> 0.5,
	// 2.A -> 3, 3.A unparsable -> 0. Total 5 is below 8.
	if out.Scorecard.Total != 5 {
		t.Errorf("Total = %v, want 5", out.Scorecard.Total)
	}
	if out.Scorecard.Status != model.StatusFail {
		t.Errorf("Status = %s, want FAIL", out.Scorecard.Status)
	}

	pairs := readFile(t, r.Paths().Pairs())
	if strings.Contains(pairs, "9.Z") {
		t.Error("stray answer should not be paired")
	}

	results := readFile(t, r.Paths().Results())
	if !strings.Contains(results, "Score: 1.5/2\n") || !strings.Contains(results, "Score: 0/5\n") {
		t.Errorf("unexpected results file:\n%s", results)
	}

	sc := readFile(t, r.Paths().Scorecard())
	if !strings.Contains(sc, "\t3.A unanswered\t0\n") {
		t.Errorf("ungraded row should read 0:\n%s", sc)
	}
	if !strings.HasSuffix(sc, "TOTAL\t \t \t5.0\nSTATUS\t \t \tFAIL\n") {
		t.Errorf("unexpected scorecard tail:\n%s", sc)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		AnswersFile:       answers20,
	})
	r := newTestRunner(dir, "", defaultScorer())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstResults := readFile(t, r.Paths().Results())
	firstScorecard := readFile(t, r.Paths().Scorecard())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := readFile(t, r.Paths().Results()); got != firstResults {
		t.Errorf("results differ between runs:\n%s\nvs\n%s", firstResults, got)
	}
	if got := readFile(t, r.Paths().Scorecard()); got != firstScorecard {
		t.Errorf("scorecard differs between runs:\n%s\nvs\n%s", firstScorecard, got)
	}
}

func TestRunWithoutAnswers(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		ScorecardFile:     "stale scorecard from an earlier run\n",
	})
	r := newTestRunner(dir, "", defaultScorer())

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Scorecard != nil {
		t.Error("expected no scorecard")
	}
	if got := readFile(t, r.Paths().Results()); got != report.NoQuestionsMessage {
		t.Errorf("results = %q, want %q", got, report.NoQuestionsMessage)
	}
	if _, err := os.Stat(r.Paths().Scorecard()); !os.IsNotExist(err) {
		t.Errorf("stale scorecard should be removed, stat err = %v", err)
	}
}

func TestRunWithoutQuestionSource(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{AnswersFile: answers20})
	r := newTestRunner(dir, "", defaultScorer())

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Run.TotalMarks != model.DefaultTotalMarks {
		t.Errorf("TotalMarks = %d, want default %d", out.Run.TotalMarks, model.DefaultTotalMarks)
	}
	if got := readFile(t, r.Paths().Results()); got != report.NoQuestionsMessage {
		t.Errorf("results = %q", got)
	}
}

func TestRunFromSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Total Marks", 20},
		{"No", "Question", "Marks"},
		{"1.1", "Define a goroutine", 2},
		{"2.A", "Explain the scheduler", 5},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	dir := writeWorkspace(t, map[string]string{
		QuestionsSheetFile: buf.String(),
		AnswersFile:        answers20,
	})
	r := newTestRunner(dir, "", defaultScorer())

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Run.TotalMarks != 20 {
		t.Errorf("TotalMarks = %d, want 20", out.Run.TotalMarks)
	}
	if len(out.Results) != 2 {
		t.Errorf("expected 2 graded results, got %d", len(out.Results))
	}
	canonical := readFile(t, r.Paths().QuestionsText())
	if !strings.HasPrefix(canonical, "Total Marks: 20\n\n1.1 Define a goroutine (2 M)\n") {
		t.Errorf("unexpected canonical questions:\n%s", canonical)
	}
}

func TestRunWritesSnapshot(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		AnswersFile:       answers20,
	})
	r := newTestRunner(dir, SnapshotFile, defaultScorer())

	out, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	st, err := store.New(filepath.Join(dir, SnapshotFile))
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer st.Close()

	exp, err := st.ExportRun()
	if err != nil {
		t.Fatalf("ExportRun: %v", err)
	}
	if exp.RunID != out.Run.ID {
		t.Errorf("RunID = %q, want %q", exp.RunID, out.Run.ID)
	}
	if exp.Total != out.Scorecard.Total || exp.Status != out.Scorecard.Status {
		t.Errorf("snapshot total/status = %v/%s, want %v/%s",
			exp.Total, exp.Status, out.Scorecard.Total, out.Scorecard.Status)
	}
	if len(exp.Answers) != len(out.Results) {
		t.Errorf("snapshot has %d answers, want %d", len(exp.Answers), len(out.Results))
	}
}

func TestRunWithoutAnswersClearsSnapshot(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		AnswersFile:       answers20,
	})
	r := newTestRunner(dir, SnapshotFile, defaultScorer())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, AnswersFile)); err != nil {
		t.Fatalf("remove answers: %v", err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := readFile(t, r.Paths().Results()); got != report.NoQuestionsMessage {
		t.Errorf("results = %q, want %q", got, report.NoQuestionsMessage)
	}

	st, err := store.New(filepath.Join(dir, SnapshotFile))
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer st.Close()

	if _, err := st.ExportRun(); !errors.Is(err, store.ErrNoRun) {
		t.Errorf("ExportRun err = %v, want ErrNoRun", err)
	}
	n, err := st.AnswerCount()
	if err != nil {
		t.Fatalf("AnswerCount: %v", err)
	}
	if n != 0 {
		t.Errorf("snapshot still holds %d answers", n)
	}
}

func TestGradeCancelled(t *testing.T) {
	dir := writeWorkspace(t, map[string]string{
		QuestionsTextFile: questions20,
		AnswersFile:       answers20,
	})
	r := newTestRunner(dir, "", defaultScorer())
	if _, err := Match(context.Background(), r.Paths()); err != nil {
		t.Fatalf("Match: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Grade(ctx, r.NewRun()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPathsResolve(t *testing.T) {
	p := Paths{Dir: "work"}
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"scorecard.db", filepath.Join("work", "scorecard.db")},
		{"/tmp/x.db", "/tmp/x.db"},
	}
	for _, tt := range tests {
		if got := p.Resolve(tt.in); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
