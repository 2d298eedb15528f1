package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/grader/internal/grading"
	"github.com/pavelanni/grader/internal/match"
	"github.com/pavelanni/grader/internal/model"
	"github.com/pavelanni/grader/internal/questions"
	"github.com/pavelanni/grader/internal/report"
	"github.com/pavelanni/grader/internal/store"
)

// ClearArtifacts removes the files a previous run produced. Inputs are kept.
func ClearArtifacts(p Paths) error {
	for _, path := range p.derived() {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// Normalize brings the question source into canonical text form. A
// spreadsheet wins over a text file when both are present. With no source
// at all the run continues with no questions.
func Normalize(p Paths) (questions.Canonical, error) {
	src := p.QuestionsSheet()
	if _, err := os.Stat(src); err != nil {
		src = p.QuestionsText()
		if _, err := os.Stat(src); err != nil {
			slog.Warn("no question source found", "dir", p.Dir)
			return questions.Canonical{TotalMarks: model.DefaultTotalMarks}, nil
		}
	}
	c, err := questions.NormalizeFile(src, p.QuestionsText())
	if err != nil {
		return questions.Canonical{}, fmt.Errorf("normalize questions: %w", err)
	}
	slog.Info("questions normalized", "source", src, "total_marks", c.TotalMarks, "questions", len(c.Lines))
	return c, nil
}

// Match writes the question/answer pairs file and returns the pair count.
func Match(ctx context.Context, p Paths) (int, error) {
	n, err := match.Run(ctx, p.QuestionsText(), p.Answers(), p.Pairs())
	if err != nil {
		return 0, fmt.Errorf("match answers: %w", err)
	}
	slog.Info("answers matched", "pairs", n)
	return n, nil
}

// Outcome is what a grading stage produced.
type Outcome struct {
	Run       model.Run
	Results   []model.GradedResult
	Scorecard *model.Scorecard // nil when there was nothing to grade
}

// Runner grades the pairs of one working directory.
type Runner struct {
	paths  Paths
	engine *grading.Engine
	cfg    model.RunConfig
	now    func() time.Time
}

// NewRunner creates a Runner for cfg.WorkDir.
func NewRunner(cfg model.RunConfig, engine *grading.Engine) *Runner {
	return &Runner{
		paths:  Paths{Dir: cfg.WorkDir},
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Paths returns the runner's workspace layout.
func (r *Runner) Paths() Paths {
	return r.paths
}

// NewRun reads the declared exam total and derives the run state from it.
func (r *Runner) NewRun() model.Run {
	total := questions.ReadTotalMarks(r.paths.QuestionsText())
	return grading.NewRun(uuid.NewString(), total, r.engine.Rules(), r.cfg.PassThreshold, r.cfg.PassRatio)
}

// Grade scores the pairs file and writes the results and scorecard. When
// there are no pairs the results file carries a single error line and any
// old scorecard is removed.
func (r *Runner) Grade(ctx context.Context, run model.Run) (Outcome, error) {
	log := slog.With("run_id", run.ID)
	out := Outcome{Run: run}

	pairs, err := match.ReadPairs(r.paths.Pairs())
	if err != nil {
		return out, fmt.Errorf("read pairs: %w", err)
	}
	if len(pairs) == 0 {
		log.Warn("no questions found for grading")
		if err := writeFile(r.paths.Results(), report.WriteNoQuestions); err != nil {
			return out, err
		}
		if err := removeIfExists(r.paths.Scorecard()); err != nil {
			return out, err
		}
		return out, r.clearSnapshot()
	}

	log.Info("grading started", "pairs", len(pairs), "total_marks", run.TotalMarks, "threshold", run.Threshold)
	results, err := r.engine.GradeAll(ctx, pairs)
	if err != nil {
		if cerr := r.clearSnapshot(); cerr != nil {
			log.Warn("clear snapshot", "error", cerr)
		}
		return out, err
	}
	sc := r.engine.Scorecard(run, results)
	out.Results = results
	out.Scorecard = &sc

	if err := writeFile(r.paths.Results(), func(w io.Writer) error {
		return report.WriteResults(w, results)
	}); err != nil {
		return out, err
	}
	if err := writeFile(r.paths.Scorecard(), func(w io.Writer) error {
		return report.WriteScorecard(w, sc)
	}); err != nil {
		return out, err
	}

	if err := r.snapshot(run, results, sc); err != nil {
		return out, err
	}

	log.Info("grading completed",
		"graded", len(results),
		"counted", len(sc.Rows),
		"total", sc.Total,
		"status", sc.Status,
	)
	return out, nil
}

// Run executes every stage in order with a fresh run.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if err := ClearArtifacts(r.paths); err != nil {
		return Outcome{}, fmt.Errorf("clear artifacts: %w", err)
	}
	if _, err := Normalize(r.paths); err != nil {
		return Outcome{}, err
	}
	if _, err := Match(ctx, r.paths); err != nil {
		return Outcome{}, err
	}
	return r.Grade(ctx, r.NewRun())
}

func (r *Runner) snapshot(run model.Run, results []model.GradedResult, sc model.Scorecard) error {
	dbPath := r.paths.Resolve(r.cfg.DBPath)
	if dbPath == "" {
		return nil
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer st.Close()

	info := store.RunInfo{
		RunID:         run.ID,
		GradedAt:      r.now(),
		TotalMarks:    run.TotalMarks,
		Threshold:     run.Threshold,
		Total:         sc.Total,
		Status:        sc.Status,
		PromptVariant: r.cfg.PromptVariant,
	}
	if err := st.SaveRun(info, results, sc); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Debug("snapshot saved", "run_id", run.ID, "db", dbPath)
	return nil
}

// clearSnapshot empties the snapshot so a run that graded nothing does not
// leave the previous run exportable.
func (r *Runner) clearSnapshot() error {
	dbPath := r.paths.Resolve(r.cfg.DBPath)
	if dbPath == "" {
		return nil
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer st.Close()

	if err := st.Reset(); err != nil {
		return fmt.Errorf("reset snapshot: %w", err)
	}
	slog.Debug("snapshot cleared", "db", dbPath)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
