package pipeline

import "path/filepath"

// Workspace file names. Inputs are produced upstream; the rest are written
// by the stages in order.
const (
	QuestionsTextFile  = "uploaded_questions.txt"
	QuestionsSheetFile = "uploaded_questions.xlsx"
	AnswersFile        = "answers.txt"
	PairsFile          = "question_answer.txt"
	ResultsFile        = "grading_results.txt"
	ScorecardFile      = "scorecard.txt"
	SnapshotFile       = "scorecard.db"
)

// Paths locates the stage files inside one working directory.
type Paths struct {
	Dir string
}

func (p Paths) QuestionsText() string  { return p.Resolve(QuestionsTextFile) }
func (p Paths) QuestionsSheet() string { return p.Resolve(QuestionsSheetFile) }
func (p Paths) Answers() string        { return p.Resolve(AnswersFile) }
func (p Paths) Pairs() string          { return p.Resolve(PairsFile) }
func (p Paths) Results() string        { return p.Resolve(ResultsFile) }
func (p Paths) Scorecard() string      { return p.Resolve(ScorecardFile) }

// Resolve joins a relative name onto the working directory. Absolute paths
// and the empty string are returned unchanged.
func (p Paths) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// derived lists the files a run regenerates.
func (p Paths) derived() []string {
	return []string{p.Pairs(), p.Results(), p.Scorecard()}
}
