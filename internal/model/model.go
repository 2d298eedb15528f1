package model

import (
	"regexp"
	"strconv"
)

// DefaultMarks is the mark weight used when a question carries no "(N M)" annotation.
const DefaultMarks = 10

// DefaultTotalMarks is the exam total used when the question source declares none.
const DefaultTotalMarks = 10

var (
	// Only digits-dot-word is captured; a trailing separator after the word is not.
	identifierRegex = regexp.MustCompile(`^(\d+)\.([\p{L}\p{N}_]+)`)
	marksRegex      = regexp.MustCompile(`\((\d+)\s*M\)`)
)

// Identifier is the dotted key shared by a question and its answer, e.g. "2.A".
// Both segments are kept exactly as written, so "01.A" and "1.A" differ.
type Identifier struct {
	Group string // leading digit segment
	Key   string // segment after the first dot
}

// String renders the identifier in its dotted form.
func (id Identifier) String() string {
	return id.Group + "." + id.Key
}

// GroupNumber returns the numeric value of the group segment. The second
// return value is false when it does not fit in an int.
func (id Identifier) GroupNumber() (int, bool) {
	n, err := strconv.Atoi(id.Group)
	return n, err == nil
}

// ParseIdentifier extracts the identifier from the start of a line.
// The second return value is false when the line has none.
func ParseIdentifier(line string) (Identifier, bool) {
	m := identifierRegex.FindStringSubmatch(line)
	if m == nil {
		return Identifier{}, false
	}
	return Identifier{Group: m[1], Key: m[2]}, true
}

// ParseMarks returns the N of an inline "(N M)" annotation, or DefaultMarks.
func ParseMarks(text string) int {
	m := marksRegex.FindStringSubmatch(text)
	if m == nil {
		return DefaultMarks
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultMarks
	}
	return n
}

// Question is one normalized exam question.
type Question struct {
	ID    Identifier `json:"id"`
	Text  string     `json:"text"` // canonical line, identifier and marks annotation included
	Marks int        `json:"marks"`
}

// NewQuestion builds a Question from a canonical question line.
func NewQuestion(line string) (Question, bool) {
	id, ok := ParseIdentifier(line)
	if !ok {
		return Question{}, false
	}
	return Question{ID: id, Text: line, Marks: ParseMarks(line)}, true
}

// Answer is one extracted student answer line.
type Answer struct {
	ID   Identifier `json:"id"`
	Text string     `json:"text"` // line as extracted, identifier prefix included
}

// NewAnswer builds an Answer from an extracted answer line.
func NewAnswer(line string) (Answer, bool) {
	id, ok := ParseIdentifier(line)
	if !ok {
		return Answer{}, false
	}
	return Answer{ID: id, Text: line}, true
}

// MatchedPair joins a question with the answer carrying the same identifier.
type MatchedPair struct {
	Question Question
	Answer   Answer
}

// GradedResult is a matched pair with its scores.
type GradedResult struct {
	Question  Question
	Answer    Answer
	WordCount int
	RawScore  float64 // service score, within [0, Question.Marks]
	Obtained  float64 // after the word-count penalty, within [0, RawScore]
	Ungraded  bool    // the service call failed or its reply carried no score
}

// Group returns the question group the result belongs to.
func (g GradedResult) Group() string {
	return g.Question.ID.Group
}

// Status is the pass/fail outcome of a run.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// ScorecardRow is one counted answer on the scorecard.
type ScorecardRow struct {
	Rank     int     `json:"rank"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Obtained float64 `json:"obtained"`
	Ungraded bool    `json:"ungraded,omitempty"`
	Index    int     `json:"-"` // position of the graded result before selection
}

// Scorecard is the filtered, ranked outcome of a grading run.
type Scorecard struct {
	Rows      []ScorecardRow `json:"rows"`
	Total     float64        `json:"total"`
	Threshold float64        `json:"threshold"`
	Status    Status         `json:"status"`
}

// GroupQuota keeps the top Keep results of one question group.
type GroupQuota struct {
	Group string `mapstructure:"group" json:"group"`
	Keep  int `mapstructure:"keep" json:"keep"`
}

// PooledQuota ranks Groups by their summed adjusted score and keeps every
// result of the best KeepGroups groups.
type PooledQuota struct {
	Groups     []string `mapstructure:"groups" json:"groups"`
	KeepGroups int   `mapstructure:"keep_groups" json:"keep_groups"`
}

// SelectionPolicy decides which graded results count for one exam size.
type SelectionPolicy struct {
	TotalMarks    int          `mapstructure:"total_marks" json:"total_marks"`
	PassThreshold float64      `mapstructure:"pass_threshold" json:"pass_threshold"`
	PerGroup      []GroupQuota `mapstructure:"per_group" json:"per_group"`
	Pooled        *PooledQuota `mapstructure:"pooled" json:"pooled,omitempty"`
}

// Run is the state of one grading run. It is built once from the question
// source and passed to every stage.
type Run struct {
	ID         string
	TotalMarks int
	Threshold  float64
	Policy     *SelectionPolicy // nil means every graded result counts
}

// RunConfig holds runtime parameters set via CLI flags or config.
type RunConfig struct {
	WorkDir       string
	DBPath        string  // empty disables the SQLite snapshot
	PassThreshold float64 // 0 means derive from PassRatio when no policy applies
	PassRatio     float64
	PromptVariant string
}
