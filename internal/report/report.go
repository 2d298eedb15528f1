package report

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pavelanni/grader/internal/model"
)

// NoQuestionsMessage is written as the whole results file when there was
// nothing to grade.
const NoQuestionsMessage = "Error: No questions found for grading."

const scorecardHeader = "Question Number\tQuestion\tStudent Answer\tMarks Obtained\n"

// FormatScore renders a score in its shortest form with at least one
// decimal place: 7.5, 8.0, 0.0.
func FormatScore(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEnN") {
		return s
	}
	return s + ".0"
}

// formatObtained renders an ungraded answer as a bare 0 and any other score
// with FormatScore.
func formatObtained(score float64, ungraded bool) string {
	if ungraded {
		return "0"
	}
	return FormatScore(score)
}

// WriteResults writes one block per graded result, before selection,
// separated by a blank line.
func WriteResults(w io.Writer, results []model.GradedResult) error {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Question: %s\nStudent's Answer: %s\nScore: %s/%d\n",
			r.Question.Text, r.Answer.Text, formatObtained(r.Obtained, r.Ungraded), r.Question.Marks))
	}
	if _, err := io.WriteString(w, strings.Join(blocks, "\n\n")); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// WriteNoQuestions writes the results file content for an empty run.
func WriteNoQuestions(w io.Writer) error {
	if _, err := io.WriteString(w, NoQuestionsMessage); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// WriteScorecard writes the tab-separated scorecard with TOTAL and STATUS rows.
func WriteScorecard(w io.Writer, sc model.Scorecard) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(scorecardHeader)
	for _, row := range sc.Rows {
		fmt.Fprintf(bw, "%d\t%s\t%s\t%s\n", row.Rank, row.Question, row.Answer, formatObtained(row.Obtained, row.Ungraded))
	}
	fmt.Fprintf(bw, "TOTAL\t \t \t%s\n", FormatScore(sc.Total))
	fmt.Fprintf(bw, "STATUS\t \t \t%s\n", sc.Status)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write scorecard: %w", err)
	}
	return nil
}

// ParsedScorecard is a scorecard read back from its text form.
type ParsedScorecard struct {
	Rows   [][]string   `json:"scorecard"` // every 4-column line after the header, TOTAL and STATUS included
	Total  float64      `json:"total_obtained"`
	Status model.Status `json:"status"`
}

// Answers returns the ranked answer rows, without TOTAL and STATUS.
func (p ParsedScorecard) Answers() [][]string {
	var rows [][]string
	for _, r := range p.Rows {
		if r[0] == "TOTAL" || r[0] == "STATUS" {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// ErrInvalidScorecard is returned when a scorecard has no data lines.
var ErrInvalidScorecard = errors.New("scorecard is empty or has invalid data")

// ReadScorecard parses a scorecard written by WriteScorecard. Lines that do
// not have exactly four columns are skipped. Status defaults to FAIL.
func ReadScorecard(r io.Reader) (ParsedScorecard, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ParsedScorecard{}, fmt.Errorf("read scorecard: %w", err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return ParsedScorecard{}, ErrInvalidScorecard
	}

	sc := ParsedScorecard{Rows: [][]string{}, Status: model.StatusFail}
	for _, line := range lines[1:] {
		cols := strings.Split(strings.TrimSpace(line), "\t")
		if len(cols) != 4 {
			continue
		}
		sc.Rows = append(sc.Rows, cols)
		switch cols[0] {
		case "TOTAL":
			total, err := strconv.ParseFloat(cols[3], 64)
			if err != nil {
				return ParsedScorecard{}, fmt.Errorf("parse total %q: %w", cols[3], err)
			}
			sc.Total = total
		case "STATUS":
			sc.Status = model.Status(cols[3])
		}
	}
	return sc, nil
}

// ResultEntry is one block of the results file.
type ResultEntry struct {
	Question string
	Answer   string
	Score    string // "X/Y" as written
}

// ReadResults parses a results file. The second return value carries the
// error line when the file holds the no-questions message instead.
func ReadResults(r io.Reader) ([]ResultEntry, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read results: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "Error:") {
		return nil, text, nil
	}
	if text == "" {
		return nil, "", nil
	}

	var entries []ResultEntry
	for _, block := range strings.Split(text, "\n\n") {
		var e ResultEntry
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "Question: "):
				e.Question = strings.TrimPrefix(line, "Question: ")
			case strings.HasPrefix(line, "Student's Answer: "):
				e.Answer = strings.TrimPrefix(line, "Student's Answer: ")
			case strings.HasPrefix(line, "Score: "):
				e.Score = strings.TrimPrefix(line, "Score: ")
			}
		}
		if e.Question == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, "", nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`,
	`[`, `\[`, `]`, `\]`, `#`, `\#`, `<`, `\<`, `>`, `\>`,
)

// ResultsMarkdown renders result entries as a markdown document, one
// section per question. A non-empty errLine replaces the entries.
func ResultsMarkdown(entries []ResultEntry, errLine string) []byte {
	var buf bytes.Buffer
	if errLine != "" {
		fmt.Fprintf(&buf, "> %s\n", markdownEscaper.Replace(errLine))
		return buf.Bytes()
	}
	for i, e := range entries {
		if i > 0 {
			buf.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&buf, "### %s\n\n", markdownEscaper.Replace(e.Question))
		fmt.Fprintf(&buf, "%s\n\n", markdownEscaper.Replace(e.Answer))
		fmt.Fprintf(&buf, "**Score:** %s\n", markdownEscaper.Replace(e.Score))
	}
	return buf.Bytes()
}
