package match

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/pavelanni/grader/internal/model"
)

// ReadLines returns the trimmed lines of a file. A missing file yields no
// lines and no error.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// orderedLines maps identifiers to lines. A repeated identifier replaces the
// stored line but keeps its original position.
type orderedLines struct {
	order []model.Identifier
	lines map[model.Identifier]string
}

func index(lines []string) orderedLines {
	o := orderedLines{lines: make(map[model.Identifier]string)}
	for _, line := range lines {
		id, ok := model.ParseIdentifier(line)
		if !ok {
			continue
		}
		if _, seen := o.lines[id]; !seen {
			o.order = append(o.order, id)
		}
		o.lines[id] = line
	}
	return o
}

// Match pairs question lines with answer lines sharing an identifier.
// Lines without an identifier are ignored, the last line wins for a repeated
// identifier, and pairs follow question order.
func Match(questionLines, answerLines []string) []model.MatchedPair {
	qs := index(questionLines)
	as := index(answerLines)

	var pairs []model.MatchedPair
	for _, id := range qs.order {
		aLine, ok := as.lines[id]
		if !ok {
			continue
		}
		q, _ := model.NewQuestion(qs.lines[id])
		a, _ := model.NewAnswer(aLine)
		pairs = append(pairs, model.MatchedPair{Question: q, Answer: a})
	}
	return pairs
}

// WritePairs writes the question-answer artifact: a "Question:" line and an
// "Answer:" line per pair, each pair followed by a blank line.
func WritePairs(w io.Writer, pairs []model.MatchedPair) error {
	bw := bufio.NewWriter(w)
	for _, p := range pairs {
		fmt.Fprintf(bw, "Question: %s\n", p.Question.Text)
		fmt.Fprintf(bw, "Answer: %s\n\n", p.Answer.Text)
	}
	return bw.Flush()
}

// ReadPairs reads the question-answer artifact back. A missing or empty file
// yields no pairs and no error. Blocks with fewer than two lines, or whose
// question has no identifier, are skipped.
func ReadPairs(path string) ([]model.MatchedPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}

	var pairs []model.MatchedPair
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}
		qText := strings.TrimSpace(strings.TrimPrefix(lines[0], "Question: "))
		aText := strings.TrimSpace(strings.TrimPrefix(lines[1], "Answer: "))

		q, ok := model.NewQuestion(qText)
		if !ok {
			slog.Warn("skipping pair without question identifier", "question", qText)
			continue
		}
		a, ok := model.NewAnswer(aText)
		if !ok {
			a = model.Answer{ID: q.ID, Text: aText}
		}
		pairs = append(pairs, model.MatchedPair{Question: q, Answer: a})
	}
	return pairs, nil
}

// Run matches the canonical question file against the answer file and writes
// the pairs to outPath. It returns the number of pairs written.
func Run(ctx context.Context, questionsPath, answersPath, outPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	qLines, err := ReadLines(questionsPath)
	if err != nil {
		return 0, fmt.Errorf("read questions: %w", err)
	}
	aLines, err := ReadLines(answersPath)
	if err != nil {
		return 0, fmt.Errorf("read answers: %w", err)
	}

	pairs := Match(qLines, aLines)

	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := WritePairs(f, pairs); err != nil {
		f.Close()
		return 0, fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", outPath, err)
	}

	slog.Info("matched questions and answers",
		"questions", len(qLines), "answers", len(aLines), "pairs", len(pairs), "out", outPath)
	return len(pairs), nil
}
