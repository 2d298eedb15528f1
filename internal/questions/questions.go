package questions

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/grader/internal/model"
)

// ErrUnsupportedFormat is returned for question sources that are neither .txt nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported question file format")

var totalMarksRegex = regexp.MustCompile(`Total Marks:\s*(\d+)`)

// Canonical is the line-oriented question list written for the matcher.
type Canonical struct {
	TotalMarks int
	Lines      []string // "<identifier> <text> (<marks> M)"
}

// WriteTo writes the canonical text form: the total-marks header, a blank
// line, then one question per line.
func (c Canonical) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total Marks: %d\n\n", c.TotalMarks)
	for _, line := range c.Lines {
		sb.WriteString(line + "\n")
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// ConvertSpreadsheet reads questions from the first sheet of an .xlsx workbook.
// After blank rows are dropped, cell B of the first row holds the exam total,
// the second row is a header, and every following row is
// [question number, question text, marks].
func ConvertSpreadsheet(r io.Reader) (Canonical, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Canonical{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Canonical{}, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Canonical{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	var kept [][]string
	for _, row := range rows {
		if !isBlankRow(row) {
			kept = append(kept, row)
		}
	}

	c := Canonical{TotalMarks: model.DefaultTotalMarks}
	if len(kept) > 0 {
		if total, ok := parseWholeNumber(cell(kept[0], 1)); ok {
			c.TotalMarks = total
		} else {
			slog.Warn("total marks cell missing or invalid, using default",
				"value", cell(kept[0], 1), "default", model.DefaultTotalMarks)
		}
	}
	if len(kept) <= 2 {
		return c, nil
	}

	for _, row := range kept[2:] {
		number := cell(row, 0)
		text := cell(row, 1)
		marks, ok := parseWholeNumber(cell(row, 2))
		if !ok {
			marks = model.DefaultMarks
		}
		c.Lines = append(c.Lines, fmt.Sprintf("%s %s (%d M)", number, text, marks))
	}
	return c, nil
}

// NormalizeFile converts the question source at src into the canonical text
// file at dst, overwriting it. A .txt source is already canonical and is
// copied unchanged.
func NormalizeFile(src, dst string) (Canonical, error) {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".xlsx":
		in, err := os.Open(src)
		if err != nil {
			return Canonical{}, fmt.Errorf("open %s: %w", src, err)
		}
		defer in.Close()

		c, err := ConvertSpreadsheet(in)
		if err != nil {
			return Canonical{}, fmt.Errorf("convert %s: %w", src, err)
		}
		if err := writeCanonical(dst, c); err != nil {
			return Canonical{}, err
		}
		slog.Info("spreadsheet converted", "src", src, "dst", dst, "questions", len(c.Lines))
		return c, nil

	case ".txt":
		data, err := os.ReadFile(src)
		if err != nil {
			return Canonical{}, fmt.Errorf("read %s: %w", src, err)
		}
		if filepath.Clean(src) != filepath.Clean(dst) {
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return Canonical{}, fmt.Errorf("write %s: %w", dst, err)
			}
		}
		return ParseCanonical(strings.NewReader(string(data))), nil

	default:
		return Canonical{}, fmt.Errorf("%s: %w", src, ErrUnsupportedFormat)
	}
}

// ParseCanonical reads a canonical question text. Lines without an
// identifier, including the header, are not question lines.
func ParseCanonical(r io.Reader) Canonical {
	c := Canonical{TotalMarks: model.DefaultTotalMarks}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			if total, ok := parseTotalMarks(line); ok {
				c.TotalMarks = total
				continue
			}
		}
		if _, ok := model.ParseIdentifier(line); ok {
			c.Lines = append(c.Lines, line)
		}
	}
	return c
}

// ReadTotalMarks returns the total declared on the first line of the
// canonical question file, or model.DefaultTotalMarks when the file is
// missing or the line does not parse.
func ReadTotalMarks(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return model.DefaultTotalMarks
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return model.DefaultTotalMarks
	}
	if total, ok := parseTotalMarks(strings.TrimSpace(line)); ok {
		return total
	}
	return model.DefaultTotalMarks
}

func parseTotalMarks(line string) (int, bool) {
	m := totalMarksRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func writeCanonical(path string, c Canonical) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// parseWholeNumber accepts "20" and spreadsheet renderings such as "20.0".
func parseWholeNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
