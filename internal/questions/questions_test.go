package questions

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/grader/internal/model"
)

// newWorkbook builds an .xlsx in memory with the given cell values.
func newWorkbook(t *testing.T, cells map[string]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for axis, v := range cells {
		if err := f.SetCellValue("Sheet1", axis, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", axis, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf
}

func TestConvertSpreadsheet(t *testing.T) {
	buf := newWorkbook(t, map[string]any{
		"A1": "Total Marks", "B1": 20,
		// Row 2 left blank on purpose: it must be dropped before the header offset applies.
		"A3": "Q.No", "B3": "Question", "C3": "Marks",
		"A4": "1.1", "B4": "  Define a goroutine ", "C4": 2,
		"A5": "2.A", "B5": "Explain channels", "C5": 5,
		"A6": "2.B", "B6": "Explain select",
	})

	c, err := ConvertSpreadsheet(buf)
	if err != nil {
		t.Fatalf("ConvertSpreadsheet: %v", err)
	}
	if c.TotalMarks != 20 {
		t.Errorf("TotalMarks = %d, want 20", c.TotalMarks)
	}
	want := []string{
		"1.1 Define a goroutine (2 M)",
		"2.A Explain channels (5 M)",
		"2.B Explain select (10 M)",
	}
	if len(c.Lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(c.Lines), len(want), c.Lines)
	}
	for i := range want {
		if c.Lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, c.Lines[i], want[i])
		}
	}
}

func TestConvertSpreadsheetMissingTotal(t *testing.T) {
	buf := newWorkbook(t, map[string]any{
		"A1": "Total Marks",
		"A2": "Q.No", "B2": "Question", "C2": "Marks",
		"A3": "1.1", "B3": "Define", "C3": 5,
	})

	c, err := ConvertSpreadsheet(buf)
	if err != nil {
		t.Fatalf("ConvertSpreadsheet: %v", err)
	}
	if c.TotalMarks != model.DefaultTotalMarks {
		t.Errorf("TotalMarks = %d, want default %d", c.TotalMarks, model.DefaultTotalMarks)
	}
	if len(c.Lines) != 1 {
		t.Errorf("expected 1 question line, got %d", len(c.Lines))
	}
}

func TestCanonicalWriteTo(t *testing.T) {
	c := Canonical{TotalMarks: 80, Lines: []string{"1.1 A (2 M)", "2.A B (10 M)"}}
	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	want := "Total Marks: 80\n\n1.1 A (2 M)\n2.A B (10 M)\n"
	if sb.String() != want {
		t.Errorf("WriteTo = %q, want %q", sb.String(), want)
	}
}

func TestParseCanonical(t *testing.T) {
	text := "Total Marks: 20\n\n1.1 Define (2 M)\nnot a question\n2.A Explain (5 M)\n"
	c := ParseCanonical(strings.NewReader(text))
	if c.TotalMarks != 20 {
		t.Errorf("TotalMarks = %d, want 20", c.TotalMarks)
	}
	if len(c.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(c.Lines))
	}
}

func TestNormalizeFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("xlsx", func(t *testing.T) {
		src := filepath.Join(dir, "uploaded_questions.xlsx")
		buf := newWorkbook(t, map[string]any{
			"A1": "Total Marks", "B1": 80,
			"A2": "Q.No", "B2": "Question", "C2": "Marks",
			"A3": "1.1", "B3": "Define", "C3": 2,
		})
		if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		dst := filepath.Join(dir, "uploaded_questions.txt")
		if _, err := NormalizeFile(src, dst); err != nil {
			t.Fatalf("NormalizeFile: %v", err)
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "Total Marks: 80\n\n1.1 Define (2 M)\n" {
			t.Errorf("unexpected canonical text %q", data)
		}
		if got := ReadTotalMarks(dst); got != 80 {
			t.Errorf("ReadTotalMarks = %d, want 80", got)
		}
	})

	t.Run("txt copied", func(t *testing.T) {
		src := filepath.Join(dir, "questions.txt")
		body := "Total Marks: 20\n\n1.1 Define (2 M)\n"
		if err := os.WriteFile(src, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		dst := filepath.Join(dir, "copy.txt")
		c, err := NormalizeFile(src, dst)
		if err != nil {
			t.Fatalf("NormalizeFile: %v", err)
		}
		if c.TotalMarks != 20 {
			t.Errorf("TotalMarks = %d, want 20", c.TotalMarks)
		}
		data, _ := os.ReadFile(dst)
		if string(data) != body {
			t.Errorf("copy = %q, want %q", data, body)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NormalizeFile(filepath.Join(dir, "questions.csv"), filepath.Join(dir, "out.txt"))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})
}

func TestReadTotalMarks(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		want    int
	}{
		{"missing file", nil, model.DefaultTotalMarks},
		{"declared", ptr("Total Marks: 20\n1.1 x"), 20},
		{"no trailing newline", ptr("Total Marks:80"), 80},
		{"not on first line", ptr("1.1 x\nTotal Marks: 20\n"), model.DefaultTotalMarks},
		{"empty", ptr(""), model.DefaultTotalMarks},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "q"+string(rune('a'+i))+".txt")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if got := ReadTotalMarks(path); got != tt.want {
				t.Errorf("ReadTotalMarks() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseWholeNumber(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"20", 20, true},
		{"20.0", 20, true},
		{" 5 ", 5, true},
		{"2.5", 0, false},
		{"", 0, false},
		{"nan", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseWholeNumber(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseWholeNumber(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func ptr(s string) *string { return &s }
