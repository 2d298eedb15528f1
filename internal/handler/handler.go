package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/pavelanni/grader/internal/handler/views"
	"github.com/pavelanni/grader/internal/pipeline"
	"github.com/pavelanni/grader/internal/questions"
	"github.com/pavelanni/grader/internal/report"
)

// Handler serves the artifacts of one working directory. It never writes.
type Handler struct {
	paths    pipeline.Paths
	basePath string
	md       goldmark.Markdown
}

// New creates a new Handler.
func New(paths pipeline.Paths, basePath string) *Handler {
	return &Handler{paths: paths, basePath: basePath, md: goldmark.New()}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/scorecard", h.handleScorecardPage)
	r.Get("/results", h.handleResultsPage)
	r.Get("/get_results", h.handleGetResults)
	r.Get("/get_scorecard", h.handleGetScorecard)
	r.Get("/check_status", h.handleCheckStatus)
}

// BasePathMiddleware makes the base path available to link rendering.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := views.WithBasePath(r.Context(), h.basePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// completed reports whether the last run produced its final artifact: a
// scorecard, or a non-empty results file when there was nothing to grade.
func (h *Handler) completed() bool {
	if _, err := os.Stat(h.paths.Scorecard()); err == nil {
		return true
	}
	info, err := os.Stat(h.paths.Results())
	return err == nil && info.Size() > 0
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(h.completed()).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"completed": h.completed()})
}

func (h *Handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.paths.Results())
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		http.Error(w, "Processing", http.StatusAccepted)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (h *Handler) handleGetScorecard(w http.ResponseWriter, r *http.Request) {
	sc, err := h.readScorecard()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": pipeline.ScorecardFile + " not found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *Handler) handleScorecardPage(w http.ResponseWriter, r *http.Request) {
	// The page header shows 0 when no question file has been uploaded yet.
	totalMarks := 0
	if _, err := os.Stat(h.paths.QuestionsText()); err == nil {
		totalMarks = questions.ReadTotalMarks(h.paths.QuestionsText())
	}

	var page *report.ParsedScorecard
	sc, err := h.readScorecard()
	switch {
	case err == nil:
		page = &sc
	case !errors.Is(err, fs.ErrNotExist):
		slog.Warn("unreadable scorecard", "path", h.paths.Scorecard(), "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ScorecardPage(totalMarks, page).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleResultsPage(w http.ResponseWriter, r *http.Request) {
	var html string
	f, err := os.Open(h.paths.Results())
	switch {
	case err == nil:
		defer f.Close()
		entries, errLine, err := report.ReadResults(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := h.md.Convert(report.ResultsMarkdown(entries, errLine), &buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		html = strings.TrimSpace(buf.String())
	case !errors.Is(err, fs.ErrNotExist):
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ResultsPage(html).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) readScorecard() (report.ParsedScorecard, error) {
	f, err := os.Open(h.paths.Scorecard())
	if err != nil {
		return report.ParsedScorecard{}, err
	}
	defer f.Close()
	return report.ReadScorecard(f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
