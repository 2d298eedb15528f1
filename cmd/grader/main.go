package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/grader/internal/grading"
	"github.com/pavelanni/grader/internal/handler"
	appI18n "github.com/pavelanni/grader/internal/i18n"
	"github.com/pavelanni/grader/internal/llm"
	"github.com/pavelanni/grader/internal/llm/prompts"
	"github.com/pavelanni/grader/internal/model"
	"github.com/pavelanni/grader/internal/pipeline"
	"github.com/pavelanni/grader/internal/report"
	"github.com/pavelanni/grader/internal/store"
)

//go:generate templ generate

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grader",
		Short: "Grade extracted exam answers with an LLM and write a pass/fail scorecard",
	}

	run := runCmd()
	root.AddCommand(run, normalizeCmd(), matchCmd(), gradeCmd(), serveCmd(), exportCmd())

	// Make "run" the default when no subcommand is given.
	root.RunE = run.RunE

	// Register run flags on root so bare `grader --workdir ...` still works.
	root.Flags().AddFlagSet(run.Flags())

	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Normalize questions, match answers and grade them",
		RunE:  runAll,
	}
	f := cmd.Flags()
	addWorkdirFlag(f)
	addLLMFlags(f)
	addGradingFlags(f)
	addLogFlags(f)
	return cmd
}

func normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Convert the uploaded question file into canonical text",
		RunE:  runNormalize,
	}
	addWorkdirFlag(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Pair extracted answers with their questions",
		RunE:  runMatch,
	}
	addWorkdirFlag(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade matched pairs and write the results and scorecard",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	addWorkdirFlag(f)
	addLLMFlags(f)
	addGradingFlags(f)
	addLogFlags(f)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only view of the grading artifacts",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addWorkdirFlag(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /grader)")
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the last graded run as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addWorkdirFlag(f)
	f.String("db", pipeline.SnapshotFile, "SQLite snapshot path (relative to workdir)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func addWorkdirFlag(f *pflag.FlagSet) {
	f.StringP("workdir", "w", "uploads", "Directory holding the stage files")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("provider", "openai", "Scoring service provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the scoring service")
	f.String("llm-model", "llama3.2", "Model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Bool("skip-ping", false, "Skip the scoring service health check")
}

func addGradingFlags(f *pflag.FlagSet) {
	f.Float64("pass-threshold", 0, "Pass mark for exam totals without a selection policy (0 = use --pass-ratio)")
	f.Float64("pass-ratio", grading.DefaultPassRatio, "Share of the declared total needed to pass when no threshold applies")
	f.String("db", pipeline.SnapshotFile, "SQLite snapshot path, relative to workdir (empty disables)")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("grader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/grader")
	v.AddConfigPath("/etc/grader")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup prepares logging and returns the command's viper instance.
func setup(cmd *cobra.Command) *viper.Viper {
	v := viperForCmd(cmd)
	setupLogging(v)
	return v
}

func workPaths(v *viper.Viper) pipeline.Paths {
	return pipeline.Paths{Dir: v.GetString("workdir")}
}

// loadRules returns the built-in rules, overridden by the "rules" config key.
func loadRules(v *viper.Viper) (grading.Rules, error) {
	rules := grading.DefaultRules()
	if !v.IsSet("rules") {
		return rules, nil
	}
	if err := v.UnmarshalKey("rules", &rules); err != nil {
		return rules, fmt.Errorf("decode rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("validate rules: %w", err)
	}
	slog.Info("grading rules loaded from config",
		"penalty_bands", len(rules.Penalties), "policies", len(rules.Policies))
	return rules, nil
}

func promptVariant(v *viper.Viper) string {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	return variant
}

// newRunner builds the scoring service and the grading runner. The caller
// closes the returned service.
func newRunner(ctx context.Context, v *viper.Viper) (*pipeline.Runner, llm.Service, error) {
	rules, err := loadRules(v)
	if err != nil {
		return nil, nil, err
	}
	variant := promptVariant(v)

	svc, err := llm.NewService(ctx, llm.Config{
		Provider:      v.GetString("provider"),
		BaseURL:       v.GetString("llm-url"),
		APIKey:        v.GetString("llm-key"),
		Model:         v.GetString("llm-model"),
		PromptVariant: variant,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create scoring client: %w", err)
	}
	if !v.GetBool("skip-ping") {
		if err := svc.Ping(ctx); err != nil {
			svc.Close()
			return nil, nil, fmt.Errorf("scoring service health check: %w", err)
		}
		slog.Info("scoring service OK", "provider", svc.Name(), "model", v.GetString("llm-model"))
	}

	cfg := model.RunConfig{
		WorkDir:       v.GetString("workdir"),
		DBPath:        v.GetString("db"),
		PassThreshold: v.GetFloat64("pass-threshold"),
		PassRatio:     v.GetFloat64("pass-ratio"),
		PromptVariant: variant,
	}
	return pipeline.NewRunner(cfg, grading.New(svc, rules)), svc, nil
}

func printOutcome(w io.Writer, out pipeline.Outcome) {
	if out.Scorecard == nil {
		fmt.Fprintln(w, report.NoQuestionsMessage)
		return
	}
	fmt.Fprintf(w, "Graded %d answers, %d counted: %s of %d, threshold %s, %s\n",
		len(out.Results), len(out.Scorecard.Rows),
		report.FormatScore(out.Scorecard.Total), out.Run.TotalMarks,
		report.FormatScore(out.Scorecard.Threshold), out.Scorecard.Status)
}

func runAll(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	ctx := cmd.Context()

	runner, svc, err := newRunner(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()

	out, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	printOutcome(cmd.OutOrStdout(), out)
	return nil
}

func runNormalize(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	c, err := pipeline.Normalize(workPaths(v))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Total marks %d, %d questions\n", c.TotalMarks, len(c.Lines))
	return nil
}

func runMatch(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	n, err := pipeline.Match(cmd.Context(), workPaths(v))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Matched %d answers\n", n)
	return nil
}

func runGrade(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)
	ctx := cmd.Context()

	runner, svc, err := newRunner(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()

	out, err := runner.Grade(ctx, runner.NewRun())
	if err != nil {
		return fmt.Errorf("grade: %w", err)
	}
	printOutcome(cmd.OutOrStdout(), out)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(workPaths(v), basePath)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-cmd.Context().Done()
		_ = srv.Shutdown(context.Background())
	}()

	slog.Info("starting server",
		"addr", addr,
		"workdir", v.GetString("workdir"),
		"lang", lang,
		"languages", appI18n.Languages(),
		"base_path", basePath,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := setup(cmd)

	dbPath := workPaths(v).Resolve(v.GetString("db"))
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportRun()
	if err != nil {
		return fmt.Errorf("export run: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
