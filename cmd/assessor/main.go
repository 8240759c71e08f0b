package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/handler"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/judge"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessor",
		Short: "Generated assessments with local and LLM-judged scoring",
	}

	serve := serveCmd()
	root.AddCommand(serve, judgeCmd(), scoreCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `assessor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addProviderFlags(f interface {
	String(name, value, usage string) *string
}) {
	f.String("llm-provider", "openai", "LLM provider (openai, gemini, none)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the OpenAI-compatible endpoint")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("gemini-key", "", "Gemini API key (or set ASSESSOR_GEMINI_KEY)")
	f.String("gemini-model", "gemini-1.5-flash", "Gemini model name")
	f.String("embedding-model", "", "Embedding model for document retrieval (empty = provider default)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assessment HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "assessor.db", "SQLite database path")
	addProviderFlags(f)
	f.String("judge-url", "", "Remote judge base URL (empty = grade in-process with the LLM provider)")
	f.Int("judge-retries", 2, "Retries for a failed judge call")
	f.Duration("judge-timeout", 60*time.Second, "Timeout for one judge call")
	f.StringP("lang", "l", "en", "Default response language (en, ru)")
	f.IntP("max-questions", "n", 20, "Upper bound for questions per generated assessment")
	f.Bool("use-documents", true, "Feed uploaded documents to the generator")
	f.Int("document-limit", 8000, "Characters of document context passed to the generator")
	f.Int("document-chunks", 3, "Most relevant document chunks passed to the generator")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func judgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Serve the remote judge endpoints backed by an LLM",
		RunE:  runJudge,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8081", "HTTP listen address")
	f.String("prefix", "/api", "URL prefix for the score endpoints")
	f.Int("max-batch", 50, "Largest batch accepted in one request")
	addProviderFlags(f)
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a JSON file of questions and answers",
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "-", "Input file with {topic, questions, answers} (- for stdin)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("judge-url", "", "Remote judge base URL (empty = grade in-process with the LLM provider)")
	f.Int("judge-retries", 2, "Retries for a failed judge call")
	f.Duration("judge-timeout", 60*time.Second, "Timeout for one judge call")
	addProviderFlags(f)
	f.StringP("lang", "l", "en", "Language of verdict labels (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// provider is what an LLM backend offers: question generation, grading
// and embeddings for document retrieval.
type provider interface {
	llm.Generator
	llm.Embedder
	judge.Grader
}

// newProvider builds the configured LLM backend. The returned cleanup is
// never nil. A nil provider means "none" was selected.
func newProvider(ctx context.Context, v *viper.Viper) (provider, func(), error) {
	noop := func() {}
	switch name := strings.ToLower(v.GetString("llm-provider")); name {
	case "none", "":
		return nil, noop, nil
	case "gemini":
		g, err := llm.NewGemini(ctx, v.GetString("gemini-key"), v.GetString("gemini-model"))
		if err != nil {
			return nil, noop, fmt.Errorf("create Gemini client: %w", err)
		}
		g.SetEmbeddingModel(v.GetString("embedding-model"))
		slog.Info("using Gemini", "model", v.GetString("gemini-model"))
		return g, func() { _ = g.Close() }, nil
	case "openai":
		c, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		if err != nil {
			return nil, noop, fmt.Errorf("create LLM client: %w", err)
		}
		if err := c.Ping(ctx); err != nil {
			return nil, noop, fmt.Errorf("LLM health check: %w", err)
		}
		c.SetEmbeddingModel(v.GetString("embedding-model"))
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		return c, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown llm-provider %q", name)
	}
}

// newJudge picks the remote HTTP judge when judge-url is set and the
// in-process provider otherwise. A nil judge leaves subjective questions
// unverified.
func newJudge(v *viper.Viper, p provider) grading.Judge {
	if url := v.GetString("judge-url"); url != "" {
		slog.Info("using remote judge", "url", url)
		return judge.NewClient(url,
			judge.WithRetries(v.GetInt("judge-retries"), 300*time.Millisecond),
			judge.WithHTTPClient(&http.Client{Timeout: v.GetDuration("judge-timeout")}),
		)
	}
	if p == nil {
		slog.Warn("no judge configured; subjective questions will not be verified")
		return nil
	}
	return judge.Direct{Grader: p}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	p, cleanup, err := newProvider(ctx, v)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := grading.DefaultRegistry()
	eval := grading.NewEvaluator(registry, newJudge(v, p), slog.Default())
	attempts := session.NewManager(eval, slog.Default())

	cfg := model.ServerConfig{
		Lang:           lang,
		MaxQuestions:   v.GetInt("max-questions"),
		UseDocuments:   v.GetBool("use-documents"),
		DocumentLimit:  v.GetInt("document-limit"),
		DocumentChunks: v.GetInt("document-chunks"),
	}

	var (
		gen llm.Generator
		emb llm.Embedder
	)
	if p != nil {
		gen, emb = p, p
	}
	h, err := handler.New(db, gen, emb, attempts, registry, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"provider", v.GetString("llm-provider"),
		"judge_url", v.GetString("judge-url"),
		"lang", lang,
		"max_questions", cfg.MaxQuestions,
		"use_documents", cfg.UseDocuments,
		"document_chunks", cfg.DocumentChunks,
	)
	return http.ListenAndServe(addr, r)
}

func runJudge(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	p, cleanup, err := newProvider(context.Background(), v)
	if err != nil {
		return err
	}
	defer cleanup()
	if p == nil {
		return fmt.Errorf("the judge needs an LLM provider")
	}

	srv := judge.NewServer(p, grading.DefaultRegistry(), v.GetInt("max-batch"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	prefix := "/" + strings.Trim(v.GetString("prefix"), "/")
	if prefix == "/" {
		srv.Routes(r)
	} else {
		r.Route(prefix, srv.Routes)
	}

	addr := v.GetString("addr")
	slog.Info("starting judge", "addr", addr, "prefix", prefix, "provider", v.GetString("llm-provider"))
	return http.ListenAndServe(addr, r)
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	var in io.Reader = os.Stdin
	if path := v.GetString("input"); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	var input model.ScoreInput
	if err := json.NewDecoder(in).Decode(&input); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	if len(input.Answers) > len(input.Questions) {
		return fmt.Errorf("%d answers for %d questions", len(input.Answers), len(input.Questions))
	}

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var p provider
	if v.GetString("judge-url") == "" {
		var cleanup func()
		var err error
		p, cleanup, err = newProvider(ctx, v)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	answers := make(map[int]model.Answer, len(input.Answers))
	for i, a := range input.Answers {
		answers[i] = a
	}

	eval := grading.NewEvaluator(nil, newJudge(v, p), slog.Default())
	outcome, err := eval.Evaluate(grading.WithTopic(ctx, input.Topic), input.Questions, answers)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	report := grading.Report(input.Questions, answers, outcome)
	lctx := appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(v.GetString("lang")))
	for i := range report.Questions {
		report.Questions[i].Label = appI18n.Verdict(lctx, report.Questions[i].Verdict)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	if report.Partial {
		slog.Warn("some questions could not be verified", "failed_batches", len(outcome.Failures))
	}
	return nil
}
