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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/cbtportal/internal/handler"
	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/importer"
	"github.com/pavelanni/cbtportal/internal/llm"
	"github.com/pavelanni/cbtportal/internal/llm/prompts"
	"github.com/pavelanni/cbtportal/internal/model"
	"github.com/pavelanni/cbtportal/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cbtportal",
		Short:        "Computer-based testing portal for schools",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), createAdminCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cbtportal --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every command shares.
func commonFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "cbtportal.db", "SQLite database path or PostgreSQL connection URL")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Fallback UI language (en, fr)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /cbt)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins for browser clients")
	f.String("admin-email", "admin@school.local", "Email of the admin seeded into an empty database")
	f.String("admin-password", "", "Initial admin password (or set CBTPORTAL_ADMIN_PASSWORD)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for essay suggestions (empty disables)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Essay prompt variant (strict, standard, lenient)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create a draft exam from a .docx or .txt question document",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("title", "", "Exam title (required)")
	f.String("description", "", "Exam description")
	f.Int("total-questions", 0, "Maximum number of questions expected in the document (required)")
	f.Int("marks-per-question", 1, "Marks awarded per question")
	f.Int("duration", 0, "Exam duration in minutes (required)")
	f.Int("passing-percentage", importer.DefaultPassingPercentage, "Pass mark as a percentage of total marks")
	f.String("owner", "", "Email of the staff or admin user who owns the exam (required)")

	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("total-questions")
	_ = cmd.MarkFlagRequired("duration")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE:  runCreateAdmin,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("name", "Administrator", "Display name")
	f.String("admin-email", "", "Login email (required)")
	f.String("admin-password", "", "Password (or set CBTPORTAL_ADMIN_PASSWORD)")

	_ = cmd.MarkFlagRequired("admin-email")

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

	v.SetEnvPrefix("CBTPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbtportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbtportal")
	v.AddConfigPath("/etc/cbtportal")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver := store.Driver(strings.ToLower(v.GetString("db-driver")))
	dsn := v.GetString("db")
	if driver == store.DriverPostgres && dsn == "cbtportal.db" {
		dsn = "" // flag default is the SQLite path; let the store pick the Postgres default
	}
	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// normalizeBasePath returns "" or a path with one leading and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := newLLMClient(ctx, v, promptVariant)
	if err != nil {
		return err
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	cfg := model.Config{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant,
	}

	h, err := handler.New(db, llmClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	go cleanupSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"lang", lang,
		"base_path", basePath,
		"essay_assistant", llmClient != nil,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// newLLMClient returns nil when no endpoint is configured.
func newLLMClient(ctx context.Context, v *viper.Viper, variant string) (*llm.Client, error) {
	url := v.GetString("llm-url")
	if url == "" {
		slog.Info("essay assistant disabled: no llm-url")
		return nil, nil
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), variant)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	return client, nil
}

func cleanupSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("failed to clean up sessions", "error", err)
			}
		}
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	owner, err := db.GetUserByLogin(ctx, v.GetString("owner"))
	if err != nil {
		return fmt.Errorf("look up owner: %w", err)
	}
	if owner == nil || owner.Role == model.UserRoleStudent {
		return fmt.Errorf("owner %q must be an existing staff or admin user", v.GetString("owner"))
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	hash := importer.Hash(v.GetString("title"), data)
	if examID, err := db.UploadedExamID(ctx, hash); err != nil {
		return fmt.Errorf("check previous imports: %w", err)
	} else if examID != "" {
		slog.Info("questions file already imported, skipping", "path", path, "exam_id", examID)
		return nil
	}
	text, err := importer.DocumentText(path, data)
	if err != nil {
		return err
	}
	opts := importer.Options{
		Title:             v.GetString("title"),
		Description:       v.GetString("description"),
		TotalQuestions:    v.GetInt("total-questions"),
		MarksPerQuestion:  v.GetInt("marks-per-question"),
		Duration:          v.GetInt("duration"),
		PassingPercentage: v.GetInt("passing-percentage"),
		CreatedByID:       owner.ID,
	}
	exam, err := importer.BuildExam(text, opts)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	created, err := db.ImportExam(ctx, exam, hash, path)
	if errors.Is(err, model.ErrDuplicate) {
		slog.Info("questions file unchanged, skipping", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d questions\t%d marks\n", created.ID, len(created.Questions), created.TotalMarks)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportResults(ctx, v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
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

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runCreateAdmin(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := createAdmin(ctx, db, v.GetString("name"), v.GetString("admin-email"), v.GetString("admin-password"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func createAdmin(ctx context.Context, db *store.Store, name, email, password string) (string, error) {
	if password == "" {
		return "", errors.New("admin password is required: set --admin-password flag or CBTPORTAL_ADMIN_PASSWORD env var")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin password: %w", err)
	}
	id, err := db.CreateUser(ctx, model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return "", fmt.Errorf("create admin user: %w", err)
	}
	return id, nil
}

func seedAdmin(ctx context.Context, db *store.Store, email, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := createAdmin(ctx, db, "Administrator", email, password); err != nil {
		return err
	}
	slog.Info("seeded default admin user", "email", email)
	return nil
}
