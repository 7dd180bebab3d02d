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
	"github.com/go-chi/cors"
	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/quizpulse/quizpulse/internal/analytics"
	"github.com/quizpulse/quizpulse/internal/extract"
	"github.com/quizpulse/quizpulse/internal/handler"
	appI18n "github.com/quizpulse/quizpulse/internal/i18n"
	"github.com/quizpulse/quizpulse/internal/model"
	"github.com/quizpulse/quizpulse/internal/moodle"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/quizpulse/quizpulse/internal/syncer"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizpulse",
		Short: "Longitudinal analytics for Moodle CodeRunner quizzes",
	}

	serve := serveCmd()
	root.AddCommand(serve, syncCmd(), exportCmd(), resetCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizpulse --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "quizpulse.db", "SQLite path or Postgres DSN")
}

func addMoodleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("moodle-url", "", "Moodle base URL (e.g. https://ava.example.edu)")
	f.String("moodle-user", "", "Moodle account used for scraping")
	f.String("moodle-pass", "", "Moodle account password (or set QUIZPULSE_MOODLE_PASS)")
	f.Duration("fetch-timeout", 40*time.Second, "Per-request ceiling for Moodle fetches")
	f.Int("fetch-parallel", 8, "Concurrent review page fetches")
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("lang", "l", "pt-BR", "Language for messages and page parsing (en, pt-BR)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP analytics server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("quiz", nil, "Quiz IDs for scheduled syncs (repeatable)")
	f.Duration("sync-every", 0, "Interval between automatic syncs (0 disables)")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.String("admin-password", "", "Initial admin password (or set QUIZPULSE_ADMIN_PASSWORD)")
	addStoreFlags(cmd)
	addMoodleFlags(cmd)
	addCommonFlags(cmd)
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Scrape quiz attempts into a new snapshot",
		RunE:  runSync,
	}
	f := cmd.Flags()
	f.StringSliceP("quiz", "q", nil, "Quiz ID to sync (repeatable)")
	f.String("label", "", "Human-readable label to store for the quiz")
	addStoreFlags(cmd)
	addMoodleFlags(cmd)
	addCommonFlags(cmd)

	_ = cmd.MarkFlagRequired("quiz")

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a quiz's report or raw snapshot history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.StringP("quiz", "q", "", "Quiz ID to export (required)")
	f.StringP("format", "f", "report", "Export format (report, history)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(cmd)
	addCommonFlags(cmd)

	_ = cmd.MarkFlagRequired("quiz")

	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a quiz's snapshot history",
		RunE:  runReset,
	}
	f := cmd.Flags()
	f.StringP("quiz", "q", "", "Quiz ID to reset (required)")
	addStoreFlags(cmd)
	addCommonFlags(cmd)

	_ = cmd.MarkFlagRequired("quiz")

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

	v.SetEnvPrefix("QUIZPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizpulse")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizpulse")
	v.AddConfigPath("/etc/quizpulse")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	return store.New(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
}

func localeFor(lang string) extract.Locale {
	switch strings.ToLower(lang) {
	case "en":
		return extract.English
	case "pt-br", "pt_br", "pt":
		return extract.BrazilianPortuguese
	default:
		return extract.DefaultLocale
	}
}

// buildSyncer wires the Moodle client and coordinator. Returns nil without
// error when no Moodle URL is configured so serve can run read-only.
func buildSyncer(v *viper.Viper, st *store.Store) (*syncer.Syncer, error) {
	baseURL := v.GetString("moodle-url")
	if baseURL == "" {
		return nil, nil
	}
	client, err := moodle.NewClient(model.QuizConfig{
		BaseURL:       baseURL,
		Username:      v.GetString("moodle-user"),
		Password:      v.GetString("moodle-pass"),
		FetchTimeout:  v.GetDuration("fetch-timeout"),
		FetchParallel: v.GetInt("fetch-parallel"),
	})
	if err != nil {
		return nil, err
	}
	return syncer.New(client, st, localeFor(v.GetString("lang")), v.GetInt("fetch-parallel")), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	st, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, st, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := st.DeleteExpiredTokens(ctx); err != nil {
		slog.Warn("failed to prune expired tokens", "error", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	sc, err := buildSyncer(v, st)
	if err != nil {
		return fmt.Errorf("configure moodle client: %w", err)
	}
	var runner syncer.Runner
	if sc != nil {
		runner = sc
	}
	h := handler.New(st, runner)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))

	h.Routes(r)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if err := scheduleSyncs(v, sc); err != nil {
		return err
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"driver", v.GetString("db-driver"),
		"lang", lang,
		"scraping", sc != nil,
		"sync_every", v.GetDuration("sync-every").String(),
	)
	return http.ListenAndServe(addr, r)
}

// scheduleSyncs starts the periodic scraper when both an interval and quiz
// IDs are configured. The cron runner keeps going for the life of the server.
func scheduleSyncs(v *viper.Viper, sc *syncer.Syncer) error {
	every := v.GetDuration("sync-every")
	if every <= 0 {
		return nil
	}
	if sc == nil {
		slog.Warn("sync-every set but no moodle-url configured, skipping scheduler")
		return nil
	}
	quizzes := v.GetStringSlice("quiz")
	if len(quizzes) == 0 {
		slog.Warn("sync-every set but no quiz IDs configured, skipping scheduler")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		for _, quizID := range quizzes {
			res, err := sc.Sync(context.Background(), quizID)
			if err != nil {
				slog.Error("scheduled sync failed", "quiz", quizID, "error", err)
				continue
			}
			slog.Info("scheduled sync done",
				"quiz", quizID, "students", res.Students, "failed", res.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	c.Start()
	slog.Info("scheduled periodic sync", "every", every.String(), "quizzes", quizzes)
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	st, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	sc, err := buildSyncer(v, st)
	if err != nil {
		return fmt.Errorf("configure moodle client: %w", err)
	}
	if sc == nil {
		return fmt.Errorf("moodle-url is required: set --moodle-url flag or QUIZPULSE_MOODLE_URL env var")
	}

	quizzes := v.GetStringSlice("quiz")
	if label := v.GetString("label"); label != "" {
		if len(quizzes) != 1 {
			return fmt.Errorf("--label applies to a single quiz, got %d", len(quizzes))
		}
		if err := st.SetQuizLabel(ctx, quizzes[0], label); err != nil {
			return fmt.Errorf("set quiz label: %w", err)
		}
	}

	for _, quizID := range quizzes {
		res, err := sc.Sync(ctx, quizID)
		if err != nil {
			return fmt.Errorf("sync quiz %s: %w", quizID, err)
		}
		fmt.Println(appI18n.Td(ctx, "SyncCompleted", map[string]any{
			"Students": res.Students,
			"Quiz":     res.QuizID,
			"Failed":   res.Failed,
		}))
		fmt.Println(appI18n.Tp(ctx, "SnapshotTotal", res.Snapshots))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	st, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	quizID := v.GetString("quiz")
	history, err := st.LoadHistory(ctx, quizID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return fmt.Errorf("no snapshots recorded for quiz %s", quizID)
	}

	var payload any
	switch format := v.GetString("format"); format {
	case "report":
		current := history[len(history)-1].Roster
		payload = analytics.BuildReport(quizID, current, history)
	case "history":
		payload = model.HistoryExport{
			QuizID:     quizID,
			ExportedAt: time.Now().UTC(),
			Snapshots:  history,
		}
	default:
		return fmt.Errorf("unknown format %q (want report or history)", format)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	st, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	quizID := v.GetString("quiz")
	deleted, err := st.ResetHistory(ctx, quizID)
	if err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	slog.Info("history reset", "quiz", quizID, "deleted", deleted)
	fmt.Println(appI18n.Tp(ctx, "HistoryCleared", int(deleted)))
	return nil
}

func seedAdmin(ctx context.Context, st *store.Store, password string) error {
	count, err := st.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or QUIZPULSE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = st.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
