package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"waitroom-intake/internal/config"
	"waitroom-intake/internal/core"
	"waitroom-intake/internal/db"
	httpserver "waitroom-intake/internal/http"
	"waitroom-intake/internal/llm"
	"waitroom-intake/internal/report"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.RequireOpenAI(); err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	opts, err := cfg.ControllerOptions()
	if err != nil {
		log.Fatalf("failed to load completion policy: %v", err)
	}

	inbox, handoff, closeDB := openInbox(cfg, logger)
	defer closeDB()

	llmClient, err := llm.NewOpenAIClient(cfg.LLMConfig())
	if err != nil {
		log.Fatalf("failed to create OpenAI client: %v", err)
	}
	controller := core.NewController(llmClient, handoff, opts, logger)
	sessions := core.NewSessions()
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sessions.StartSweeper(sweepCtx, cfg.SweepInterval(), cfg.SessionTTL, logger)
	srv := httpserver.NewServer(controller, sessions, inbox, report.NewRenderer(cfg.ReportFontPath), logger)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     httpserver.NewRouter(srv, cfg.CORSOrigins),
		ReadTimeout: 15 * time.Second,
		// Disabled to allow long-lived SSE streams
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"chat_model", cfg.ChatModel,
			"turn_cap", opts.Policy.TurnCap,
			"context_mode", opts.ContextMode,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

// openInbox connects to Postgres when DATABASE_URL is set and falls back to
// an in-memory inbox otherwise.
func openInbox(cfg *config.Config, logger *slog.Logger) (httpserver.Inbox, core.Handoff, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, intakes are kept in memory only")
		inbox := db.NewMemoryInbox()
		return inbox, inbox, func() {}
	}

	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	logger.Info("database connected", "notify_channel", cfg.NotifyChannel)

	notifier := db.NewNotifier(cfg.DatabaseURL, cfg.NotifyChannel, logger)
	repo := db.NewRepository(dbConn, notifier, logger)
	return repo, repo, func() { _ = dbConn.Close() }
}
