package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"assistant-bot/internal/analytics"
	"assistant-bot/internal/config"
	"assistant-bot/internal/conversation"
	"assistant-bot/internal/history"
	"assistant-bot/internal/llm"
	"assistant-bot/internal/logging"
	"assistant-bot/internal/scheduler"
	"assistant-bot/internal/storage"
	"assistant-bot/internal/telegram"
	"assistant-bot/internal/users"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		FilePath:   cfg.LogFilePath,
		MaxSizeMB:  cfg.MaxLogSizeMB,
		MaxBackups: cfg.LogBackupCount,
	})
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		slog.Error("bot stopped with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bot", "provider", cfg.AIProvider)

	db := storage.New(cfg.DatabaseURL)
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Disconnect()

	backend, err := llm.NewBackend(cfg)
	if err != nil {
		return fmt.Errorf("llm backend: %w", err)
	}
	pool := llm.NewPool(cfg.Workers)
	gen := llm.NewGenerator(backend, pool, llm.OptionsFromConfig(cfg, readSystemPrompt(cfg.SystemPromptPath)))
	slog.Info("generator ready", "models", strings.Join(gen.Models(), ","), "workers", pool.Workers())

	if cfg.SelfTest {
		if gen.Ping(ctx) {
			slog.Info("AI service self-test passed")
		} else {
			slog.Warn("AI service self-test failed, continuing")
		}
	}

	dir := users.NewDirectory(db)
	msgs := history.NewLog(db)
	pipeline := conversation.NewPipeline(dir, msgs, gen, cfg.HistoryLimit)

	bot, err := telegram.New(cfg.TelegramBotToken, pipeline, cfg.MessageParseMode, cfg.AdminUserID)
	if err != nil {
		gen.Close()
		return err
	}

	report := func(ctx context.Context) (string, error) {
		from, to := analytics.DayWindow(time.Now())
		rows, err := msgs.Activity(ctx, from, to)
		if err != nil {
			return "", err
		}
		return analytics.AnalyzeActivity(rows, from).GenerateReportSummary(), nil
	}
	bot.SetReportFunction(report)

	sched := scheduler.New(cfg.ReportSchedule)
	if cfg.AdminUserID != 0 {
		sched.SetReportFunction(func(ctx context.Context) error {
			text, err := report(ctx)
			if err != nil {
				return err
			}
			return bot.SendReport(ctx, text)
		})
	}
	if err := sched.Start(); err != nil {
		gen.Close()
		return err
	}

	// Start blocks until a signal arrives and running handlers finish.
	bot.Start(ctx)
	slog.Info("shutting down")

	gen.Close()
	sched.Stop()
	return nil
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("system prompt file not found or unreadable, using default", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
