package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/schoolday-dev/schoolday/internal/api"
	"github.com/schoolday-dev/schoolday/internal/db"
	"github.com/schoolday-dev/schoolday/internal/flow"
	"github.com/schoolday-dev/schoolday/internal/locale"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// A missing .env is fine; the environment may be set elsewhere.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if env("LOG_LEVEL", "") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	port := env("PORT", "8080")
	dbPath := env("DB_PATH", "schoolday.db")
	dataDir := env("DATA_DIR", "data")

	if os.Getenv("JWT_SECRET") == "" {
		slog.Error("JWT_SECRET must be set")
		os.Exit(1)
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	loc := locale.NewManager()
	if err := loc.LoadDir(dataDir); err != nil {
		slog.Error("failed to load data tables", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	server := api.NewServer(database, loc)

	if path := env("TIMELINE_PATH", ""); path != "" {
		tl, err := flow.LoadTimelineFile(path)
		if err != nil {
			slog.Error("failed to load timeline", "path", path, "error", err)
			os.Exit(1)
		}
		server.SetTimeline(tl)
		slog.Info("loaded timeline", "path", path, "days", len(tl))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.StartLoop(ctx)

	addr := fmt.Sprintf(":%s", port)
	slog.Info("starting server", "addr", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
