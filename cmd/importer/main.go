// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Reference Import Service
//
// Entry point for the attachment import service. It:
//  1. Loads service configuration from config.yaml and import profiles
//  2. Connects to PostgreSQL, Redis and the ClamAV daemon
//  3. Polls the monitored mailbox for each enabled profile
//  4. Runs each accepted message through the security gate, the
//     idempotency ledger, mapping and the dependency-ordered loader
//  5. Publishes run events to Redis for downstream reporting
//  6. Handles graceful shutdown on SIGTERM/SIGINT
//
// With POLL_INTERVAL unset the service runs each profile once and exits,
// which is how the cron deployment drives it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/refimport/internal/config"
	"github.com/bcem/refimport/internal/ledger"
	"github.com/bcem/refimport/internal/loader"
	"github.com/bcem/refimport/internal/mailbox"
	"github.com/bcem/refimport/internal/mapping"
	"github.com/bcem/refimport/internal/notify"
	"github.com/bcem/refimport/internal/pipeline"
	"github.com/bcem/refimport/internal/profile"
	"github.com/bcem/refimport/internal/security"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting reference import service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	profiles, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		slog.Error("failed to load import profiles", "error", err)
		os.Exit(1)
	}

	enabled := cfg.Profiles
	if len(enabled) == 0 {
		enabled = profiles.Names()
	}
	slog.Info("configuration loaded",
		"profiles", enabled,
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := notify.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Malware Scanner ---
	var scanner security.Scanner
	if cfg.ClamdAddr != "" {
		clamd := security.NewClamdScanner(cfg.ClamdAddr, 0)
		if err := clamd.Ping(ctx); err != nil {
			// The gate fails closed per file, so a dead daemon at startup
			// is worth refusing to run with.
			slog.Error("failed to reach clamd", "addr", cfg.ClamdAddr, "error", err)
			os.Exit(1)
		}
		scanner = clamd
		slog.Info("connected to clamd", "addr", cfg.ClamdAddr)
	} else {
		slog.Warn("clamd not configured — profiles requiring malware scans will reject all messages")
	}

	// --- Idempotency Ledger ---
	led, err := ledger.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise import ledger", "error", err)
		os.Exit(1)
	}

	// --- Mailbox Source ---
	source := mailbox.NewClient(ctx, mailbox.Config{
		TenantID:     cfg.Mailbox.TenantID,
		ClientID:     cfg.Mailbox.ClientID,
		ClientSecret: cfg.Mailbox.ClientSecret,
		MailboxUser:  cfg.Mailbox.User,
	})

	// --- Pipeline ---
	pipe := pipeline.New(pipeline.Config{
		Profiles: profiles,
		Source:   source,
		Gate:     security.NewGate(security.GateConfig{Scanner: scanner}),
		Ledger:   led,
		Seen:     ledger.NewSeenFilter(rdb),
		Engine:   mapping.NewEngine(),
		Loader:   loader.New(),
		DB:       pgPool,
		Sink:     pipeline.MultiSink{pipeline.LogSink{}, publisher},
	})

	if cfg.PollInterval <= 0 {
		// One-shot mode: run every profile once and exit non-zero if any
		// run failed outright.
		failed := runAll(ctx, pipe, enabled)
		if failed {
			os.Exit(1)
		}
		return
	}

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Poll Loop ---
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		runAll(ctx, pipe, enabled)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runAll(ctx, pipe, enabled)
			}
		}
	}()

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the poll loop; loads stop at transaction boundaries

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("import service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("import service stopped")
}

// runAll runs every enabled profile once. A profile failure is logged and
// the remaining profiles still run; the return reports whether any failed.
func runAll(ctx context.Context, pipe *pipeline.Pipeline, names []string) bool {
	failed := false
	for _, name := range names {
		if ctx.Err() != nil {
			return failed
		}
		result, err := pipe.Run(ctx, name)
		if err != nil {
			slog.Error("import run failed", "profile", name, "error", err)
			failed = true
			continue
		}
		slog.Info("import run finished",
			"profile", name,
			"run_id", result.RunID,
			"message_id", result.Message,
			"files", len(result.Outcomes),
		)
	}
	return failed
}
