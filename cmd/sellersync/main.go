// Entry point for the sellersync HTTP service — chi router, scheduler and
// queue workers over a single SQLite pair (service + observability).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/sellersync/connector"
	"github.com/hazyhaar/sellersync/dbopen"
	"github.com/hazyhaar/sellersync/interactions"
	"github.com/hazyhaar/sellersync/observability"
	"github.com/hazyhaar/sellersync/vtq"
	_ "modernc.org/sqlite"
)

func main() {
	port := env("PORT", "8086")
	dbPath := env("DB_PATH", "db/sellersync.db")
	obsPath := env("OBS_DB_PATH", "db/observability.db")
	configPath := env("CONFIG_PATH", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Configuration.
	cfg := interactions.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = interactions.LoadConfig(configPath)
		if err != nil {
			slog.Error("load config", "path", configPath, "error", err)
			os.Exit(1)
		}
	}

	// Service DB carries interactions, sellers and the job queue.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll(), dbopen.WithSchema(vtq.Schema))
	if err != nil {
		slog.Error("service db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := interactions.ApplySchema(db); err != nil {
		slog.Error("apply schema", "error", err)
		os.Exit(1)
	}

	// Observability DB — events and metrics, kept out of the hot path.
	obsDB, err := dbopen.Open(obsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(obsDB)
	metrics := observability.NewMetrics(obsDB, 256, 10*time.Second)
	defer metrics.Close()

	// Connector registry from the marketplaces section.
	reg := connector.NewRegistry()
	for name, mp := range cfg.Marketplaces {
		channels := mp.Channels
		if len(channels) == 0 {
			channels = []string{"review", "question", "chat"}
		}
		for _, raw := range channels {
			ch := connector.Channel(raw)
			if !ch.Valid() {
				slog.Error("invalid channel in config", "marketplace", name, "channel", raw)
				os.Exit(1)
			}
			reg.Register(connector.Key(name, ch), connector.HTTPFactory(connector.HTTPConfig{
				BaseURL:   mp.BaseURL,
				Channel:   ch,
				UserAgent: mp.UserAgent,
			}))
		}
	}
	if len(reg.Keys()) == 0 {
		slog.Warn("no marketplaces configured; sync will fail until sellers reference a registered connector")
	}

	queue := vtq.New(db, vtq.Options{Logger: logger})
	gate := interactions.ReplyGate(nil, events, metrics, logger)

	svc, err := interactions.New(interactions.Options{
		DB:       db,
		Registry: reg,
		Config:   cfg,
		Gate:     gate,
		Queue:    queue,
		Events:   events,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("interactions service", "error", err)
		os.Exit(1)
	}

	// Scheduler + queue workers.
	go func() {
		if err := svc.Run(ctx); err != nil {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	// Router.
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/api/sellers", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID             string                     `json:"id"`
			Name           string                     `json:"name"`
			Marketplace    string                     `json:"marketplace"`
			SyncIntervalMs int64                      `json:"sync_interval_ms"`
			Channels       map[string]json.RawMessage `json:"channels"`
			Automation     json.RawMessage            `json:"automation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		ns := interactions.NewSeller{
			ID:               req.ID,
			Name:             req.Name,
			Marketplace:      req.Marketplace,
			SyncInterval:     time.Duration(req.SyncIntervalMs) * time.Millisecond,
			ConnectorConfig:  req.Channels,
			AutomationConfig: req.Automation,
		}
		if err := svc.CreateSeller(r.Context(), ns); err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 201, map[string]string{"id": req.ID, "status": "created"})
	})

	r.Get("/api/sellers/{sellerID}/status", func(w http.ResponseWriter, r *http.Request) {
		state, err := svc.SellerStatus(r.Context(), chi.URLParam(r, "sellerID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, 200, state)
	})

	r.Post("/api/sellers/{sellerID}/sync", func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "1"
		err := svc.TriggerSync(r.Context(), chi.URLParam(r, "sellerID"), force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, 202, map[string]string{"status": "queued"})
	})

	r.Get("/api/interactions/{interactionID}/timeline", func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.Timeline(r.Context(), chi.URLParam(r, "interactionID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, 200, entries)
	})

	r.Post("/api/interactions/{interactionID}/reply", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if req.Text == "" {
			writeJSON(w, 400, map[string]string{"error": "text required"})
			return
		}
		if err := svc.Reply(r.Context(), chi.URLParam(r, "interactionID"), req.Text); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, 200, map[string]string{"status": "sent"})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

// writeServiceError maps the interactions error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interactions.ErrSellerNotFound),
		errors.Is(err, interactions.ErrInteractionNotFound):
		writeError(w, 404, err)
	case errors.Is(err, interactions.ErrSellerDisabled),
		errors.Is(err, interactions.ErrSyncInFlight):
		writeError(w, 409, err)
	default:
		writeError(w, 500, err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
