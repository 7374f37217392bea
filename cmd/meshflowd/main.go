package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/MatusOllah/slogcolor"

	"github.com/meshflow/meshflow-server/internal/db"
	"github.com/meshflow/meshflow-server/pkg/bridge"
	"github.com/meshflow/meshflow-server/pkg/config"
	"github.com/meshflow/meshflow-server/pkg/ingest"
	"github.com/meshflow/meshflow-server/pkg/routes"
	"github.com/meshflow/meshflow-server/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Directory containing meshflow.yaml")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	opts := slogcolor.DefaultOptions
	if *debug {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slogcolor.NewHandler(os.Stderr, opts))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("error loading configuration", "error", err)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DSN()); err != nil {
		slog.Error("error running migrations", "error", err)
		os.Exit(1)
	}

	dbconn, stores, err := store.Open(cfg)
	if err != nil {
		slog.Error("error connecting to database", "error", err)
		os.Exit(1)
	}
	defer dbconn.Close()

	notifier := routes.NewMessageNotifier()
	engine := ingest.NewEngine(cfg, stores, notifier, log)

	// Safety net for claims nobody reads again after they lapse.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := engine.Claims().ExpireStale(ctx); err != nil {
				slog.Warn("error expiring stale claims", "error", err)
			}
			cancel()
		}
	}()

	br, err := bridge.New(cfg, stores, engine, log)
	if err != nil {
		slog.Error("error starting mqtt bridge", "error", err)
		os.Exit(1)
	}
	if br != nil {
		slog.Info("starting mqtt ingest bridge", "addr", cfg.Mqtt.ListenAddr, "topic", cfg.Mqtt.IngestTopic)
		go func() {
			if err := br.Serve(); err != nil {
				slog.Error("mqtt bridge stopped", "error", err)
				os.Exit(1)
			}
		}()
		defer br.Close()
	}

	router := routes.NewWebRouter(cfg, stores, engine, notifier)
	slog.Info("starting http server", "addr", cfg.ListenAddr)
	if err := router.Serve(); err != nil {
		slog.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}
