package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/obs-decoder-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/obs-decoder-service/internal/adapter/kafka"
	"github.com/couchcryptid/obs-decoder-service/internal/config"
	"github.com/couchcryptid/obs-decoder-service/internal/decode"
	"github.com/couchcryptid/obs-decoder-service/internal/observability"
	"github.com/couchcryptid/obs-decoder-service/internal/pipeline"
	"github.com/couchcryptid/obs-decoder-service/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := rules.OpenStore(cfg.RulesPath)
	if err != nil {
		logger.Error("failed to load rule table", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}
	metrics.RuleTableEntries.Set(float64(store.Table().Len()))
	logger.Info("rule table loaded", "path", cfg.RulesPath,
		"entries", store.Table().Len(), "version", store.Table().Version())

	engine := decode.New(store, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(engine, cfg.KafkaReviewTopic, metrics, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize, cfg.DecodeWorkers)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reloadOnHangup(ctx, store, metrics, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start decode pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// reloadOnHangup re-reads the rule table on SIGHUP. Messages already being
// decoded finish with the table they started with.
func reloadOnHangup(ctx context.Context, store *rules.Store, metrics *observability.Metrics, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			t, err := store.Reload()
			if err != nil {
				metrics.RuleReloads.WithLabelValues("error").Inc()
				logger.Error("rule table reload failed, keeping previous table", "error", err)
				continue
			}
			metrics.RuleReloads.WithLabelValues("success").Inc()
			metrics.RuleTableEntries.Set(float64(t.Len()))
			logger.Info("rule table reloaded", "entries", t.Len(), "version", t.Version())
		}
	}
}
