package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/chartreplay/params"
	"github.com/uhyunpark/chartreplay/pkg/api"
	"github.com/uhyunpark/chartreplay/pkg/feed"
	"github.com/uhyunpark/chartreplay/pkg/replay"
	"github.com/uhyunpark/chartreplay/pkg/storage"
	"github.com/uhyunpark/chartreplay/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Server.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile)

	// ---- Storage ----
	stack, err := storage.Open(cfg.Storage, sugar)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			sugar.Warnw("storage_close_failed", "err", err)
		}
	}()

	// ---- Candle feed ----
	var candleStore feed.CandleStore
	if stack.Pebble != nil {
		candleStore = stack.Pebble
	}
	src, err := feed.Open(cfg.Feed, candleStore, sugar.Named("feed"))
	if err != nil {
		sugar.Fatalw("feed_open_failed", "source", cfg.Feed.Source, "err", err)
	}

	// ---- Sessions ----
	defaults, err := replay.ConfigFromParams(cfg)
	if err != nil {
		sugar.Fatalw("invalid_config", "err", err)
	}
	manager := replay.NewManager(defaults, src, stack.Store, util.NewRealClock(), sugar)

	sugar.Infow("replayd_starting",
		"feed", cfg.Feed.Source,
		"base_resolution", defaults.BaseResolution.String(),
		"step_interval_ms", defaults.StepInterval.Milliseconds(),
		"checkpoint_interval_ms", defaults.CheckpointInterval.Milliseconds(),
		"data_dir", cfg.Storage.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(manager, cfg.Server.AllowedOrigins, sugar.Named("api"))
	if err := apiServer.Start(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("api_server_failed", "err", err)
	}

	// Settle open trades and write final checkpoints before storage closes
	sugar.Infow("replayd_stopping", "sessions", manager.Count())
	manager.CloseAll()
}
