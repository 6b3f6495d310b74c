package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"swarmchain/config"
	"swarmchain/core"
	"swarmchain/observability/logging"
	"swarmchain/rpc"
	"swarmchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SWARM_ENV"))
	logger := logging.Setup("swarmd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to resolve node config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, nodeCfg, logger)
	if err != nil {
		logger.Error("failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node, rpc.Config{
		AuthToken:         cfg.RPCAuthToken,
		RequestsPerMinute: cfg.RPCRequestsPerMinute,
		Burst:             cfg.RPCBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runBlockClock(ctx, node, time.Duration(cfg.BlockIntervalMS)*time.Millisecond, logger)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.ListenAndServe()
	}()

	logger.Info("swarmd node initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.Uint64("height", node.Height()))

	select {
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("RPC server shutdown failed", slog.Any("error", err))
		}
	}
}

// runBlockClock advances the chain clock at the configured cadence. Expired
// batches are swept as a side effect so the pot keeps accruing even when no
// client calls postage_expire.
func runBlockClock(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := node.AdvanceBlock()
			if err != nil {
				logger.Error("failed to advance block", slog.Uint64("height", height), slog.Any("error", err))
				continue
			}
			if err := node.SweepExpired(); err != nil {
				logger.Warn("expiry sweep failed", slog.Uint64("height", height), slog.Any("error", err))
			}
		}
	}
}
