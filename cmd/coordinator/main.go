// The coordinator is a FULL node that introduces other nodes to the
// network: whenever it learns about a new node it answers with its own
// bundle and proposes an edge subscribing itself to the newcomer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/koi-net/koinet/internal/config"
	"github.com/koi-net/koinet/internal/node"
)

func main() {
	configPath := flag.String("config", "coordinator.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	n, err := node.New(ctx, cfg, node.WithHandler(node.GreetNewNodes()))
	if err != nil {
		slog.Error("node setup failed", "error", err)
		os.Exit(1)
	}
	if err := n.Start(ctx); err != nil {
		slog.Error("node start failed", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.Stop(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
