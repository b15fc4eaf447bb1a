// A minimal PARTIAL node: no server, no worker. It polls its neighbors
// on an interval, feeds whatever arrives through the pipeline, and logs
// every bundle written to its cache.
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
	"github.com/koi-net/koinet/internal/processor"
)

func main() {
	configPath := flag.String("config", "partial.yaml", "path to config file")
	interval := flag.Duration("poll-interval", 5*time.Second, "neighbor poll interval")
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
	n, err := node.New(ctx, cfg, node.WithoutWorker(), node.WithHandler(logKnowledge()))
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

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, event := range n.Network.PollNeighbors(ctx) {
				n.Processor.HandleEvent(event, processor.SourceExternal)
			}
			n.Processor.FlushQueue(ctx)
		case <-sigChan:
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := n.Stop(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
				os.Exit(1)
			}
			return
		}
	}
}

// logKnowledge reports every bundle that makes it into the cache.
func logKnowledge() processor.Handler {
	return processor.Handler{
		Name: "log-knowledge",
		Type: processor.HandlerFinal,
		Func: func(ctx context.Context, p *processor.Processor, k *processor.KnowledgeObject) (*processor.KnowledgeObject, error) {
			slog.Info("knowledge processed",
				"rid", k.RID.String(), "event", string(k.NormalizedEventType))
			return nil, nil
		},
	}
}
