// Command xiaoclient runs the edge-device side of the audio-streaming
// system: it discovers a server, connects, and stays connected, retrying
// with a 1-second backoff on discovery failure or session loss (spec.md
// §4's "on session loss the client attempts rediscovery with 1 s backoff").
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiaolink/xiaolink/internal/client"
	"github.com/xiaolink/xiaolink/internal/config"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		log.Fatal("xiaoclient: load config", "err", err)
	}

	logger := log.Default()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("xiaoclient: shutting down")
		cancel()
	}()

	for ctx.Err() == nil {
		c, err := client.Connect(ctx, cfg, logger)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("xiaoclient: connect failed, retrying", "err", err)
			sleepOrDone(ctx, time.Second)
			continue
		}

		logger.Info("xiaoclient: connected")
		runErr := c.Run(ctx)
		c.Close()

		if ctx.Err() != nil {
			break
		}
		logger.Warn("xiaoclient: session ended, retrying", "err", runErr)
		sleepOrDone(ctx, time.Second)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
