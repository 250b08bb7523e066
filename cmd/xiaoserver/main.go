// Command xiaoserver runs the coordinator side of the audio-streaming
// system: discovery responder, TCP control plane, and UDP audio bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaolink/xiaolink/internal/config"
	"github.com/xiaolink/xiaolink/internal/metrics"
	"github.com/xiaolink/xiaolink/internal/server"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		log.Fatal("xiaoserver: load config", "err", err)
	}

	logger := log.Default()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	var reg *metrics.Registry
	if cfg.MetricsAddr != "" {
		reg = metrics.New(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Error("xiaoserver: metrics server", "err", err)
			}
		}()
	}

	srv, err := server.New(cfg, logger, reg)
	if err != nil {
		logger.Fatal("xiaoserver: create server", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("xiaoserver: shutting down")
		srv.Close()
		cancel()
	}()

	logger.Info("xiaoserver: listening", "addr", cfg.ListenAddr, "discovery_port", cfg.DiscoveryPort)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("xiaoserver: run", "err", err)
	}
}
