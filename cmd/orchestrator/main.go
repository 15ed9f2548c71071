// Command orchestrator runs the multi-agent orchestration runtime as an
// A2A-compliant server.
//
// Usage:
//
//	orchestrator -config runtime.yaml
//
// The listen port and agent identity come from the tier-1 agent card in
// the configured card directory. SIGINT or SIGTERM triggers a graceful
// drain of live sessions before exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/budprat/agentic-5-sub002/pkg/config"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
	"github.com/budprat/agentic-5-sub002/runtime/service"
	"github.com/budprat/agentic-5-sub002/runtime/version"
)

const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the runtime YAML config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return
	}

	if err := run(*configPath); err != nil {
		logger.Error("orchestrator exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return err
	}
	version.LogStartup()

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run() }()

	select {
	case err := <-errCh:
		shutdown(svc)
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining sessions")
		return shutdown(svc)
	}
}

func shutdown(svc *service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return svc.Shutdown(ctx)
}
