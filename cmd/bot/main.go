package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"twitchbot/internal/app/runtime"
	"twitchbot/internal/infrastructure/config"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/infrastructure/telemetry"
)

var version = "dev"

const (
	exitOK          = 0
	exitMisconfig   = 1
	exitWireFault   = 2
	defaultConfig   = "config.toml"
	configEnvVarKey = "BOT_CONFIG"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", "", "path to the TOML or JSON config file (default $"+configEnvVarKey+" or "+defaultConfig+")")
	flag.Parse()

	if *path == "" {
		*path = os.Getenv(configEnvVarKey)
	}
	if *path == "" {
		*path = defaultConfig
	}

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitMisconfig
	}

	logger.Init(cfg.Logging)
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing.ServiceName, version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.Start(ctx, runtime.Options{Config: cfg})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitMisconfig
	}

	err = rt.Run(ctx)
	rt.Stop()

	if errors.Is(err, runtime.ErrWireFault) {
		return exitWireFault
	}
	return exitOK
}
