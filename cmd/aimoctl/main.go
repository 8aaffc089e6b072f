package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/aimoverse/aimo-gateway/pkg/cli"
	"github.com/aimoverse/aimo-gateway/pkg/config"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides AIMO_CONFIG_FILE)")
	logLevel := flag.String("log-level", "", "Log level (defaults to LOG_LEVEL)")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("AIMO_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := *logLevel
	if level == "" {
		level = cfg.Observability.LogLevel
	}
	logger := setupLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := cli.NewEnv(cfg, logger)
	err = cli.NewRootCommand(env).Execute(ctx, flag.Args())
	if cerr := env.Close(); cerr != nil {
		logger.WithError(cerr).Warn("Failed to close connections")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
