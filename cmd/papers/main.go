package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/papershelf/internal/app"
	"github.com/timmy/papershelf/internal/config"
	"github.com/timmy/papershelf/internal/logger"
)

const usage = `usage: papers [-config path] <command> [flags] [args]

commands:
  search   -max N -categories a,b -from DATE -to DATE <query>
  download [-wait] <paper-id>
  status   [-forget] <paper-id>
  list
  read     <paper-id>
  prompt   [-expertise LEVEL] [-focus TEXT] [name] <paper-id>
  import   [-limit N] [-force] [-root DIR] <staging-name>
  retry    [-limit N]
`

func main() {
	// Logs go to stderr so stdout stays parseable
	appLogger := logger.New(&logger.Config{
		Level:       "warn",
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "papershelf-cli",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	services, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	cli := &CLI{App: services, Out: os.Stdout, PollInterval: time.Second}
	runErr := cli.Run(ctx, flag.Args())

	// a download keeps running in the background until it reaches a terminal phase
	if err := services.Close(ctx); err != nil {
		appLogger.WithError(err).Warn("Conversion interrupted")
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error:", runErr)
		os.Exit(1)
	}
}
