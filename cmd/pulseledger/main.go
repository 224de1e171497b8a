package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pulseledger/internal/app"
	"pulseledger/internal/config"
	"pulseledger/internal/logging"
)

var version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	showHelp := flag.Bool("help", false, "print usage and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showHelp {
		config.WriteHelp(os.Stdout, version)
		return 0
	}
	if *showVersion {
		fmt.Println(version)
		return 0
	}

	mode := "serve"
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	}
	if mode != "serve" && mode != "sync" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n\n", mode)
		config.WriteHelp(os.Stderr, version)
		return 2
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	logger.Info("starting", "version", version, "mode", mode)

	runtime := app.New(cfg, logger, version)
	switch mode {
	case "sync":
		err = runtime.RunOnce(ctx)
	default:
		err = runtime.Serve(ctx)
	}
	if err != nil {
		logger.Error("exiting with error", "error", err)
		return 1
	}
	return 0
}
