package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"autohelm/internal/app"
	"autohelm/internal/config"
	"autohelm/internal/logger"
)

const defaultConfigFile = "configs/config.yaml"

const usageText = `usage: autohelm [command] [-config path]

commands:
  run      trade in the foreground until interrupted (default)
  start    spawn a detached runner
  stop     stop the runner: admin request, then SIGTERM, then SIGKILL
  status   show runner process and trading state
  sync     reconcile process, memory and store running flags
`

func main() {
	_ = godotenv.Load()

	args := os.Args[1:]
	verb := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		verb = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	cfgPath := fs.String("config", configPathDefault(), "path to the main config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}

	switch verb {
	case "run":
		runForeground(cfg)
	case "start":
		cliStart(cfg, *cfgPath)
	case "stop":
		cliStop(cfg)
	case "status":
		cliStatus(cfg)
	case "sync":
		cliSync(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", verb, usageText)
		os.Exit(2)
	}
}

func configPathDefault() string {
	if env := strings.TrimSpace(os.Getenv("AUTOHELM_CONFIG")); env != "" {
		return env
	}
	return defaultConfigFile
}

// runForeground hosts the trading controller and admin API in this
// process until SIGINT or SIGTERM.
func runForeground(cfg *config.Config) {
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ config loaded (env=%s, mode=%s)", cfg.App.Env, cfg.Trading.Mode)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("initializing app failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatalf("runner failed: %v", err)
	}
}

// setupLogOutput tees all logging into the configured file while keeping
// stdout for the terminal.
func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
