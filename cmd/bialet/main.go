// Command bialet starts the self-contained application server: it parses
// the CLI surface (spec.md §6), opens the embedded database, and either
// runs a one-shot CLI script (-r) or starts the supervised HTTP listener
// (spec.md §4.6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bialet-dev/bialet/internal/config"
	"github.com/bialet-dev/bialet/internal/httpserver"
	"github.com/bialet-dev/bialet/internal/live"
	"github.com/bialet-dev/bialet/internal/logging"
	"github.com/bialet-dev/bialet/internal/modules"
	"github.com/bialet-dev/bialet/internal/pathresolver"
	"github.com/bialet-dev/bialet/internal/script"
	"github.com/bialet-dev/bialet/internal/store"
	"github.com/bialet-dev/bialet/internal/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := logging.New(cfg.LogWriter, cfg.LogFile == "")

	st, err := store.Open(cfg.DBPath, cfg.WAL)
	if err != nil {
		logger.Error("Error", "stage", "database-open", "error", err.Error())
		return 11
	}
	defer st.Close()

	loader := modules.New(cfg.RootDir, config.ScriptExtension, st)
	driver := script.NewDriver(config.ScriptExtension, st, loader, logger)

	if cfg.RunCode != "" {
		return runOnce(cfg, driver)
	}

	return serve(cfg, st, driver, logger)
}

// runOnce implements CLI mode (spec.md §4.4 "CLI mode is a degenerate
// case"): -r CODE runs as a request-less script, its body goes to stdout,
// and the process exits non-zero only when the script's status is 500.
func runOnce(cfg *config.Config, driver *script.Driver) int {
	resp, err := driver.Run(context.Background(), "<cli>", cfg.RunCode, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	os.Stdout.Write(resp.Body)
	if resp.Status == 500 {
		return 1
	}
	return 0
}

func serve(cfg *config.Config, st *store.Store, driver *script.Driver, logger *slog.Logger) int {
	resolver := pathresolver.New(cfg.RootDir, config.ScriptExtension, cfg.Ignored)

	var reload *live.Broadcaster
	if !cfg.Production {
		reload = live.New(logger)
	}

	srv := httpserver.New(httpserver.Config{
		Resolver:        resolver,
		Runner:          driver,
		Store:           st,
		Logger:          logger,
		Production:      cfg.Production,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Reload:          reload,
	})

	sup := supervisor.New(cfg, driver, logger, reload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if supervisor.IsWorker() {
		// The supervisor's reload/cron threads live in the parent process
		// only (spec.md §4.6); the worker just serves requests.
		if err := supervisor.RunWorker(ctx, srv); err != nil {
			logger.Error("Error", "stage", "worker", "error", err.Error())
			return 1
		}
		return 0
	}

	sup.Bootstrap(ctx)

	go func() {
		supervisor.WaitForSignal(ctx)
		cancel()
	}()
	go func() { _ = sup.Watch(ctx) }()
	go sup.RunCron(ctx)

	logging.Welcome(logger, cfg.ServerURL(), cfg.Production)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := sup.Serve(ctx, addr, srv); err != nil {
		logger.Error("Error", "stage", "listener", "error", err.Error())
		return 1
	}
	return 0
}
