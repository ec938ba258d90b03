// Command ipo-server serves the collector's HTTP control surface and
// websocket progress feed, optionally running the collection job on a
// fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ipocli/internal/app"
	"ipocli/internal/config"
	"ipocli/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("ipo-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "YAML configuration file (default: IPO_CONFIG_FILE or ./config.yaml)")
	port := fs.Int("port", 0, "listen port; overrides server.port")
	schedule := fs.Bool("schedule", false, "run the collection job every scheduler.interval")
	entities := fs.String("entities", "", "CSV of listings used instead of upstream discovery")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(*configFile)
	}
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *schedule {
		cfg.Scheduler.Enabled = true
	}

	logger, closer, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg, logger, app.Options{EntitiesFile: *entities, Stream: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	logger.InfoContext(ctx, "ipo-server starting",
		slog.String("version", app.Version),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("scheduler", cfg.Scheduler.Enabled),
		slog.String("job", a.Job.Name()),
		slog.String("data_dir", a.Paths.DataDir))

	return a.Serve(ctx)
}
