// Command songindex maintains the song catalog from a TJA chart library:
// one-shot scans, a watch mode reacting to filesystem changes, and an import
// diagnostics report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/taikoweb/songindex/internal/config"
	"github.com/taikoweb/songindex/internal/diag"
	"github.com/taikoweb/songindex/internal/engine"
	"github.com/taikoweb/songindex/internal/metrics"
	"github.com/taikoweb/songindex/internal/store"
	"github.com/taikoweb/songindex/internal/watch"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	app := &cli.App{
		Name:  "songindex",
		Usage: "Scan a TJA chart library into the song catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   "songindex.toml",
			},
			&cli.StringFlag{
				Name:  "songs-dir",
				Usage: "Songs root directory (overrides config)",
			},
			&cli.StringFlag{
				Name:  "baseurl",
				Usage: "Base URL for derived chart URLs (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "scan",
				Usage: "Run one scan pass and print the summary",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Reprocess every file, ignoring clean-skip signatures",
					},
				},
				Action: func(c *cli.Context) error {
					return runScan(c, log)
				},
			},
			{
				Name:  "watch",
				Usage: "Scan once, then rescan on filesystem changes",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "debounce-ms",
						Usage: "Delay between the last change and the rescan (overrides config)",
					},
				},
				Action: func(c *cli.Context) error {
					return runWatch(c, log)
				},
			},
			{
				Name:  "diagnose",
				Usage: "Print the import diagnostics report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: text or json",
						Value: "text",
					},
				},
				Action: func(c *cli.Context) error {
					return runDiagnose(c, log)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("songindex failed")
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("songs-dir"); dir != "" {
		cfg.Songs.Dir = dir
	}
	if base := c.String("baseurl"); base != "" {
		cfg.Songs.BaseURL = base
	}
	if cfg.Songs.Dir == "" {
		return nil, fmt.Errorf("no songs directory configured; set songs.dir or pass --songs-dir")
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*mongo.Client, store.Stores, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Database.URI))
	if err != nil {
		return nil, store.Stores{}, fmt.Errorf("failed to connect to %s: %w", cfg.Database.URI, err)
	}
	return client, store.NewMongoStores(client.Database(cfg.Database.Name)).Stores(), nil
}

func buildEngine(cfg *config.Config, stores store.Stores, log zerolog.Logger) *engine.Engine {
	return engine.New(engine.Config{
		SongsDir:    cfg.Songs.Dir,
		BaseURL:     cfg.Songs.BaseURL,
		IgnoreGlobs: cfg.Songs.IgnoreGlobs,
	}, stores, log, metrics.NewCounters(log))
}

func runScan(c *cli.Context, log zerolog.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, stores, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	eng := buildEngine(cfg, stores, log)
	if err := eng.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	summary, err := eng.Scan(ctx, engine.Options{Full: c.Bool("full")})
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(summary)
}

func runWatch(c *cli.Context, log zerolog.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if ms := c.Int("debounce-ms"); ms > 0 {
		cfg.Watch.DebounceMs = ms
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, stores, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	eng := buildEngine(cfg, stores, log)
	if err := eng.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	watcher := watch.New(cfg.Songs.Dir, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, func() {
		summary, err := eng.Scan(context.Background(), engine.Options{})
		if err != nil {
			log.Error().Err(err).Msg("rescan failed")
			return
		}
		log.Info().
			Int("found", summary.Found).
			Int("inserted", summary.Inserted).
			Int("updated", summary.Updated).
			Int("disabled", summary.Disabled).
			Int("skipped", summary.Skipped).
			Int("errors", summary.Errors).
			Float64("duration_seconds", summary.DurationSeconds).
			Msg("rescan complete")
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := eng.Scan(gctx, engine.Options{Full: true})
		if err != nil {
			return err
		}
		log.Info().
			Int("found", summary.Found).
			Int("inserted", summary.Inserted).
			Int("updated", summary.Updated).
			Int("skipped", summary.Skipped).
			Msg("initial scan complete")
		return nil
	})
	g.Go(func() error {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("watcher unavailable; running without live updates")
			<-gctx.Done()
			return nil
		}
		<-gctx.Done()
		watcher.Stop()
		return nil
	})
	return g.Wait()
}

func runDiagnose(c *cli.Context, log zerolog.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, stores, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	report, err := diag.Build(ctx, stores.State)
	if err != nil {
		return err
	}
	switch c.String("format") {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(report)
	case "text":
		_, err := fmt.Fprint(os.Stdout, report.Render())
		return err
	default:
		return fmt.Errorf("unknown format %q", c.String("format"))
	}
}
