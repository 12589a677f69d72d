package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"eventscope/internal/cache"
	"eventscope/internal/client"
	"eventscope/internal/config"
	"eventscope/internal/engine"
	"eventscope/internal/feed"
	"eventscope/internal/filter"
	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/normalize"
	"eventscope/internal/schedule"
	"eventscope/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	dump       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}
	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.dump {
		if err := yaml.NewEncoder(os.Stdout).Encode(conf); err != nil {
			appLog.Error("failed to dump config", err)
			os.Exit(1)
		}
		return
	}

	appLog.Info("eventscope starting",
		"version", version,
		"listen", conf.Listen,
		"origin", conf.API.Origin,
		"timezone", conf.Timezone,
		"mode", conf.Mode,
		"staleness", conf.Cache.Staleness.Std(),
		"retention", conf.Cache.Retention.Std(),
		"retries", conf.Cache.Retries,
		"feeds", len(conf.Feeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	eng, err := buildEngine(ctx, conf, m)
	if err != nil {
		appLog.Error("failed to initialize engine", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runOnce(ctx, eng); err != nil {
			appLog.Error("catalog fetch failed", err)
			os.Exit(1)
		}
		return
	}

	sched, err := schedule.New(eng, conf.SweepCron, conf.RefreshCron)
	if err != nil {
		appLog.Error("failed to initialize scheduler", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Warm the catalog so local mode has data on the first request.
	eng.RefreshCatalog()

	if err := web.NewServer(conf, eng, m).Run(ctx); err != nil {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}
	appLog.Info("eventscope exiting")
}

func buildEngine(ctx context.Context, conf *config.Config, m *metrics.Metrics) (*engine.Engine, error) {
	loc := conf.Location()
	norm := normalize.New(normalize.Options{
		PlaceholderImage: conf.PlaceholderImage,
		Tables:           conf.Mappers,
		Location:         loc,
		Metrics:          m,
	})
	httpClient := client.NewHTTPClient(conf.API.Timeout.Std())
	c, err := client.New(conf.API.Origin, httpClient, norm)
	if err != nil {
		return nil, err
	}

	var feeds *feed.Loader
	if len(conf.Feeds) > 0 {
		feeds = feed.NewLoader(client.NewFetcher(httpClient, conf.FeedCacheDir), norm, conf.Feeds, loc)
	}

	return engine.New(engine.Options{
		Client:   c,
		Feeds:    feeds,
		Location: loc,
		Metrics:  m,
		Context:  ctx,
		Cache: cache.Options{
			Staleness: conf.Cache.Staleness.Std(),
			Retention: conf.Cache.Retention.Std(),
			Retries:   conf.Cache.Retries,
			Backoff:   conf.Cache.Backoff.Std(),
			Timeout:   conf.API.Timeout.Std(),
		},
	})
}

// runOnce loads the catalog and prints a per-category summary.
func runOnce(ctx context.Context, eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	v, err := eng.Query(ctx, filter.Must(), engine.ModeLocal, true)
	if err != nil {
		return err
	}
	if v.Err != nil && !v.HasData {
		return v.Err
	}
	if !v.HasData {
		return errors.New("catalog is empty")
	}

	counts := make(map[string]int)
	for _, ev := range v.Events {
		counts[ev.Category]++
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	slices.Sort(cats)

	fmt.Printf("%d events (fetched %s)\n", len(v.Events), v.FetchedAt.Format(time.RFC3339))
	for _, c := range cats {
		name := c
		if name == "" {
			name = "(none)"
		}
		fmt.Printf("  %-16s %d\n", name, counts[c])
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./eventscope.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file with EVENTSCOPE_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch the catalog once, print a summary and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Print the effective config as YAML and exit")

	flag.Parse()

	return cfg
}
