package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/recur"
	"evcal/internal/series"
	"evcal/internal/store"
	"evcal/internal/sweep"
	"evcal/internal/web"
)

const feedTimeout = 30 * time.Second

type flagConfig struct {
	configPath string
	listen     string
	reconcile  bool
}

func main() {
	appLog.Info("evcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"max_occurrences", conf.MaxOccurrences,
		"store", conf.Store.Kind,
		"store_dir", conf.Store.Dir,
		"sweep_cron", conf.SweepCron,
		"basic_auth", conf.BasicAuthEnabled(),
	)

	loc := conf.Location()
	st, err := openStore(conf, loc)
	if err != nil {
		appLog.Error("failed to open store", err, "kind", conf.Store.Kind, "dir", conf.Store.Dir)
		os.Exit(1)
	}

	svc := calendar.NewService(calendar.Config{
		Store: st,
		Engine: series.Options{
			Expander: recur.NewExpander(recur.Config{Cap: conf.MaxOccurrences}),
		},
		Location: loc,
		Fetcher:  ics.NewFetcher(conf.FeedCacheDir, feedTimeout),
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.reconcile {
		if _, err := svc.Reconcile(ctx); err != nil {
			appLog.Error("reconcile failed", err)
			os.Exit(1)
		}
		return
	}

	if conf.SweepCron != "" {
		sched, err := sweep.New(conf.SweepCron, svc)
		if err != nil {
			appLog.Error("failed to schedule sweep", err)
			os.Exit(1)
		}
		if err := sched.Start(ctx); err != nil {
			appLog.Error("failed to start sweep", err)
			os.Exit(1)
		}
	}

	srv := web.NewServer(conf, svc)
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}
	appLog.Info("evcal exiting")
}

func openStore(conf *config.Config, loc *time.Location) (store.Store, error) {
	if conf.Store.Kind == config.StoreMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewFileStore(conf.Store.Dir, loc)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/evcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.reconcile, "reconcile", false, "Prune orphaned exceptions from every stored series and exit")

	flag.Parse()

	return cfg
}
