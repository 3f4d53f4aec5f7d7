package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/goatkit/extreload/internal/bundler"
	"github.com/goatkit/extreload/internal/config"
	"github.com/goatkit/extreload/internal/plugin"
	"github.com/goatkit/extreload/internal/reloader/push"
	"github.com/goatkit/extreload/internal/reloader/push/firebase"
	"github.com/goatkit/extreload/internal/reloader/simple"
	"github.com/goatkit/extreload/internal/watch"
)

func newBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle the extension; with --watch, rebuild and reload on change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.build(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolP("watch", "w", false, "watch the sources and wire the auto-reloader")
	flags.StringP("reloader", "r", config.ReloaderSimple, "reloader for watch builds: simple, push or none")
	flags.StringP("source", "s", "", "extension source directory")
	flags.StringP("out", "o", "", "output directory")
	flags.String("format", "", "output format: iife or esm")
	flags.Bool("minify", false, "minify output")
	flags.Bool("sourcemap", false, "emit linked source maps")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address in watch mode")

	bindFlags(a.v, flags, map[string]string{
		"watch":        "watch",
		"reloader":     "reloader",
		"source":       "source",
		"out":          "out",
		"format":       "format",
		"minify":       "minify",
		"sourcemap":    "sourcemap",
		"metrics.addr": "metrics-addr",
	})
	return cmd
}

// bindFlags binds config keys to the named flags so an explicit flag wins
// over the config file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	mgr := plugin.NewManager(plugin.WithLogger(a.logger))

	cache, err := a.registerReloader(mgr)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Stop()
	}

	b, err := bundler.New(bundler.Config{
		SourceDir: cfg.Source,
		OutDir:    cfg.Out,
		Format:    cfg.Format,
		Minify:    cfg.Minify,
		Sourcemap: cfg.Sourcemap,
	}, mgr, bundler.WithLogger(a.logger))
	if err != nil {
		return err
	}

	if !cfg.Watch {
		if err := b.Build(ctx); err != nil {
			a.printReports(mgr)
			return err
		}
		fmt.Fprintf(a.stdout, "Built %s into %s\n", cfg.Source, cfg.Out)
		return nil
	}

	if cfg.Metrics.Addr != "" {
		stopMetrics := a.serveMetrics(cfg.Metrics.Addr)
		defer stopMetrics()
	}

	w := watch.New(cfg.Source, func(context.Context, []string) {
		if err := b.Reload(); err != nil {
			a.logger.Error("rebuild failed", "error", err)
		}
	}, watch.WithIgnore(cfg.Out), watch.WithLogger(a.logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	a.logger.Info("watching for changes", "source", cfg.Source, "out", cfg.Out, "plugins", mgr.List())
	return b.Watch(ctx)
}

// registerReloader adds the configured reloader to mgr. Outside watch mode
// the reloaders decline and nothing is registered. The push cache is
// returned so the caller can stop its update interval.
func (a *app) registerReloader(mgr *plugin.Manager) (*push.Cache, error) {
	cfg := a.cfg

	switch cfg.Reloader {
	case config.ReloaderSimple:
		if p := simple.New(simple.WithWatch(cfg.Watch), simple.WithLogger(a.logger)); p != nil {
			return nil, mgr.Register(p)
		}

	case config.ReloaderPush:
		cache := push.NewCache()
		p := push.New(
			push.WithWatch(cfg.Watch),
			push.WithCache(cache),
			push.WithFunctions(firebase.New(cfg.Firebase(a.logger))),
			push.WithInterval(cfg.Push.Interval),
			push.WithRegisterURL(cfg.Push.RegisterURL),
			push.WithLogger(a.logger),
		)
		if p == nil {
			return nil, nil
		}
		if cfg.Push.APIKey == "" {
			return nil, fmt.Errorf("push reloader: %w (set push.api_key or %s_PUSH_API_KEY)", firebase.ErrNoAPIKey, config.EnvPrefix)
		}
		return cache, mgr.Register(p)
	}
	return nil, nil
}

func (a *app) printReports(mgr *plugin.Manager) {
	logs := mgr.Logs()
	if logs.Count() == 0 {
		return
	}
	fmt.Fprintf(a.stderr, "Plugin reports (%d, newest first):\n", logs.Count())
	for _, e := range logs.GetRecent(10) {
		fmt.Fprintf(a.stderr, "[%s] %s: %s\n", e.Level, e.Plugin, e.Message)
	}
}

func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
