package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/inference-router/config"
	"github.com/angeloszaimis/inference-router/internal/backend"
	"github.com/angeloszaimis/inference-router/internal/circuitbreaker"
	"github.com/angeloszaimis/inference-router/internal/dispatcher"
	"github.com/angeloszaimis/inference-router/internal/handler"
	"github.com/angeloszaimis/inference-router/internal/healthcheck"
	"github.com/angeloszaimis/inference-router/internal/httpserver"
	"github.com/angeloszaimis/inference-router/internal/metrics"
	"github.com/angeloszaimis/inference-router/internal/router"
	"github.com/angeloszaimis/inference-router/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logSource  bool
	)

	cmd := &cobra.Command{
		Use:           "inference-router",
		Short:         "Weighted A/B router for text-classification backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, configPath, logSource); err != nil {
				slog.Error("inference router exited", slog.Any("err", err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config/config.yaml)")
	cmd.Flags().BoolVar(&logSource, "log-source", false, "include source file and line in log records")

	return cmd
}

// application holds the wired components of one running instance.
type application struct {
	handler  http.Handler
	exporter *metrics.Exporter
	breakers *circuitbreaker.Registry
	targets  []healthcheck.Target
}

func run(ctx context.Context, configPath string, logSource bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Environment: cfg.Server.Environment,
		AddSource:   logSource,
	})

	app, err := build(cfg, log)
	if err != nil {
		return err
	}

	srv, err := httpserver.New(cfg.Server.Address, app.handler, httpserver.Timeouts{
		Read:  config.ParseDuration(cfg.Server.ReadTimeout),
		Write: config.ParseDuration(cfg.Server.WriteTimeout),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.exporter.Run(gctx)
	})

	g.Go(func() error {
		log.Info("Inference router listening", slog.String("addr", srv.Addr()))
		return srv.Run(gctx)
	})

	interval := config.ParseDuration(cfg.HealthCheck.Interval)
	for _, target := range app.targets {
		g.Go(func() error {
			return healthcheck.HealthCheck(gctx, target, interval, app.exporter, log)
		})
	}

	err = g.Wait()
	if app.breakers != nil {
		log.Info("Circuit breaker states at shutdown", slog.Any("breakers", app.breakers.Stats()))
	}
	log.Info("Inference router stopped")

	return err
}

// build wires the core components from cfg. It starts no goroutines.
func build(cfg *config.Config, log *slog.Logger) (*application, error) {
	var breakers *circuitbreaker.Registry
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		breakers = circuitbreaker.NewRegistry(
			cfg.CircuitBreaker.FailureThreshold,
			config.ParseDuration(cfg.CircuitBreaker.ResetTimeout),
		)
	}

	registry, targets, err := buildBackends(cfg.Backends, breakers, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("build backends: %w", err)
	}

	exporter := metrics.NewExporter(cfg.Metrics.BufferSize, log)

	weights, err := router.New(cfg.Weights(), router.WithObserver(func(w router.WeightTable) {
		exporter.Emit(metrics.Event{
			Type:      metrics.EventWeightsChanged,
			Timestamp: time.Now(),
			Weights:   w,
		})
	}))
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	if !slices.Equal(registry.IDs(), weights.Backends()) {
		return nil, fmt.Errorf("build router: %w", router.ErrMismatchedBackendSet)
	}

	aggregator := metrics.NewAggregator()
	disp := dispatcher.New(log, registry, weights, aggregator, dispatcherOptions(cfg, exporter)...)
	api := handler.NewAPI(log, disp, weights)

	log.Info("Backends registered",
		slog.Any("backends", registry.IDs()),
		slog.Any("weights", weights.CurrentWeights()),
		slog.Bool("circuit_breaker", breakers != nil))

	return &application{
		handler:  setupRouter(api, aggregator, exporter, handler.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst), log),
		exporter: exporter,
		breakers: breakers,
		targets:  targets,
	}, nil
}

// buildBackends constructs one classifier per configured backend, wrapping
// each in a circuit breaker when breakers is non-nil. Remote backends are
// returned as health probe targets.
func buildBackends(
	configs []config.BackendConfig,
	breakers *circuitbreaker.Registry,
	client *http.Client,
) (*backend.Registry, []healthcheck.Target, error) {
	entries := make([]backend.Entry, 0, len(configs))
	var targets []healthcheck.Target

	for _, bc := range configs {
		version := bc.Version
		if version == "" {
			version = bc.ID
		}

		var classifier backend.Classifier
		switch bc.Type {
		case config.BackendTypeLexicon:
			if bc.Neutral {
				classifier = backend.NewLexiconWithNeutral(version)
			} else {
				classifier = backend.NewLexicon(version)
			}
		case config.BackendTypeHTTP:
			u, err := url.Parse(bc.URL)
			if err != nil {
				return nil, nil, fmt.Errorf("backend %s: parse url: %w", bc.ID, err)
			}
			classifier = backend.NewHTTP(u, version, client)
			targets = append(targets, healthcheck.Target{ID: bc.ID, URL: u})
		default:
			return nil, nil, fmt.Errorf("backend %s: unsupported type %q", bc.ID, bc.Type)
		}

		if breakers != nil {
			classifier = backend.NewGuard(classifier, breakers.GetBreaker(bc.ID))
		}

		entries = append(entries, backend.Entry{ID: bc.ID, Classifier: classifier})
	}

	registry, err := backend.NewRegistry(entries...)
	if err != nil {
		return nil, nil, err
	}

	return registry, targets, nil
}

func dispatcherOptions(cfg *config.Config, exporter *metrics.Exporter) []dispatcher.Option {
	opts := []dispatcher.Option{
		dispatcher.WithTimeout(config.ParseDuration(cfg.Dispatcher.Timeout)),
		dispatcher.WithExporter(exporter),
	}

	for _, bc := range cfg.Backends {
		if d := config.ParseDuration(bc.Timeout); d > 0 {
			opts = append(opts, dispatcher.WithBackendTimeout(bc.ID, d))
		}
	}

	return opts
}
