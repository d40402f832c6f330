// Package app wires the depot scheduler components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/depotsched/api"
	"github.com/kilianp07/depotsched/app/plugins"
	"github.com/kilianp07/depotsched/config"
	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/forecast"
	"github.com/kilianp07/depotsched/core/jobs"
	"github.com/kilianp07/depotsched/core/journal"
	coremetrics "github.com/kilianp07/depotsched/core/metrics"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/monitoring"
	"github.com/kilianp07/depotsched/core/pipeline"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/core/store"
	"github.com/kilianp07/depotsched/infra/logger"
	inframetrics "github.com/kilianp07/depotsched/infra/metrics"
	inframon "github.com/kilianp07/depotsched/infra/monitoring"
	"github.com/kilianp07/depotsched/infra/mqtt"
	"github.com/kilianp07/depotsched/infra/store/memory"
	"github.com/kilianp07/depotsched/infra/store/seed"
	"github.com/kilianp07/depotsched/infra/store/sqlite"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// Service owns the stores, the scheduling core and the transports.
type Service struct {
	Resources  *resource.Manager
	Scheduler  *jobs.Scheduler
	Pipelines  *pipeline.Orchestrator
	Forecaster *forecast.Forecaster
	Journal    journal.Store

	cfg         *config.Config
	store       store.Store
	sink        coremetrics.MetricsSink
	bus         *eventbus.Bus
	mqtt        *mqtt.PahoClient
	clock       clock.Clock
	log         logger.Logger
	promEnabled bool
	listener    net.Listener
}

// New builds a Service from the configuration. The returned service holds
// open stores and connections until Close.
func New(cfg *config.Config) (svc *Service, err error) {
	if err := logger.Configure(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log := logger.New("service")
	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	s := &Service{cfg: cfg, clock: clock.Real{}, log: log, bus: eventbus.New()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	if cfg.Store.SeedFile != "" {
		fx, err := seed.Load(cfg.Store.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		n, err := seed.Apply(context.Background(), s.store, fx)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		log.Infof("seeded %d stalls from %s", n, cfg.Store.SeedFile)
	}

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	for _, m := range cfg.Metrics.Sinks {
		if m.Type == "prometheus" {
			s.promEnabled = true
		}
	}

	if s.Journal, err = journal.Open(cfg.Journal); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	var notifier jobs.VehicleNotifier
	if cfg.MQTT.Enabled {
		if s.mqtt, err = mqtt.NewPahoClient(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		notifier = s.mqtt
	}

	if s.Resources, err = resource.NewManager(s.store, s.clock, s.bus, logger.New("resource")); err != nil {
		return nil, err
	}
	if s.Scheduler, err = jobs.NewScheduler(cfg.Scheduler, s.store, s.Resources, notifier, s.clock, nil, s.bus, logger.New("scheduler")); err != nil {
		return nil, err
	}
	engine, err := plugins.NewThresholdEngine(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if s.Pipelines, err = pipeline.NewOrchestrator(cfg.Pipeline, nil, nil, engine, s.store, s.store, s.clock, nil, s.bus, logger.New("pipeline")); err != nil {
		return nil, err
	}
	s.Forecaster = forecast.NewForecaster()
	if err := s.Forecaster.SetSurgeMultiplier(cfg.Forecast.SurgeMultiplier); err != nil {
		return nil, err
	}
	return s, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		st, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		return memory.New(), nil
	}
}

// Handler returns the HTTP API of the service.
func (s *Service) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Stalls:       s.Resources,
		Jobs:         s.Scheduler,
		Pipelines:    s.Pipelines,
		Forecaster:   s.Forecaster,
		FleetSize:    s.cfg.Forecast.FleetSize,
		Journal:      s.Journal,
		JournalToken: s.cfg.Server.JournalToken,
		Bus:          s.bus,
		Clock:        s.clock,
		Logger:       logger.New("api"),
	})
}

// Listen binds the API address ahead of Run so callers can learn the port.
func (s *Service) Listen() (net.Addr, error) {
	if s.listener == nil {
		l, err := net.Listen("tcp", s.cfg.Server.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
		}
		s.listener = l
	}
	return s.listener.Addr(), nil
}

// Run starts the bus subscribers, the background sweeps and the HTTP
// servers, and blocks until ctx is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)

	subscribers := []<-chan struct{}{
		inframetrics.StartEventCollector(ctx, s.bus, s.sink),
		journal.StartRecorder(ctx, s.bus, s.Journal, logger.New("journal")),
	}
	if s.mqtt != nil {
		s.mqtt.OnArrival(func(ctx context.Context, v model.Vehicle) error {
			_, err := s.Pipelines.TriggerArrival(ctx, v, nil, nil)
			return err
		})
		subscribers = append(subscribers, mqtt.StartEventForwarder(ctx, s.bus, s.mqtt, logger.New("mqtt")))
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	g.Go(monitoring.Guard("http", func() error {
		s.log.Infof("API listening on %s", s.listener.Addr())
		if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}))
	g.Go(monitoring.Guard("http-shutdown", func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}))
	g.Go(monitoring.Guard("scheduler", func() error {
		return s.Scheduler.Run(ctx, 0)
	}))
	g.Go(monitoring.Guard("pipeline", func() error {
		return s.Pipelines.Run(ctx, time.Duration(s.cfg.Pipeline.SimulateSeconds)*time.Second)
	}))
	if s.promEnabled {
		g.Go(monitoring.Guard("prometheus", func() error {
			return inframetrics.StartPromServer(ctx, ":"+s.cfg.Metrics.PrometheusPort, prometheus.DefaultGatherer)
		}))
	}

	err := g.Wait()
	for _, done := range subscribers {
		<-done
	}
	s.listener = nil
	return err
}

// Close releases the stores and connections held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
		s.listener = nil
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.sink != nil {
		coremetrics.Close(s.sink)
	}
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
