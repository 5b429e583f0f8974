package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/api"
	"github.com/MacJediWizard/pcapkeeper/internal/config"
	"github.com/MacJediWizard/pcapkeeper/internal/diskusage"
	"github.com/MacJediWizard/pcapkeeper/internal/httpclient"
	"github.com/MacJediWizard/pcapkeeper/internal/index"
	"github.com/MacJediWizard/pcapkeeper/internal/journal"
	"github.com/MacJediWizard/pcapkeeper/internal/maintenance"
	"github.com/MacJediWizard/pcapkeeper/internal/metrics"
	"github.com/MacJediWizard/pcapkeeper/internal/retention"
	"github.com/MacJediWizard/pcapkeeper/internal/stats"
)

// newLogger builds the process logger and sets the global level.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	setLogLevel(cfg.Level)
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// daemonRuntime holds the collaborators shared by the daemon and the
// one-shot commands.
type daemonRuntime struct {
	engine   *retention.Engine
	sink     stats.Sink
	journal  *journal.Store
	registry *prometheus.Registry
	logger   zerolog.Logger
	closers  []func() error

	// The index client and redis sink are rebuilt when a reload changes
	// their settings.
	mu         sync.Mutex
	index      *index.Swappable
	indexCfg   config.IndexConfig
	redis      stats.Swap
	redisCfg   config.StatsConfig
	closeRedis func() error
}

func newRuntime(store *config.Store, logger zerolog.Logger) (*daemonRuntime, error) {
	cfg := store.Current()
	rt := &daemonRuntime{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewPrometheusMetrics(rt.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	sinks := stats.Multi{stats.NewLogSink(logger)}
	if cfg.Stats.Prometheus {
		promSink, err := stats.NewPrometheusSink(rt.registry)
		if err != nil {
			return nil, fmt.Errorf("register stats gauges: %w", err)
		}
		sinks = append(sinks, promSink)
	}
	rt.setRedis(cfg.Stats)
	rt.closers = append(rt.closers, rt.closeCurrentRedis)
	rt.sink = append(sinks, &rt.redis)

	client, err := newIndexClient(cfg.Index, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.index = index.NewSwappable(client)
	rt.indexCfg = cfg.Index

	deps := retention.Deps{
		Config:    store,
		Usage:     diskusage.NewAggregator(diskusage.NewOSProbe(), logger),
		Index:     rt.index,
		Metrics:   m,
		Publisher: retention.NewPublisher(diskusage.NewDeviceSampler(), nil, logger),
		Fatal: func(err error) {
			logger.Fatal().Err(err).Msg("unrecoverable transport error")
		},
		Logger: logger,
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.journal = j
		rt.closers = append(rt.closers, j.Close)
		deps.Journal = j
	}

	rt.engine = retention.NewEngine(deps)
	return rt, nil
}

func newIndexClient(cfg config.IndexConfig, logger zerolog.Logger) (*index.Client, error) {
	httpClient, err := httpclient.New(httpclient.Options{
		Timeout: cfg.Timeout,
		Proxy:   cfg.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("index http client: %w", err)
	}
	logger.Debug().
		Str("index_url", cfg.URL).
		Str("proxy", httpclient.Describe(cfg.Proxy)).
		Msg("index client configured")

	return index.NewClient(index.ClientConfig{
		URL:          cfg.URL,
		IndexPattern: cfg.IndexPattern,
		Username:     cfg.Username,
		Password:     cfg.Password,
		HTTPClient:   httpClient,
	}, logger), nil
}

// setRedis points the redis slot at cfg, closing the previous connection.
// Callers hold rt.mu or own rt exclusively.
func (rt *daemonRuntime) setRedis(cfg config.StatsConfig) {
	prev := rt.closeRedis
	rt.closeRedis = nil
	rt.redisCfg = cfg

	if cfg.RedisAddr == "" {
		rt.redis.Set(nil)
	} else {
		sink, closeRedis := stats.NewRedisSink(stats.RedisOptions{
			Addr:    cfg.RedisAddr,
			Hash:    cfg.RedisKey,
			Channel: cfg.RedisChannel,
		})
		rt.redis.Set(sink)
		rt.closeRedis = closeRedis
	}

	if prev != nil {
		if err := prev(); err != nil {
			rt.logger.Warn().Err(err).Msg("closing previous redis connection")
		}
	}
}

func (rt *daemonRuntime) closeCurrentRedis() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closeRedis == nil {
		return nil
	}
	err := rt.closeRedis()
	rt.closeRedis = nil
	return err
}

// apply rebuilds the index client and redis sink when next changes them.
// Capture locations, limits and the schedule are read per cycle elsewhere;
// the journal, prometheus gauges and listen address need a restart.
func (rt *daemonRuntime) apply(next *config.Config) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if next.Index != rt.indexCfg {
		client, err := newIndexClient(next.Index, rt.logger)
		if err != nil {
			rt.logger.Error().Err(err).Msg("keeping previous index client")
		} else {
			rt.index.Set(client)
			rt.indexCfg = next.Index
			rt.logger.Info().Str("index_url", next.Index.URL).Msg("index client reloaded")
		}
	}

	if next.Stats.RedisAddr != rt.redisCfg.RedisAddr ||
		next.Stats.RedisKey != rt.redisCfg.RedisKey ||
		next.Stats.RedisChannel != rt.redisCfg.RedisChannel {
		rt.setRedis(next.Stats)
		rt.logger.Info().Str("redis_addr", next.Stats.RedisAddr).Msg("redis stats sink reloaded")
	}
}

// Close releases the journal and sink connections.
func (rt *daemonRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func runDaemon(ctx context.Context, store *config.Store) error {
	cfg := store.Current()
	logger := newLogger(cfg.Log)

	rt, err := newRuntime(store, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info().
		Str("version", Version).
		Strs("capture_locations", cfg.CaptureLocations).
		Str("schedule", cfg.Schedule).
		Msg("pcapkeeper starting")

	// One Stats value lives across cycles; the scheduler never runs two
	// cycles at once.
	cycleStats := retention.NewStats(rt.sink)
	scheduler := maintenance.NewScheduler(func(ctx context.Context) error {
		report := rt.engine.CleanupOldPcapFiles(ctx, cycleStats)
		if report.Outcome == retention.OutcomeInterrupted {
			return ctx.Err()
		}
		return nil
	}, logger)

	if err := scheduler.Start(ctx, cfg.Schedule); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if rt.journal != nil {
		pruner := maintenance.NewJournalPruner(rt.journal, cfg.Journal.RetainFor, logger)
		if err := pruner.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to start journal pruner")
		} else {
			defer pruner.Stop()
		}
	}

	watcher := config.NewWatcher(store, func(next *config.Config) {
		setLogLevel(next.Log.Level)
		rt.apply(next)
		if err := scheduler.Reschedule(next.Schedule); err != nil {
			logger.Error().Err(err).Msg("keeping previous schedule")
		}
	}, logger)
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Error().Err(err).Msg("config watcher stopped")
		}
	}()

	if cfg.Server.Listen != "" {
		server := api.NewServer(api.Config{
			Version:    Version,
			StaleAfter: staleAfter(cfg),
		}, rt.engine, rt.registry, logger)
		go func() {
			if err := server.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
				logger.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	initialDone := make(chan struct{})
	go func() {
		defer close(initialDone)
		if err := scheduler.RunNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("initial retention cycle failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down, waiting for the running cycle")

	timeout := time.After(30 * time.Second)
	for _, done := range []<-chan struct{}{scheduler.Stop().Done(), initialDone} {
		select {
		case <-done:
		case <-timeout:
			logger.Warn().Msg("retention cycle did not finish in time")
			return nil
		}
	}

	logger.Info().Msg("pcapkeeper stopped")
	return nil
}

// staleAfter is how long the daemon may go without a cycle before /health
// reports unhealthy: ten brute force intervals, at least ten minutes.
func staleAfter(cfg *config.Config) time.Duration {
	return max(10*cfg.Retention.BruteForceInterval, 10*time.Minute)
}
