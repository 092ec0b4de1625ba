package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/action"
	"github.com/shaiso/Conveyor/internal/backoff"
	"github.com/shaiso/Conveyor/internal/builtin"
	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/jobqueue"
	"github.com/shaiso/Conveyor/internal/lock"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runlog"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run job queue, cron scheduler and run recorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, a, cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply migrations before start")

	return cmd
}

func serve(ctx context.Context, a *app, cfg *config.Config, migrate bool) error {
	logger := telemetry.SetupLoggerWith(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting conveyor", "version", version)

	pool, err := a.openPool(ctx)
	if err != nil {
		return err
	}
	logger.Info("database connected")

	if migrate {
		applied, err := repo.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", len(applied))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(promRegistry)

	runs := repo.NewRunRepo(pool)

	// RunEntry: Batcher → action_runs
	batcher := runlog.NewBatcher(runlog.BatcherConfig{
		Writer:        runs,
		BatchSize:     cfg.RunLog.BatchSize,
		FlushInterval: cfg.RunLog.FlushInterval,
		BufferSize:    cfg.RunLog.BufferSize,
		Metrics:       metrics,
		Logger:        logger,
	})
	// Останавливается явно, после queue и scheduler: их последние записи
	// должны попасть в буфер.
	batcher.Start(context.WithoutCancel(ctx))
	defer batcher.Stop()

	var recorder runlog.Sink = batcher

	// RabbitMQ (опционально): RunEntry публикуются и записываются consumer'ом
	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.Dial(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, recording runs directly", "error", err)
		} else {
			defer conn.Close()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return fmt.Errorf("setup topology: %w", err)
			}

			recorder = mq.NewRunPublisher(mq.NewPublisher(conn, logger), batcher, logger)

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue:    mq.QueueRunsRecorded,
				Handler:  mq.RecorderHandler(runs),
				Prefetch: cfg.RunLog.BatchSize,
			})
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("run recorder stopped", "error", err)
				}
			}()
		}
	}

	sink := runlog.Multi{runlog.NewLogSink(logger), recorder}

	// Redis (опционально): distributed lock для cron и cache для actions
	var (
		locks    lock.Provider
		cacheCap func() (action.Cache, error)
	)
	if cfg.Redis.URL != "" {
		client, err := newRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		locks = lock.NewRedisProvider(client, cfg.Redis.Prefix)
		kv := cache.NewRedis(client, cfg.Redis.Prefix)
		cacheCap = func() (action.Cache, error) { return kv, nil }
		logger.Info("redis connected")
	} else {
		logger.Warn("redis not configured, cron runs without distributed lock")
	}

	queue := jobqueue.New(jobqueue.Config{
		Store:        repo.NewJobRepo(pool),
		DB:           pool,
		PollInterval: cfg.Queue.PollInterval,
		Concurrency:  cfg.Queue.Concurrency,
		StopTimeout:  cfg.Queue.StopTimeout,
		StaleAfter:   cfg.Queue.StaleAfter,
		Metrics:      metrics,
		Logger:       logger,
	})

	actions := action.NewRegistry()
	if err := builtin.Register(actions, builtin.Options{
		RunRetention:    cfg.RunLog.Retention,
		PurgeCron:       cfg.RunLog.PurgeCron,
		HTTPMaxAttempts: cfg.HTTP.MaxAttempts,
		HTTPBackoff:     backoff.ParseKind(cfg.HTTP.Backoff),
	}); err != nil {
		return fmt.Errorf("register builtin actions: %w", err)
	}

	builder := action.NewContextBuilder(logger, action.Providers{
		DB:    func() (action.Querier, error) { return pool, nil },
		Cache: cacheCap,
		Jobs:  func() (action.JobPusher, error) { return queue, nil },
	})

	exec := executor.New(executor.Config{
		Registry: actions,
		Sink:     sink,
		Builder:  builder,
		Metrics:  metrics,
		MaxDepth: cfg.Executor.MaxDepth,
		Logger:   logger,
	})

	queue.Register(builtin.InvokeJobName, builtin.InvokeJob(exec))

	if cfg.Queue.Enabled {
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	sched := scheduler.New(scheduler.Config{
		Registry:      actions,
		Executor:      exec,
		Locks:         locks,
		LockTTL:       cfg.Scheduler.LockTTL,
		SkipIfRunning: cfg.Scheduler.SkipIfRunning,
		Metrics:       metrics,
		Logger:        logger,
	})
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	var server *http.Server
	if cfg.Metrics.Enabled {
		server = newHTTPServer(cfg.Metrics.Port, promRegistry)
		go func() {
			logger.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdown(shutdownCtx, logger, "scheduler", sched.Stop)
	if queue.IsRunning() {
		shutdown(shutdownCtx, logger, "queue", queue.Stop)
	}
	if server != nil {
		shutdown(shutdownCtx, logger, "http server", server.Shutdown)
	}

	logger.Info("conveyor stopped")
	return nil
}

func shutdown(ctx context.Context, logger *slog.Logger, name string, stop func(context.Context) error) {
	if err := stop(ctx); err != nil {
		logger.Error("shutdown error", "component", name, "error", err)
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newHTTPServer создаёт сервер с /healthz и /metrics.
func newHTTPServer(port int, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
