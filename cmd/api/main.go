package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castbox/internal/actions"
	"castbox/internal/awsutil"
	"castbox/internal/config"
	"castbox/internal/events"
	"castbox/internal/httpserver"
	"castbox/internal/jobs"
	"castbox/internal/logging"
	"castbox/internal/media"
	"castbox/internal/observability"
	"castbox/internal/providers/telegram"
	sqsqueue "castbox/internal/queue/sqs"
	"castbox/internal/scheduler"
	"castbox/internal/store"
	"castbox/internal/store/pg"
	"castbox/internal/store/sqlite"
	"castbox/internal/worker"
)

func main() {
	cfg := config.LoadAPI()
	log := logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("api store init failed", "err", err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	defer st.Close()

	observability.Register(prometheus.DefaultRegisterer)
	go serveMetrics(log, cfg.MetricsPort)

	senders, bot, err := buildChannels(cfg, log)
	if err != nil {
		log.Error("api channel init failed", "err", err)
		os.Exit(1)
	}
	stager, err := media.NewStager(cfg.MediaDir, cfg.MaxUploadMB<<20)
	if err != nil {
		log.Error("api media dir init failed", "err", err, "dir", cfg.MediaDir)
		os.Exit(1)
	}

	loc := cfg.Location()
	sched := scheduler.New(scheduler.Config{
		Store:           st,
		Senders:         senders,
		Jobs:            jobs.NewRegistry(),
		Media:           stager,
		Log:             log,
		Location:        loc,
		MissedFireGrace: cfg.MissedFireGrace,
		SendConcurrency: cfg.SendConcurrency,
	})
	if _, err := sched.RestartPending(ctx); err != nil {
		log.Error("api restart recovery failed", "err", err)
		os.Exit(1)
	}

	// inbound events: telegram poller and the SQS queue feed the bus, the
	// action listener consumes it
	bus := events.NewBus()
	cache := actions.NewRuleCache(st, cfg.ActionCacheTTL, nil)
	gate := actions.NewDailyGate(loc)
	purge, err := gate.StartPurge(log)
	if err != nil {
		log.Error("api gate purge init failed", "err", err)
		os.Exit(1)
	}
	listener := actions.NewListener(actions.ListenerConfig{
		Rules:    cache,
		Senders:  senders,
		Recorder: st,
		Gate:     gate,
		Log:      log,
		Location: loc,
	})
	go func() {
		if err := listener.Run(ctx, bus, 256); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("action listener stopped", "err", err)
		}
	}()

	if bot != nil {
		poller := &telegram.Poller{Bot: bot, SelfID: bot.Self.ID, Timeout: cfg.TelegramPollTimeout, Bus: bus, Log: log}
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("telegram poller stopped", "err", err)
			}
		}()
	}

	if cfg.InboundQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			log.Error("api sqs client init failed", "err", err)
			os.Exit(1)
		}
		consumer := &sqsqueue.Consumer{
			SQS:               sqsClient,
			QueueURL:          cfg.InboundQueueURL,
			Log:               log,
			WaitTimeSeconds:   cfg.SQSWaitTime,
			MaxMessages:       cfg.SQSMaxMsgs,
			VisibilityTimeout: cfg.SQSVizTimeout,
		}
		inbound := &worker.Inbound{Bus: bus, Log: log}
		go func() {
			if err := consumer.PollConcurrent(ctx, cfg.InboundConcurrency, inbound.Process); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("inbound consumer stopped", "err", err)
			}
		}()
	}

	s := httpserver.New()
	(&httpserver.Schedules{
		Svc:            sched,
		Media:          stager,
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	}).Register(s.Mux)
	(&httpserver.Messages{
		Svc:            sched,
		Media:          stager,
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	}).Register(s.Mux)
	(&httpserver.Actions{
		Svc: &actions.Service{Store: st, Cache: cache, Log: log},
		Log: log,
	}).Register(s.Mux)
	s.Health(2*time.Second, st.Ping)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("api listening", "port", cfg.Port, "timezone", loc.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("api server failed", "err", err)
		os.Exit(1)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Warn("scheduler stop timed out", "err", err)
	}
	<-purge.Stop().Done()
	bus.Close()
}

func openStore(ctx context.Context, cfg config.APIConfig) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "postgres", "":
		pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
			MaxConns:          cfg.DBPoolMaxConns,
			MinConns:          cfg.DBPoolMinConns,
			MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
			MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
			HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return pg.New(pool), nil
	default:
		return nil, errors.New("unknown DB_DRIVER " + cfg.DBDriver)
	}
}

func serveMetrics(log *slog.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("metrics listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "err", err)
	}
}
