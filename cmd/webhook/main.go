package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castbox/internal/awsutil"
	"castbox/internal/config"
	"castbox/internal/httpserver"
	"castbox/internal/logging"
	"castbox/internal/observability"
	"castbox/internal/providers/twilio"
	sqsqueue "castbox/internal/queue/sqs"
)

func main() {
	cfg := config.LoadWebhook()
	log := logging.Init("webhook", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		log.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)
	go serveMetrics(log, cfg.MetricsPort)

	s := httpserver.New()
	(&httpserver.Webhook{
		Queue:           &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.InboundQueueURL},
		VerifySignature: twilio.VerifySignature,
		AuthToken:       cfg.TwilioAuthToken,
		PublicURL:       cfg.PublicWebhookURL,
		Log:             log,
	}).Register(s.Mux)
	s.Health(0)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}

func serveMetrics(log *slog.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "err", err)
	}
}
