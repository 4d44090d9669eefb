package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/zwy923/onebox/contracts/mq"
	"github.com/zwy923/onebox/internal/config"
	"github.com/zwy923/onebox/internal/mqhandler"
	"github.com/zwy923/onebox/internal/notifier"
	"github.com/zwy923/onebox/pkg/circuitbreaker"
	"github.com/zwy923/onebox/pkg/logger"
	"github.com/zwy923/onebox/pkg/mq"
	"github.com/zwy923/onebox/pkg/otel"
)

const leadQueue = "lead.interested.notify.q"

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification worker...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, cfg.OTel, "onebox-worker", log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	// Init sinks
	timeout := time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
	var sinks []notifier.Sink
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notifier.NewWebhookSink(cfg.Notify.WebhookURL, timeout))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		sinks = append(sinks, notifier.NewSlackSink(cfg.Notify.SlackWebhookURL, timeout))
	}
	n := notifier.New(log, circuitbreaker.Config{
		FailureThreshold:    cfg.Notify.Breaker.FailureThreshold,
		SuccessThreshold:    cfg.Notify.Breaker.SuccessThreshold,
		Timeout:             time.Duration(cfg.Notify.Breaker.OpenSeconds) * time.Second,
		HalfOpenMaxRequests: 1,
	}, sinks...)
	log.Info("Notification sinks configured", zap.Strings("sinks", n.Sinks()))

	// Parking publisher for undelivered leads
	parker, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init parking publisher", zap.Error(err))
	}
	defer parker.Close()

	// Consumer for lead.interested
	log.Info("Initializing lead consumer", zap.String("queue", leadQueue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, leadQueue, mqcontracts.RoutingKeyLeadInterested, log)
	if err != nil {
		log.Fatal("failed to init lead consumer", zap.Error(err))
	}
	defer consumer.Close()

	leadHandler := mqhandler.NewLeadInterestedHandler(n, log)
	consumer.SetHandler(leadHandler.HandleLeadInterested)
	consumer.SetParker(parker)

	if err := consumer.StartConsuming(ctx); err != nil {
		log.Fatal("lead consumer failed", zap.Error(err))
	}
	log.Info("Worker stopped")
}
