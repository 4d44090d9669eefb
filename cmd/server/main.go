package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/classifier"
	"github.com/zwy923/onebox/internal/config"
	"github.com/zwy923/onebox/internal/handler"
	"github.com/zwy923/onebox/internal/httpserver"
	"github.com/zwy923/onebox/internal/ingest"
	"github.com/zwy923/onebox/internal/listener"
	"github.com/zwy923/onebox/internal/notifier"
	"github.com/zwy923/onebox/internal/outbound"
	"github.com/zwy923/onebox/internal/service/email"
	"github.com/zwy923/onebox/internal/store"
	"github.com/zwy923/onebox/internal/suggest"
	"github.com/zwy923/onebox/pkg/circuitbreaker"
	"github.com/zwy923/onebox/pkg/db"
	"github.com/zwy923/onebox/pkg/logger"
	"github.com/zwy923/onebox/pkg/mq"
	"github.com/zwy923/onebox/pkg/otel"
	redisclient "github.com/zwy923/onebox/pkg/redis"
	"github.com/zwy923/onebox/pkg/util"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, cfg.OTel, "onebox-server", log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	// 2. Init store
	var st store.Store
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("Using in-memory store, messages are lost on restart")
		st = store.NewMemoryStore()
	case "postgres":
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("DB initialization failed", zap.Error(err))
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool, log)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to create schema", zap.Error(err))
		}
		st = pg
	default:
		log.Fatal("Unknown store driver", zap.String("driver", cfg.Store.Driver))
	}

	// 3. Init Redis for ingest dedup and the notification guard
	var (
		dedup ingest.Deduper
		guard notifier.Guard = &notifier.MemoryGuard{}
	)
	if cfg.Redis.Addr != "" {
		rdb := redisclient.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		if err := redisclient.Ping(ctx, rdb); err != nil {
			log.Warn("Redis unavailable, dedup checks will fail open", zap.Error(err))
		}
		dedup = util.NewDeduper(rdb, time.Duration(cfg.Listener.DedupTTLHours)*time.Hour, log)
		guard = util.NewDeduper(rdb, time.Duration(cfg.Notify.GuardTTLHours)*time.Hour, log)
	}

	// 4. Init classifier
	table := classifier.DefaultTable()
	if path := cfg.Classifier.PatternsFile; path != "" {
		t, err := classifier.LoadTable(path)
		if err != nil {
			log.Fatal("Failed to load pattern table", zap.String("path", path), zap.Error(err))
		}
		table = t
	}
	c, err := classifier.New(table)
	if err != nil {
		log.Fatal("Invalid pattern table", zap.Error(err))
	}
	holder := classifier.NewHolder(c)
	log.Info("Classifier ready", zap.String("version", c.Version()))

	// 5. Init notification dispatcher
	var (
		dispatcher notifier.Dispatcher
		async      *notifier.Async
		readiness  []httpserver.ReadyCheck
	)
	switch cfg.Notify.Mode {
	case "queue":
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init publisher", zap.Error(err))
		}
		defer publisher.Close()
		dispatcher = notifier.NewQueue(publisher, log)
		readiness = append(readiness, httpserver.ReadyCheck{Name: "broker", Check: publisher})
	default:
		n := notifier.New(log, breakerConfig(cfg), sinks(cfg)...)
		if len(n.Sinks()) == 0 {
			log.Warn("No notification sinks configured")
		}
		async = notifier.NewAsync(n, time.Duration(cfg.Notify.TimeoutSeconds)*time.Second)
		dispatcher = async
	}
	dispatcher = notifier.NewGuarded(dispatcher, guard, log)

	// 6. Init ingest pipeline and listeners
	pipeline := ingest.New(holder, st, dispatcher, dedup, log)
	dialer := &listener.IMAPDialer{
		IdlePoll: time.Duration(cfg.Listener.IdlePollSeconds) * time.Second,
		Logger:   log,
	}
	manager := listener.NewManager(cfg.Accounts, dialer, pipeline, listener.WorkerConfigFrom(cfg.Listener), log)

	// 7. Init services and handlers
	emailService := email.NewService(
		st,
		holder,
		suggest.NewEngine(suggest.FromConfig(cfg.Templates)),
		dispatcher,
		outbound.NewSMTPSender(cfg.SMTP),
		log,
	)
	emailHandler := handler.NewEmailHandler(emailService, log)
	accountHandler := handler.NewAccountHandler(manager)

	// 8. Init router
	router := httpserver.NewRouter(emailHandler, accountHandler, cfg.JWT.Secret, st, log, readiness...)
	srv := router.Server(cfg.Server.Port)

	// 9. Reload the pattern table on SIGHUP
	if path := cfg.Classifier.PatternsFile; path != "" {
		go reloadOnHangup(ctx, holder, path, log)
	}

	// 10. Run listeners and server
	listenersDone := make(chan struct{})
	go func() {
		defer close(listenersDone)
		_ = manager.Run(ctx)
	}()

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	<-listenersDone
	if async != nil {
		async.Wait()
	}
	log.Info("Stopped")
}

func breakerConfig(cfg *config.Config) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    cfg.Notify.Breaker.FailureThreshold,
		SuccessThreshold:    cfg.Notify.Breaker.SuccessThreshold,
		Timeout:             time.Duration(cfg.Notify.Breaker.OpenSeconds) * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func sinks(cfg *config.Config) []notifier.Sink {
	timeout := time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
	var out []notifier.Sink
	if cfg.Notify.WebhookURL != "" {
		out = append(out, notifier.NewWebhookSink(cfg.Notify.WebhookURL, timeout))
	}
	if cfg.Notify.SlackWebhookURL != "" {
		out = append(out, notifier.NewSlackSink(cfg.Notify.SlackWebhookURL, timeout))
	}
	return out
}

func reloadOnHangup(ctx context.Context, holder *classifier.Holder, path string, log *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			c, err := holder.Reload(path)
			if err != nil {
				log.Error("Pattern reload failed, keeping current table", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("Pattern table reloaded", zap.String("version", c.Version()))
		}
	}
}
