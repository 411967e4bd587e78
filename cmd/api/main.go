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

	"github.com/ariefcatur/go-realty-reservations/internal/config"
	"github.com/ariefcatur/go-realty-reservations/internal/httpx"
	kafkax "github.com/ariefcatur/go-realty-reservations/internal/kafka"
	"github.com/ariefcatur/go-realty-reservations/internal/logger"
	"github.com/ariefcatur/go-realty-reservations/internal/notify"
	"github.com/ariefcatur/go-realty-reservations/internal/postgres"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/redisx"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting", cfg.Fields()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewStatusCache(rdb)

	deps := realty.Deps{
		Store:    &realty.PgStore{DB: db},
		Clock:    realty.SystemClock{},
		Cache:    cache,
		Log:      log,
		Producer: cfg.ServiceName,
	}

	// Kafka producers
	var producers []*kafkax.Producer
	if cfg.Kafka.Enabled {
		events := kafkax.NewProducer(cfg.Kafka.Brokers, realty.TopicEvents, cfg.Kafka.Buffer, log)
		events.Start(ctx)
		notes := kafkax.NewProducer(cfg.Kafka.Brokers, realty.TopicNotifications, cfg.Kafka.Buffer, log)
		notes.Start(ctx)
		producers = append(producers, events, notes)
		pub := &notify.Publisher{Events: events, Notifications: notes, Service: cfg.ServiceName}
		deps.Notifier, deps.Events = pub, pub
	} else {
		ln := notify.LogNotifier{Log: log}
		deps.Notifier, deps.Events = ln, ln
	}
	reservations := realty.NewReservationService(deps)
	contracts := realty.NewContractService(deps)
	contracts.ReadHorizonMonths = cfg.Installments.ReadHorizonMonths
	contracts.WriteHorizonMonths = cfg.Installments.WriteHorizonMonths

	router := httpx.NewRouter(log)
	httpx.Mount(router, httpx.Auth{SigningKey: []byte(cfg.Auth.SigningKey)},
		&httpx.ReservationsHandler{Svc: reservations, Timeout: cfg.RequestTimeout},
		&httpx.ContractsHandler{Svc: contracts, Timeout: cfg.RequestTimeout},
		&httpx.PropertiesHandler{Svc: reservations, Cache: cache, Timeout: cfg.RequestTimeout},
		&httpx.NotificationsHandler{Svc: realty.NewNotificationService(deps), Timeout: cfg.RequestTimeout},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// handlers still running after a timed out shutdown get ErrProducerClosed
	for _, p := range producers {
		p.Close() // flush queued messages and close the writer
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}
