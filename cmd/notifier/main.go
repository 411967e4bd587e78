package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/config"
	kafkax "github.com/ariefcatur/go-realty-reservations/internal/kafka"
	"github.com/ariefcatur/go-realty-reservations/internal/logger"
	"github.com/ariefcatur/go-realty-reservations/internal/notify"
	"github.com/ariefcatur/go-realty-reservations/internal/postgres"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/redisx"
)

func main() {
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log, err := logger.New(service, cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	d := &notify.Delivery{
		Sink:  &notify.PgSink{DB: db},
		Dedup: notify.RedisDedup{RDB: rdb, Service: service},
		Log:   log,
	}
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.NotifierGroup, realty.TopicNotifications, cfg.Kafka.Workers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier consumer started",
			zap.String("group", cfg.Kafka.NotifierGroup),
			zap.String("topic", realty.TopicNotifications),
			zap.Int("workers", cfg.Kafka.Workers))
		if err := cons.Start(ctx, d.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
