// Command sweep runs one reservation expiry sweep and exits. Reads and writes
// already sweep lazily; this is for an optional cron schedule.
package main

import (
	"context"
	"time"

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
	service := cfg.ServiceName + "-sweep"
	log, err := logger.New(service, cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pctx, stop := context.WithCancel(context.Background())
	events := kafkax.NewProducer(cfg.Kafka.Brokers, realty.TopicEvents, cfg.Kafka.Buffer, log)
	events.Start(pctx)

	svc := realty.NewReservationService(realty.Deps{
		Store:    &realty.PgStore{DB: db},
		Events:   &notify.Publisher{Events: events, Service: service},
		Cache:    redisx.NewStatusCache(rdb),
		Log:      log,
		Producer: service,
	})
	n, err := svc.ExpireSweep(ctx, time.Now().UTC())

	events.Close()
	events.WaitClosed()
	stop()

	if err != nil {
		log.Fatal("sweep", zap.Error(err))
	}
	log.Info("sweep done", zap.Int("expired", n))
}
