package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-realty-reservations/internal/kafka"
	"github.com/ariefcatur/go-realty-reservations/internal/metrics"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/redisx"
)

// Sink persists delivered notifications. Save reports false when the event was already stored.
type Sink interface {
	Save(ctx context.Context, eventID string, n realty.Notification) (bool, error)
}

// Dedup remembers processed event ids.
type Dedup interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Delivery consumes notification requests and stores them for their users.
type Delivery struct {
	Sink  Sink
	Dedup Dedup
	Log   *zap.Logger
	Now   func() time.Time
}

// Handle is installed as the consumer handler.
func (d *Delivery) Handle(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, "x-event-type"); t != "" && t != realty.EventNotification {
		return nil
	}
	var env realty.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		d.Log.Warn("drop malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != realty.EventNotification {
		return nil
	}

	first, err := d.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		// redis down: fall back to the sink's unique event id
		d.Log.Warn("dedup unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		first = true
	}
	if !first {
		metrics.NotificationsDelivered.WithLabelValues("duplicate").Inc()
		return nil
	}

	p, err := kafkax.UnwrapPayload[realty.NotificationPayload](env.Payload)
	if err != nil {
		d.Log.Warn("drop bad notification payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.UserID == "" {
		return nil
	}

	n := realty.Notification{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Title:     p.Title,
		Message:   p.Message,
		Kind:      p.Kind,
		CreatedAt: d.now(),
	}
	stored, err := d.Sink.Save(ctx, env.EventID, n)
	if err != nil {
		if ferr := d.Dedup.Forget(ctx, env.EventID); ferr != nil {
			d.Log.Warn("dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		metrics.NotificationsDelivered.WithLabelValues("error").Inc()
		return fmt.Errorf("save notification %s: %w", env.EventID, err)
	}
	if !stored {
		metrics.NotificationsDelivered.WithLabelValues("duplicate").Inc()
		return nil
	}
	metrics.NotificationsDelivered.WithLabelValues("stored").Inc()
	d.Log.Debug("notification stored",
		zap.String("event_id", env.EventID),
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)))
	return nil
}

func (d *Delivery) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// PgSink writes into the notifications table; event_id is unique.
type PgSink struct{ DB *pgxpool.Pool }

func (s *PgSink) Save(ctx context.Context, eventID string, n realty.Notification) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO notifications(id, event_id, user_id, title, message, kind, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7)
		ON CONFLICT (event_id) DO NOTHING`,
		n.ID, eventID, n.UserID, n.Title, n.Message, n.Kind, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// RedisDedup keys markers by service name.
type RedisDedup struct {
	RDB     redis.Cmdable
	Service string
}

func (r RedisDedup) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return redisx.FirstSeen(ctx, r.RDB, r.Service, eventID)
}

func (r RedisDedup) Forget(ctx context.Context, eventID string) error {
	return redisx.Forget(ctx, r.RDB, r.Service, eventID)
}
