package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/ariefcatur/go-realty-reservations/internal/kafka"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

// Publisher is the producing side: domain events go to realty.events and
// notification requests to realty.notifications.
type Publisher struct {
	Events        *kafkax.Producer
	Notifications *kafkax.Producer
	Service       string
}

// Notify enqueues a notification request. Delivery happens in the notifier process.
func (p *Publisher) Notify(ctx context.Context, userID, title, message string, kind realty.NotificationKind) error {
	ev, err := realty.NewEnvelope(realty.EventNotification, p.Service, userID, time.Now(), realty.NotificationPayload{
		UserID: userID, Title: title, Message: message, Kind: kind,
	})
	if err != nil {
		return err
	}
	ev.TraceID = traceID(ctx)
	return p.Notifications.Publish(ctx, realty.PartitionKey(userID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(ev.EventType, ev.EventVersion)...)
}

func (p *Publisher) PublishEvent(ctx context.Context, ev realty.Envelope) error {
	if ev.TraceID == "" {
		ev.TraceID = traceID(ctx)
	}
	key := ev.CorrelationID
	if key == "" {
		key = uuid.NewString()
	}
	return p.Events.Publish(ctx, realty.PartitionKey(key), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(ev.EventType, ev.EventVersion)...)
}

type traceKey struct{}

// WithTraceID stamps ctx so published envelopes carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}
