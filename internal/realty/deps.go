package realty

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a user-facing notification. Services log and drop its errors.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message string, kind NotificationKind) error
}

// EventPublisher emits domain events after a transaction committed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Envelope) error
}

// StatusCache holds the cached read model of property statuses.
type StatusCache interface {
	Invalidate(ctx context.Context, propertyIDs ...string) error
}

type Deps struct {
	Store    Store
	Clock    Clock
	Notifier Notifier
	Events   EventPublisher
	Cache    StatusCache
	Log      *zap.Logger
	Producer string // producer name stamped on events
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, string, NotificationKind) error { return nil }

type nopEvents struct{}

func (nopEvents) PublishEvent(context.Context, Envelope) error { return nil }

type nopCache struct{}

func (nopCache) Invalidate(context.Context, ...string) error { return nil }

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.Cache == nil {
		d.Cache = nopCache{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Producer == "" {
		d.Producer = "realty"
	}
	return d
}

// notify sends one notification; an empty user id means nobody to tell.
func (d Deps) notify(ctx context.Context, userID, title, message string, kind NotificationKind) {
	if userID == "" {
		return
	}
	if err := d.Notifier.Notify(ctx, userID, title, message, kind); err != nil {
		d.Log.Warn("notification failed",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (d Deps) publish(ctx context.Context, eventType, correlationID string, payload any) {
	ev, err := NewEnvelope(eventType, d.Producer, correlationID, d.Clock.Now(), payload)
	if err != nil {
		d.Log.Error("encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := d.Events.PublishEvent(ctx, ev); err != nil {
		d.Log.Warn("publish event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (d Deps) invalidate(ctx context.Context, propertyIDs ...string) {
	if len(propertyIDs) == 0 {
		return
	}
	if err := d.Cache.Invalidate(ctx, propertyIDs...); err != nil {
		d.Log.Warn("status cache invalidate failed", zap.Strings("property_ids", propertyIDs), zap.Error(err))
	}
}
