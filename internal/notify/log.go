package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID, title, _ string, kind realty.NotificationKind) error {
	n.Log.Info("notification", zap.String("user_id", userID), zap.String("title", title), zap.String("kind", string(kind)))
	return nil
}

func (n LogNotifier) PublishEvent(_ context.Context, ev realty.Envelope) error {
	n.Log.Debug("event", zap.String("event_type", ev.EventType), zap.String("event_id", ev.EventID),
		zap.String("correlation_id", ev.CorrelationID))
	return nil
}
