package realty

import (
	"context"

	"go.uber.org/zap"
)

// NotificationService is the inbox read side of the notifications the
// notifier worker stores. Staff see every user's notifications, everyone
// else only their own.
type NotificationService struct {
	d Deps
}

func NewNotificationService(d Deps) *NotificationService {
	return &NotificationService{d: d.withDefaults()}
}

func inboxOwner(actor Actor) (string, error) {
	if !actor.Role.Valid() || actor.UserID == "" {
		return "", permissionf("role %q has no notifications", actor.Role)
	}
	if actor.IsStaff() {
		return "", nil
	}
	return actor.UserID, nil
}

// List returns notifications newest first. Staff may narrow by f.UserID.
func (s *NotificationService) List(ctx context.Context, actor Actor, f NotificationFilter) ([]Notification, error) {
	owner, err := inboxOwner(actor)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		f.UserID = owner
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, validationf("invalid notification kind %q", f.Kind)
	}
	if f.Limit < 0 {
		return nil, validationf("limit must not be negative")
	}

	var out []Notification
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		out, err = repo.ListNotifications(ctx, f)
		return err
	})
	return out, err
}

// MarkRead flags one notification as read. Another user's notification is reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id string) (Notification, error) {
	owner, err := inboxOwner(actor)
	if err != nil {
		return Notification{}, err
	}
	var out Notification
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		out, err = repo.MarkNotificationRead(ctx, id, owner)
		return err
	})
	return out, err
}

// MarkAllRead flags every unread notification in the actor's scope and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int, error) {
	owner, err := inboxOwner(actor)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		n, err = repo.MarkAllNotificationsRead(ctx, owner)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.d.Log.Debug("notifications marked read", zap.String("user_id", actor.UserID), zap.Int("count", n))
	return n, nil
}

// Count totals the actor's notifications overall and per kind.
func (s *NotificationService) Count(ctx context.Context, actor Actor) (NotificationCount, error) {
	owner, err := inboxOwner(actor)
	if err != nil {
		return NotificationCount{}, err
	}
	var byKind map[NotificationKind]NotificationTally
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		byKind, err = repo.CountNotifications(ctx, owner)
		return err
	})
	if err != nil {
		return NotificationCount{}, err
	}
	out := NotificationCount{ByKind: map[NotificationKind]NotificationTally{}}
	for k, t := range byKind {
		out.ByKind[k] = t
		out.Total += t.Total
		out.Unread += t.Unread
	}
	return out, nil
}
