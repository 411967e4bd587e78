package realty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/realty/memstore"
)

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

var (
	staff   = realty.Actor{UserID: "staff-1", Role: realty.RoleStaff}
	owner   = realty.Actor{UserID: "owner-1", Role: realty.RoleOwner}
	client1 = realty.Actor{UserID: "user-c1", Role: realty.RoleClient}
	client2 = realty.Actor{UserID: "user-c2", Role: realty.RoleClient}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sent struct {
	UserID string
	Title  string
	Kind   realty.NotificationKind
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail error
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, _ string, kind realty.NotificationKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sent{UserID: userID, Title: title, Kind: kind})
	return nil
}

func (n *recordingNotifier) to(userID string) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sent
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []realty.Envelope
}

func (e *recordingEvents) PublishEvent(_ context.Context, ev realty.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	store     *memstore.Store
	clock     *fakeClock
	notifier  *recordingNotifier
	events    *recordingEvents
	contracts *realty.ContractService
	res       *realty.ReservationService
	inbox     *realty.NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		clock:    &fakeClock{now: t0},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	f.store.AddProperty(realty.Property{ID: "p1", Title: "Casa Norte", OwnerID: "owner-1"})
	f.store.AddProperty(realty.Property{ID: "p2", Title: "Depto Centro", OwnerID: "owner-2"})
	f.store.AddClient(realty.Client{ID: "c1", UserID: "user-c1", Name: "Ana Rojas", Email: "ana@example.com"})
	f.store.AddClient(realty.Client{ID: "c2", UserID: "user-c2", Name: "Bruno Diaz", Email: "bruno@example.com"})
	f.store.AddClient(realty.Client{ID: "c3", Name: "Walk In", Email: "walkin@example.com"})

	d := realty.Deps{
		Store:    f.store,
		Clock:    f.clock,
		Notifier: f.notifier,
		Events:   f.events,
	}
	f.res = realty.NewReservationService(d)
	f.contracts = realty.NewContractService(d)
	f.inbox = realty.NewNotificationService(d)
	return f
}

func (f *fixture) reserve(t *testing.T, propertyID, clientID string) realty.Reservation {
	t.Helper()
	r, err := f.res.Create(context.Background(), staff, realty.CreateReservationInput{
		PropertyID: propertyID,
		ClientID:   clientID,
		Amount:     decimal.NewFromInt(100000),
	})
	if err != nil {
		t.Fatalf("Create(%s, %s): %v", propertyID, clientID, err)
	}
	return r
}

func wantKind(t *testing.T, err error, target error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", target)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func wantStatus(t *testing.T, f *fixture, propertyID string, want realty.PropertyStatus) {
	t.Helper()
	if got := f.store.Property(propertyID).Status; got != want {
		t.Fatalf("property %s status = %s, want %s", propertyID, got, want)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
