// Package memstore is an in-memory realty.Store. Transactions are serialized
// by one mutex and rolled back by restoring a snapshot.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

type data struct {
	properties   map[string]realty.Property
	clients      map[string]realty.Client
	reservations map[string]realty.Reservation
	contracts    map[string]realty.Contract
	installments map[string]realty.Installment
	payments     map[string]realty.Payment
	notes        []realty.ReservationNote // insertion order
	inbox        map[string]realty.Notification
}

func (d data) clone() data {
	return data{
		properties:   cloneMap(d.properties),
		clients:      cloneMap(d.clients),
		reservations: cloneMap(d.reservations),
		contracts:    cloneMap(d.contracts),
		installments: cloneMap(d.installments),
		payments:     cloneMap(d.payments),
		notes:        append([]realty.ReservationNote(nil), d.notes...),
		inbox:        cloneMap(d.inbox),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Store struct {
	mu sync.Mutex
	d  data

	// StatusWrites counts SetPropertyStatus calls.
	StatusWrites int
}

func New() *Store {
	return &Store{d: data{
		properties:   map[string]realty.Property{},
		clients:      map[string]realty.Client{},
		reservations: map[string]realty.Reservation{},
		contracts:    map[string]realty.Contract{},
		installments: map[string]realty.Installment{},
		payments:     map[string]realty.Payment{},
		inbox:        map[string]realty.Notification{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(realty.Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.d.clone()
	writes := s.StatusWrites
	if err := fn(&repo{s: s}); err != nil {
		s.d = snapshot
		s.StatusWrites = writes
		return err
	}
	return nil
}

// Seeding and inspection helpers for tests.

func (s *Store) AddProperty(p realty.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = realty.PropertyAvailable
	}
	s.d.properties[p.ID] = p
}

func (s *Store) AddClient(c realty.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.clients[c.ID] = c
}

// AddReservation stores r as is, bypassing every check.
func (s *Store) AddReservation(r realty.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.reservations[r.ID] = r
}

// AddNotification stores n as the notifier worker would.
func (s *Store) AddNotification(n realty.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.inbox[n.ID] = n
}

func (s *Store) Property(id string) realty.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.properties[id]
}

func (s *Store) Reservation(id string) realty.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.reservations[id]
}

func (s *Store) Contract(id string) realty.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.contracts[id]
}

func (s *Store) Reservations() []realty.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realty.Reservation, 0, len(s.d.reservations))
	for _, r := range s.d.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Payments() []realty.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realty.Payment, 0, len(s.d.payments))
	for _, p := range s.d.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Installments(contractID string) []realty.Installment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return installmentsOf(s.d, contractID)
}

func installmentsOf(d data, contractID string) []realty.Installment {
	var out []realty.Installment
	for _, in := range d.installments {
		if in.ContractID == contractID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

// repo is only used while Store.mu is held.
type repo struct{ s *Store }

func (r *repo) GetProperty(_ context.Context, id string) (realty.Property, error) {
	p, ok := r.s.d.properties[id]
	if !ok {
		return realty.Property{}, realty.NotFound("property", id)
	}
	return p, nil
}

func (r *repo) LockProperty(ctx context.Context, id string) (realty.Property, error) {
	return r.GetProperty(ctx, id)
}

func (r *repo) LockProperties(_ context.Context, ids []string) ([]realty.Property, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []realty.Property
	for _, id := range sorted {
		if p, ok := r.s.d.properties[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *repo) SetPropertyStatus(_ context.Context, id string, st realty.PropertyStatus) error {
	p, ok := r.s.d.properties[id]
	if !ok {
		return realty.NotFound("property", id)
	}
	p.Status = st
	r.s.d.properties[id] = p
	r.s.StatusWrites++
	return nil
}

func (r *repo) ReservedWithoutLiveReservation(_ context.Context, now time.Time) ([]string, error) {
	var out []string
	for id, p := range r.s.d.properties {
		if p.Status == realty.PropertyReserved && !r.hasLive(id, now, "") {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *repo) GetClient(_ context.Context, id string) (realty.Client, error) {
	c, ok := r.s.d.clients[id]
	if !ok {
		return realty.Client{}, realty.NotFound("client", id)
	}
	return c, nil
}

func (r *repo) ClientByUser(_ context.Context, userID string) (realty.Client, error) {
	for _, c := range r.s.d.clients {
		if userID != "" && c.UserID == userID {
			return c, nil
		}
	}
	return realty.Client{}, realty.NotFound("client for user", userID)
}

func (r *repo) InsertReservation(_ context.Context, x realty.Reservation) error {
	r.s.d.reservations[x.ID] = x
	return nil
}

func (r *repo) GetReservation(_ context.Context, id string) (realty.Reservation, error) {
	x, ok := r.s.d.reservations[id]
	if !ok {
		return realty.Reservation{}, realty.NotFound("reservation", id)
	}
	return x, nil
}

func (r *repo) LockReservation(ctx context.Context, id string) (realty.Reservation, error) {
	return r.GetReservation(ctx, id)
}

func (r *repo) UpdateReservation(_ context.Context, x realty.Reservation) error {
	if _, ok := r.s.d.reservations[x.ID]; !ok {
		return realty.NotFound("reservation", x.ID)
	}
	r.s.d.reservations[x.ID] = x
	return nil
}

func (r *repo) HasLiveReservation(_ context.Context, propertyID string, now time.Time, excludeID string) (bool, error) {
	return r.hasLive(propertyID, now, excludeID), nil
}

func (r *repo) hasLive(propertyID string, now time.Time, excludeID string) bool {
	for _, x := range r.s.d.reservations {
		if x.PropertyID == propertyID && x.ID != excludeID && x.LiveAt(now) {
			return true
		}
	}
	return false
}

func due(x realty.Reservation, now time.Time) bool {
	return x.Active && x.State.Live() && x.ExpiresAt != nil && !x.ExpiresAt.After(now)
}

func (r *repo) DueReservationProperties(_ context.Context, now time.Time) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, x := range r.s.d.reservations {
		if due(x, now) && !seen[x.PropertyID] {
			seen[x.PropertyID] = true
			out = append(out, x.PropertyID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *repo) ExpireDue(_ context.Context, propertyIDs []string, now time.Time) (int, error) {
	in := make(map[string]bool, len(propertyIDs))
	for _, id := range propertyIDs {
		in[id] = true
	}
	n := 0
	for id, x := range r.s.d.reservations {
		if in[x.PropertyID] && due(x, now) {
			x.State = realty.StateExpired
			x.Active = false
			r.s.d.reservations[id] = x
			n++
		}
	}
	return n, nil
}

func (r *repo) ListReservations(_ context.Context, f realty.ReservationFilter) ([]realty.ReservationView, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []realty.ReservationView
	for _, x := range r.s.d.reservations {
		p := r.s.d.properties[x.PropertyID]
		c := r.s.d.clients[x.ClientID]
		switch {
		case f.State != "" && x.State != f.State,
			f.PropertyID != "" && x.PropertyID != f.PropertyID,
			f.From != nil && x.CreatedAt.Before(*f.From),
			f.To != nil && x.CreatedAt.After(*f.To),
			f.OwnerID != "" && p.OwnerID != f.OwnerID,
			f.ClientUserID != "" && c.UserID != f.ClientUserID:
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Email), search) &&
			!strings.Contains(strings.ToLower(p.Title), search) {
			continue
		}
		out = append(out, realty.ReservationView{
			Reservation:   x,
			PropertyTitle: p.Title,
			ClientName:    c.Name,
			ClientEmail:   c.Email,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *repo) InsertReservationNote(_ context.Context, n realty.ReservationNote) error {
	if _, ok := r.s.d.reservations[n.ReservationID]; !ok {
		return realty.NotFound("reservation", n.ReservationID)
	}
	r.s.d.notes = append(r.s.d.notes, n)
	return nil
}

// ListReservationNotes orders by creation time, newest first; equal times keep the later insert first.
func (r *repo) ListReservationNotes(_ context.Context, reservationID string) ([]realty.ReservationNote, error) {
	var out []realty.ReservationNote
	for i := len(r.s.d.notes) - 1; i >= 0; i-- {
		if n := r.s.d.notes[i]; n.ReservationID == reservationID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *repo) InsertContract(_ context.Context, c realty.Contract) error {
	if c.Active {
		if active, _ := r.HasActiveContract(context.Background(), c.PropertyID, ""); active {
			return &realty.Error{Kind: realty.KindConflict, Reason: "property " + c.PropertyID + " already has an active contract"}
		}
	}
	r.s.d.contracts[c.ID] = c
	return nil
}

func (r *repo) GetContract(_ context.Context, id string) (realty.Contract, error) {
	c, ok := r.s.d.contracts[id]
	if !ok {
		return realty.Contract{}, realty.NotFound("contract", id)
	}
	return c, nil
}

func (r *repo) LockContract(ctx context.Context, id string) (realty.Contract, error) {
	return r.GetContract(ctx, id)
}

func (r *repo) SetContractActive(_ context.Context, id string, active bool) error {
	c, ok := r.s.d.contracts[id]
	if !ok {
		return realty.NotFound("contract", id)
	}
	c.Active = active
	r.s.d.contracts[id] = c
	return nil
}

func (r *repo) HasActiveContract(_ context.Context, propertyID, excludeID string) (bool, error) {
	for _, c := range r.s.d.contracts {
		if c.PropertyID == propertyID && c.Active && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *repo) InsertInstallmentIfAbsent(_ context.Context, in realty.Installment) (bool, error) {
	for _, x := range r.s.d.installments {
		if x.ContractID == in.ContractID && x.DueDate.Equal(in.DueDate) {
			return false, nil
		}
	}
	r.s.d.installments[in.ID] = in
	return true, nil
}

func (r *repo) GetInstallment(_ context.Context, id string) (realty.Installment, error) {
	in, ok := r.s.d.installments[id]
	if !ok {
		return realty.Installment{}, realty.NotFound("installment", id)
	}
	return in, nil
}

func (r *repo) LockInstallment(ctx context.Context, id string) (realty.Installment, error) {
	return r.GetInstallment(ctx, id)
}

func (r *repo) MarkInstallmentPaid(_ context.Context, id, paymentID string) error {
	in, ok := r.s.d.installments[id]
	if !ok {
		return realty.NotFound("installment", id)
	}
	if in.Paid {
		return &realty.Error{Kind: realty.KindState, Reason: "installment " + id + " is already paid"}
	}
	in.Paid = true
	in.PaymentID = &paymentID
	r.s.d.installments[id] = in
	return nil
}

func (r *repo) ListInstallments(_ context.Context, contractID string) ([]realty.Installment, error) {
	return installmentsOf(r.s.d, contractID), nil
}

func (r *repo) InsertPayment(_ context.Context, p realty.Payment) error {
	r.s.d.payments[p.ID] = p
	return nil
}

func (r *repo) ListPayments(_ context.Context, contractID string) ([]realty.Payment, error) {
	var out []realty.Payment
	for _, p := range r.s.d.payments {
		if p.ContractID == contractID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func inScope(n realty.Notification, userID string) bool {
	return userID == "" || n.UserID == userID
}

func (r *repo) ListNotifications(_ context.Context, f realty.NotificationFilter) ([]realty.Notification, error) {
	var out []realty.Notification
	for _, n := range r.s.d.inbox {
		switch {
		case !inScope(n, f.UserID),
			f.Kind != "" && n.Kind != f.Kind,
			f.Read != nil && n.Read != *f.Read:
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *repo) MarkNotificationRead(_ context.Context, id, userID string) (realty.Notification, error) {
	n, ok := r.s.d.inbox[id]
	if !ok || !inScope(n, userID) {
		return realty.Notification{}, realty.NotFound("notification", id)
	}
	n.Read = true
	r.s.d.inbox[id] = n
	return n, nil
}

func (r *repo) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	changed := 0
	for id, n := range r.s.d.inbox {
		if inScope(n, userID) && !n.Read {
			n.Read = true
			r.s.d.inbox[id] = n
			changed++
		}
	}
	return changed, nil
}

func (r *repo) CountNotifications(_ context.Context, userID string) (map[realty.NotificationKind]realty.NotificationTally, error) {
	out := map[realty.NotificationKind]realty.NotificationTally{}
	for _, n := range r.s.d.inbox {
		if !inScope(n, userID) {
			continue
		}
		t := out[n.Kind]
		t.Total++
		if !n.Read {
			t.Unread++
		}
		out[n.Kind] = t
	}
	return out, nil
}
