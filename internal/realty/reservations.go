package realty

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/metrics"
)

// ReservationHold is how long a new or re-activated reservation holds its property.
const ReservationHold = 3 * 24 * time.Hour

type ReservationService struct {
	d Deps
}

func NewReservationService(d Deps) *ReservationService {
	return &ReservationService{d: d.withDefaults()}
}

type CreateReservationInput struct {
	PropertyID string          `json:"property_id"`
	ClientID   string          `json:"client_id"` // required for staff, implied for clients
	Amount     decimal.Decimal `json:"amount"`
	Notes      string          `json:"notes"`
}

// Create places a pending reservation holding the property for ReservationHold.
func (s *ReservationService) Create(ctx context.Context, actor Actor, in CreateReservationInput) (Reservation, error) {
	defer metrics.TrackTx("reservation_create")()

	if in.PropertyID == "" {
		return Reservation{}, validationf("property_id is required")
	}
	if in.Amount.IsNegative() {
		return Reservation{}, validationf("amount must not be negative")
	}

	var (
		out    Reservation
		prop   Property
		client Client
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		client, err = s.resolveClient(ctx, repo, actor, in.ClientID)
		if err != nil {
			return err
		}

		now := s.d.Clock.Now()
		prop, err = repo.LockProperty(ctx, in.PropertyID)
		if err != nil {
			return err
		}
		if prop.Status.Terminal() {
			return conflictf("property %s is %s", prop.ID, prop.Status)
		}
		hasContract, err := repo.HasActiveContract(ctx, prop.ID, "")
		if err != nil {
			return err
		}
		if hasContract {
			return conflictf("property %s already has an active contract", prop.ID)
		}
		live, err := repo.HasLiveReservation(ctx, prop.ID, now, "")
		if err != nil {
			return err
		}
		if live {
			return conflictf("property %s already has an active reservation", prop.ID)
		}

		exp := now.Add(ReservationHold)
		out = Reservation{
			ID:         uuid.NewString(),
			PropertyID: prop.ID,
			ClientID:   client.ID,
			CreatedBy:  actor.UserID,
			State:      StatePending,
			Active:     true,
			CreatedAt:  now,
			ExpiresAt:  &exp,
			Amount:     in.Amount,
			Notes:      in.Notes,
		}
		if err := repo.InsertReservation(ctx, out); err != nil {
			return err
		}
		_, _, err = SyncPropertyStatus(ctx, repo, prop.ID, now)
		return err
	})
	if err != nil {
		metrics.Reject("reservation_create", string(KindOf(err)))
		return Reservation{}, err
	}

	metrics.ReservationsCreated.Inc()
	s.d.Log.Info("reservation created",
		zap.String("reservation_id", out.ID),
		zap.String("property_id", out.PropertyID),
		zap.Time("expires_at", *out.ExpiresAt))

	s.d.invalidate(ctx, prop.ID)
	s.d.publish(ctx, EventReservationCreated, out.ID, reservationPayload(out))

	title := "New reservation on '" + prop.Title + "'"
	s.d.notify(ctx, prop.OwnerID, title,
		"Reservation "+out.ID+" for '"+prop.Title+"' was placed by "+client.Name+" for $"+out.Amount.StringFixed(0)+".",
		KindReservation)
	s.d.notify(ctx, client.UserID, title,
		"We registered your reservation "+out.ID+" for '"+prop.Title+"' for $"+out.Amount.StringFixed(0)+".",
		KindReservation)
	return out, nil
}

// resolveClient maps the actor onto the client the reservation is made for.
func (s *ReservationService) resolveClient(ctx context.Context, repo Repo, actor Actor, clientID string) (Client, error) {
	switch actor.Role {
	case RoleStaff:
		if clientID == "" {
			return Client{}, validationf("client_id is required")
		}
		return repo.GetClient(ctx, clientID)
	case RoleClient:
		c, err := repo.ClientByUser(ctx, actor.UserID)
		if err != nil {
			return Client{}, err
		}
		if clientID != "" && clientID != c.ID {
			return Client{}, permissionf("clients may only reserve for themselves")
		}
		return c, nil
	default:
		return Client{}, permissionf("role %q cannot create reservations", actor.Role)
	}
}

// ChangeState moves a reservation to target. Staff only.
func (s *ReservationService) ChangeState(ctx context.Context, actor Actor, id, target string) (Reservation, error) {
	defer metrics.TrackTx("reservation_change_state")()

	if !actor.IsStaff() {
		return Reservation{}, permissionf("only staff can change reservation state")
	}
	st, ok := ParseReservationState(strings.ToLower(strings.TrimSpace(target)))
	if !ok {
		return Reservation{}, validationf("invalid reservation state %q", target)
	}

	var out Reservation
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		r, err := s.lockReservation(ctx, repo, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.State, st) {
			return statef("reservation %s is %s and cannot move to %s", r.ID, r.State, st)
		}

		now := s.d.Clock.Now()
		if st.Terminal() {
			r.Active = false
		} else {
			r.Active = true
			if r.ExpiresAt == nil {
				exp := now.Add(ReservationHold)
				r.ExpiresAt = &exp
			}
			if !r.ExpiresAt.After(now) {
				return validationf("reservation %s expired at %s and cannot be reactivated", r.ID, r.ExpiresAt.Format(time.RFC3339))
			}
			hasContract, err := repo.HasActiveContract(ctx, r.PropertyID, "")
			if err != nil {
				return err
			}
			if hasContract {
				return conflictf("property %s already has an active contract", r.PropertyID)
			}
			other, err := repo.HasLiveReservation(ctx, r.PropertyID, now, r.ID)
			if err != nil {
				return err
			}
			if other {
				return conflictf("property %s already has another active reservation", r.PropertyID)
			}
		}
		r.State = st

		if err := repo.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if _, _, err := SyncPropertyStatus(ctx, repo, r.PropertyID, now); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		metrics.Reject("reservation_change_state", string(KindOf(err)))
		return Reservation{}, err
	}

	metrics.ReservationTransitions.WithLabelValues(string(out.State)).Inc()
	s.d.invalidate(ctx, out.PropertyID)
	s.d.publish(ctx, EventReservationChanged, out.ID, reservationPayload(out))
	return out, nil
}

// Cancel is allowed for staff, the property owner and the reserving client
// while the reservation is still pending.
func (s *ReservationService) Cancel(ctx context.Context, actor Actor, id string) (Reservation, error) {
	defer metrics.TrackTx("reservation_cancel")()

	var (
		out    Reservation
		prop   Property
		client Client
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		r, err := s.lockReservation(ctx, repo, id)
		if err != nil {
			return err
		}
		if prop, err = repo.GetProperty(ctx, r.PropertyID); err != nil {
			return err
		}
		if client, err = repo.GetClient(ctx, r.ClientID); err != nil {
			return err
		}

		isStaff := actor.IsStaff()
		isOwner := actor.UserID != "" && prop.OwnerID == actor.UserID
		isClient := actor.Role == RoleClient && client.UserID != "" && client.UserID == actor.UserID
		if !isStaff && !isOwner && !isClient {
			return permissionf("not allowed to cancel reservation %s", r.ID)
		}

		now := s.d.Clock.Now()
		if !r.Active {
			return validationf("reservation %s is already cancelled or closed", r.ID)
		}
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			return validationf("reservation %s has expired", r.ID)
		}
		if isClient && !isStaff && !isOwner && r.State != StatePending {
			return permissionf("clients can only cancel pending reservations")
		}

		r.Active = false
		r.State = StateCancelled
		if err := repo.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if _, _, err := SyncPropertyStatus(ctx, repo, r.PropertyID, now); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		metrics.Reject("reservation_cancel", string(KindOf(err)))
		return Reservation{}, err
	}

	metrics.ReservationTransitions.WithLabelValues(string(StateCancelled)).Inc()
	s.d.invalidate(ctx, out.PropertyID)
	s.d.publish(ctx, EventReservationCancelled, out.ID, reservationPayload(out))

	title := "Reservation cancelled on '" + prop.Title + "'"
	s.d.notify(ctx, prop.OwnerID, title,
		"Reservation "+out.ID+" of "+client.Name+" for '"+prop.Title+"' was cancelled.", KindReservation)
	s.d.notify(ctx, client.UserID, title,
		"Your reservation "+out.ID+" for '"+prop.Title+"' was cancelled.", KindReservation)
	return out, nil
}

// Confirm sends a message to the reserving client and, once it was delivered,
// confirms a pending reservation that is still live. The returned flag reports delivery.
func (s *ReservationService) Confirm(ctx context.Context, actor Actor, id, subject, message string) (Reservation, bool, error) {
	if !actor.IsStaff() {
		return Reservation{}, false, permissionf("only staff can contact clients")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Reservation{}, false, validationf("message must not be empty")
	}
	if subject == "" {
		subject = "Update on your reservation"
	}

	var (
		r      Reservation
		client Client
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		if r, err = repo.GetReservation(ctx, id); err != nil {
			return err
		}
		client, err = repo.GetClient(ctx, r.ClientID)
		return err
	})
	if err != nil {
		return Reservation{}, false, err
	}
	if client.UserID == "" {
		return Reservation{}, false, validationf("reservation %s has no client account to contact", r.ID)
	}

	if err := s.d.Notifier.Notify(ctx, client.UserID, subject, message, KindReservation); err != nil {
		s.d.Log.Warn("client contact failed", zap.String("reservation_id", r.ID), zap.Error(err))
		return r, false, nil
	}

	confirmed := false
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		cur, err := s.lockReservation(ctx, repo, id)
		if err != nil {
			return err
		}
		now := s.d.Clock.Now()
		if cur.State != StatePending || !cur.LiveAt(now) {
			r = cur
			return nil
		}
		cur.State = StateConfirmed
		if err := repo.UpdateReservation(ctx, cur); err != nil {
			return err
		}
		r, confirmed = cur, true
		return nil
	})
	if err != nil {
		return Reservation{}, true, err
	}
	if confirmed {
		metrics.ReservationTransitions.WithLabelValues(string(StateConfirmed)).Inc()
		s.d.publish(ctx, EventReservationChanged, r.ID, reservationPayload(r))
	}
	return r, true, nil
}

// ExpireSweep expires every active reservation whose expiry is at or before
// now and repairs properties left reserved without a live reservation.
// It returns the number of reservations expired; a second run with the same now expires none.
func (s *ReservationService) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	defer metrics.TrackTx("reservation_sweep")()

	var (
		expired int
		touched []string
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		due, err := repo.DueReservationProperties(ctx, now)
		if err != nil {
			return err
		}
		stale, err := repo.ReservedWithoutLiveReservation(ctx, now)
		if err != nil {
			return err
		}
		ids := unionSorted(due, stale)
		if len(ids) == 0 {
			return nil
		}

		props, err := repo.LockProperties(ctx, ids)
		if err != nil {
			return err
		}
		locked := make([]string, 0, len(props))
		for _, p := range props {
			locked = append(locked, p.ID)
		}

		if expired, err = repo.ExpireDue(ctx, locked, now); err != nil {
			return err
		}
		for _, id := range locked {
			if _, _, err := SyncPropertyStatus(ctx, repo, id, now); err != nil {
				return err
			}
		}
		touched = locked
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		metrics.ReservationsExpired.Add(float64(expired))
		s.d.Log.Info("reservations expired", zap.Int("count", expired), zap.Int("properties", len(touched)))
		s.d.publish(ctx, EventReservationsExpired, "", ReservationsExpiredPayload{Expired: expired, PropertyIDs: touched})
	}
	s.d.invalidate(ctx, touched...)
	return expired, nil
}

// List sweeps first so an expired reservation is never served as active.
func (s *ReservationService) List(ctx context.Context, actor Actor, f ReservationFilter) ([]ReservationView, error) {
	switch actor.Role {
	case RoleStaff:
	case RoleOwner:
		f.OwnerID = actor.UserID
	case RoleClient:
		f.ClientUserID = actor.UserID
	default:
		return nil, permissionf("role %q cannot list reservations", actor.Role)
	}
	if f.State != "" {
		if _, ok := ParseReservationState(string(f.State)); !ok {
			return nil, validationf("invalid reservation state %q", f.State)
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, validationf("date range end is before its start")
	}

	if _, err := s.ExpireSweep(ctx, s.d.Clock.Now()); err != nil {
		return nil, err
	}

	var out []ReservationView
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		out, err = repo.ListReservations(ctx, f)
		return err
	})
	return out, err
}

// Get returns one reservation the actor may see, after a sweep. Staff also
// get the reservation's notes.
func (s *ReservationService) Get(ctx context.Context, actor Actor, id string) (Reservation, error) {
	if _, err := s.ExpireSweep(ctx, s.d.Clock.Now()); err != nil {
		return Reservation{}, err
	}
	var out Reservation
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		r, err := repo.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := canSeeReservation(ctx, repo, actor, r); err != nil {
			return err
		}
		if actor.IsStaff() {
			if r.StaffNotes, err = repo.ListReservationNotes(ctx, r.ID); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	return out, err
}

// AddNote attaches a staff note to a reservation in any state.
func (s *ReservationService) AddNote(ctx context.Context, actor Actor, id, text string) (ReservationNote, error) {
	if !actor.IsStaff() {
		return ReservationNote{}, permissionf("only staff can add reservation notes")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ReservationNote{}, validationf("note must not be empty")
	}

	var out ReservationNote
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		r, err := repo.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		out = ReservationNote{
			ID:            uuid.NewString(),
			ReservationID: r.ID,
			AuthorID:      actor.UserID,
			Text:          text,
			CreatedAt:     s.d.Clock.Now(),
		}
		return repo.InsertReservationNote(ctx, out)
	})
	if err != nil {
		metrics.Reject("reservation_note", string(KindOf(err)))
		return ReservationNote{}, err
	}
	s.d.Log.Info("reservation note added",
		zap.String("reservation_id", out.ReservationID),
		zap.String("author_id", out.AuthorID))
	return out, nil
}

// PropertyStatus returns a property after a sweep, so its status reflects expiries up to now.
func (s *ReservationService) PropertyStatus(ctx context.Context, propertyID string) (Property, error) {
	if _, err := s.ExpireSweep(ctx, s.d.Clock.Now()); err != nil {
		return Property{}, err
	}
	var out Property
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		out, err = repo.GetProperty(ctx, propertyID)
		return err
	})
	return out, err
}

// lockReservation locks the reservation's property, then the reservation itself.
func (s *ReservationService) lockReservation(ctx context.Context, repo Repo, id string) (Reservation, error) {
	r, err := repo.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if _, err := repo.LockProperty(ctx, r.PropertyID); err != nil {
		return Reservation{}, err
	}
	return repo.LockReservation(ctx, id)
}

func canSeeReservation(ctx context.Context, repo Repo, actor Actor, r Reservation) error {
	switch actor.Role {
	case RoleStaff:
		return nil
	case RoleOwner:
		p, err := repo.GetProperty(ctx, r.PropertyID)
		if err != nil {
			return err
		}
		if p.OwnerID == actor.UserID {
			return nil
		}
	case RoleClient:
		c, err := repo.GetClient(ctx, r.ClientID)
		if err != nil {
			return err
		}
		if c.UserID != "" && c.UserID == actor.UserID {
			return nil
		}
	}
	return permissionf("not allowed to view reservation %s", r.ID)
}

func reservationPayload(r Reservation) ReservationPayload {
	return ReservationPayload{
		ReservationID: r.ID,
		PropertyID:    r.PropertyID,
		ClientID:      r.ClientID,
		State:         r.State,
		ExpiresAt:     r.ExpiresAt,
	}
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, xs := range [][]string{a, b} {
		for _, x := range xs {
			if _, ok := seen[x]; ok {
				continue
			}
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
