package realty

import (
	"context"
	"time"
)

// Store runs fn inside one transaction. A non-nil error from fn rolls back
// everything fn wrote.
type Store interface {
	WithTx(ctx context.Context, fn func(Repo) error) error
}

// Repo is the transaction-scoped persistence contract. Lock* methods take a
// row-level exclusive lock held until the transaction ends; callers always lock
// a property before any of its reservations and a contract before its installments.
type Repo interface {
	GetProperty(ctx context.Context, id string) (Property, error)
	LockProperty(ctx context.Context, id string) (Property, error)
	// LockProperties locks the given properties in id order and skips unknown ids.
	LockProperties(ctx context.Context, ids []string) ([]Property, error)
	SetPropertyStatus(ctx context.Context, id string, s PropertyStatus) error
	// ReservedWithoutLiveReservation lists properties flagged reserved with no live reservation at now.
	ReservedWithoutLiveReservation(ctx context.Context, now time.Time) ([]string, error)

	GetClient(ctx context.Context, id string) (Client, error)
	ClientByUser(ctx context.Context, userID string) (Client, error)

	InsertReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	LockReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	HasLiveReservation(ctx context.Context, propertyID string, now time.Time, excludeID string) (bool, error)
	// DueReservationProperties lists distinct properties owning an active reservation that expired at or before now.
	DueReservationProperties(ctx context.Context, now time.Time) ([]string, error)
	// ExpireDue flips every due pending/confirmed reservation of the given properties to expired in one update.
	ExpireDue(ctx context.Context, propertyIDs []string, now time.Time) (int, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]ReservationView, error)
	InsertReservationNote(ctx context.Context, n ReservationNote) error
	// ListReservationNotes returns a reservation's notes newest first.
	ListReservationNotes(ctx context.Context, reservationID string) ([]ReservationNote, error)

	InsertContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id string) (Contract, error)
	LockContract(ctx context.Context, id string) (Contract, error)
	SetContractActive(ctx context.Context, id string, active bool) error
	HasActiveContract(ctx context.Context, propertyID, excludeID string) (bool, error)

	// InsertInstallmentIfAbsent is keyed by (contract, due date); it reports whether a row was created.
	InsertInstallmentIfAbsent(ctx context.Context, in Installment) (bool, error)
	GetInstallment(ctx context.Context, id string) (Installment, error)
	LockInstallment(ctx context.Context, id string) (Installment, error)
	MarkInstallmentPaid(ctx context.Context, id, paymentID string) error
	ListInstallments(ctx context.Context, contractID string) ([]Installment, error)
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, contractID string) ([]Payment, error)

	// Notification methods scope to userID; an empty userID means every user.
	ListNotifications(ctx context.Context, f NotificationFilter) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) (Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	CountNotifications(ctx context.Context, userID string) (map[NotificationKind]NotificationTally, error)
}

// NotificationFilter narrows ListNotifications. Zero fields do not filter.
type NotificationFilter struct {
	UserID string
	Kind   NotificationKind
	Read   *bool
	Limit  int
}

// ReservationFilter narrows ListReservations. Zero fields do not filter.
type ReservationFilter struct {
	State        ReservationState
	PropertyID   string
	From, To     *time.Time // creation instant, inclusive
	Search       string     // case-insensitive over client name/email and property title
	OwnerID      string     // only properties of this owner
	ClientUserID string     // only reservations of the client bound to this user
	Limit        int
}
