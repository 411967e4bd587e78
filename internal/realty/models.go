package realty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Property.Status is a cache derived from reservations and contracts; see SyncPropertyStatus.
type Property struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	OwnerID string         `json:"owner_id"` // owner's user id
	Status  PropertyStatus `json:"status"`
}

// Client is the counterparty of reservations and contracts.
type Client struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"` // empty when the client has no login
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type Reservation struct {
	ID         string           `json:"id"`
	PropertyID string           `json:"property_id"`
	ClientID   string           `json:"client_id"`
	CreatedBy  string           `json:"created_by,omitempty"`
	State      ReservationState `json:"state"`
	Active     bool             `json:"active"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	Notes      string           `json:"notes"`

	// StaffNotes is only filled on a staff Get, newest first.
	StaffNotes []ReservationNote `json:"staff_notes,omitempty"`
}

// ReservationNote is an internal staff remark; clients and owners never see it.
type ReservationNote struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	AuthorID      string    `json:"author_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// LiveAt reports whether r holds its property at now.
func (r Reservation) LiveAt(now time.Time) bool {
	return r.Active && r.ExpiresAt != nil && r.ExpiresAt.After(now)
}

// ReservationView is a reservation joined with the names used by listings.
type ReservationView struct {
	Reservation
	PropertyTitle string `json:"property_title"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email"`
}

type Contract struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	ClientID   string          `json:"client_id"`
	Type       ContractType    `json:"type"`
	SignedOn   time.Time       `json:"signed_on"`
	Price      decimal.Decimal `json:"price"`
	Active     bool            `json:"active"`
	DueDay     int             `json:"due_day"` // 0 means DefaultDueDay
	CreatedAt  time.Time       `json:"created_at"`
}

type Installment struct {
	ID         string          `json:"id"`
	ContractID string          `json:"contract_id"`
	DueDate    time.Time       `json:"due_date"`
	Amount     decimal.Decimal `json:"amount"`
	Paid       bool            `json:"paid"`
	PaymentID  *string         `json:"payment_id,omitempty"`
}

type Payment struct {
	ID         string          `json:"id"`
	ContractID string          `json:"contract_id"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Note       string          `json:"note"`
	Receipt    string          `json:"receipt,omitempty"` // opaque storage reference
	CreatedAt  time.Time       `json:"created_at"`
}

// ContractSummary is the read model shown next to a contract.
type ContractSummary struct {
	Contract
	TotalPaid       decimal.Decimal `json:"total_paid"`
	Balance         decimal.Decimal `json:"balance"`
	NextInstallment *Installment    `json:"next_installment,omitempty"`
	LastPaid        *Installment    `json:"last_paid_installment,omitempty"`
	PendingCount    int             `json:"pending_installments"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationTally counts notifications and how many are still unread.
type NotificationTally struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

type NotificationCount struct {
	NotificationTally
	ByKind map[NotificationKind]NotificationTally `json:"by_kind"`
}

// Actor is the caller of a lifecycle operation.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (a Actor) IsStaff() bool { return a.Role == RoleStaff }
