package realty

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationChanged   = "ReservationStateChanged"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationsExpired  = "ReservationsExpired"
	EventContractActivated    = "ContractActivated"
	EventInstallmentPaid      = "InstallmentPaid"
	EventPaymentRecorded      = "PaymentRecorded"
	EventNotification         = "NotificationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation, contract or user id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a version 1 event.
func NewEnvelope(eventType, producer, correlationID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type ReservationPayload struct {
	ReservationID string           `json:"reservation_id"`
	PropertyID    string           `json:"property_id"`
	ClientID      string           `json:"client_id"`
	State         ReservationState `json:"state"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

type ReservationsExpiredPayload struct {
	Expired     int      `json:"expired"`
	PropertyIDs []string `json:"property_ids"`
}

type ContractPayload struct {
	ContractID string       `json:"contract_id"`
	PropertyID string       `json:"property_id"`
	Type       ContractType `json:"type"`
	Active     bool         `json:"active"`
}

type PaymentPayload struct {
	PaymentID     string          `json:"payment_id"`
	ContractID    string          `json:"contract_id"`
	InstallmentID string          `json:"installment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

type NotificationPayload struct {
	UserID  string           `json:"user_id"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Kind    NotificationKind `json:"kind"`
}
