package realty

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/metrics"
)

// InstallmentMarker prefixes the note of every payment applied to an installment.
const InstallmentMarker = "INSTALLMENT:"

// Rolling installment horizons, in months from today.
const (
	DefaultReadHorizonMonths  = 3
	DefaultWriteHorizonMonths = 6
)

type ContractService struct {
	d Deps

	ReadHorizonMonths  int
	WriteHorizonMonths int
}

func NewContractService(d Deps) *ContractService {
	return &ContractService{
		d:                  d.withDefaults(),
		ReadHorizonMonths:  DefaultReadHorizonMonths,
		WriteHorizonMonths: DefaultWriteHorizonMonths,
	}
}

type CreateContractInput struct {
	PropertyID string          `json:"property_id"`
	ClientID   string          `json:"client_id"`
	Type       ContractType    `json:"type"`
	SignedOn   time.Time       `json:"signed_on"`
	Price      decimal.Decimal `json:"price"`
	Active     bool            `json:"active"`
	DueDay     int             `json:"due_day"`
}

func (in CreateContractInput) validate() error {
	switch {
	case in.PropertyID == "":
		return validationf("property_id is required")
	case in.ClientID == "":
		return validationf("client_id is required")
	case !in.Type.Valid():
		return validationf("invalid contract type %q", in.Type)
	case in.SignedOn.IsZero():
		return validationf("signed_on is required")
	case in.Price.IsNegative():
		return validationf("price must not be negative")
	case in.DueDay < 0 || in.DueDay > 31:
		return validationf("due_day must be between 0 and 31 (0 = default day %d)", DefaultDueDay)
	}
	return nil
}

// Create registers a contract. An active contract takes the property out of
// the market (rented or sold) regardless of any reservation on it.
func (s *ContractService) Create(ctx context.Context, actor Actor, in CreateContractInput) (Contract, error) {
	defer metrics.TrackTx("contract_create")()

	if !actor.IsStaff() {
		return Contract{}, permissionf("only staff can create contracts")
	}
	if err := in.validate(); err != nil {
		return Contract{}, err
	}

	var (
		out     Contract
		created int
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		p, err := repo.LockProperty(ctx, in.PropertyID)
		if err != nil {
			return err
		}
		if _, err := repo.GetClient(ctx, in.ClientID); err != nil {
			return err
		}
		if in.Active {
			taken, err := repo.HasActiveContract(ctx, p.ID, "")
			if err != nil {
				return err
			}
			if taken {
				return conflictf("property %s already has an active contract", p.ID)
			}
		}

		now := s.d.Clock.Now()
		out = Contract{
			ID:         uuid.NewString(),
			PropertyID: p.ID,
			ClientID:   in.ClientID,
			Type:       in.Type,
			SignedOn:   Day(in.SignedOn),
			Price:      in.Price,
			Active:     in.Active,
			DueDay:     in.DueDay,
			CreatedAt:  now,
		}
		if err := repo.InsertContract(ctx, out); err != nil {
			return err
		}
		if out.Active {
			if err := applyContractStatus(ctx, repo, p, out.Type); err != nil {
				return err
			}
		}
		created, err = GenerateUpTo(ctx, repo, out, AddMonths(now, s.WriteHorizonMonths))
		return err
	})
	if err != nil {
		metrics.Reject("contract_create", string(KindOf(err)))
		return Contract{}, err
	}

	metrics.InstallmentsCreated.Add(float64(created))
	s.d.Log.Info("contract created",
		zap.String("contract_id", out.ID),
		zap.String("property_id", out.PropertyID),
		zap.Bool("active", out.Active),
		zap.Int("installments_created", created))
	s.d.invalidate(ctx, out.PropertyID)
	if out.Active {
		s.d.publish(ctx, EventContractActivated, out.ID, contractPayload(out))
	}
	return out, nil
}

// SetActive toggles a contract. Activation enforces one active contract per
// property; deactivation leaves the property's rented/sold status in place.
func (s *ContractService) SetActive(ctx context.Context, actor Actor, id string, active bool) (Contract, error) {
	defer metrics.TrackTx("contract_set_active")()

	if !actor.IsStaff() {
		return Contract{}, permissionf("only staff can update contracts")
	}

	var (
		out     Contract
		created int
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		c0, err := repo.GetContract(ctx, id)
		if err != nil {
			return err
		}
		p, err := repo.LockProperty(ctx, c0.PropertyID)
		if err != nil {
			return err
		}
		c, err := repo.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if active && !c.Active {
			taken, err := repo.HasActiveContract(ctx, p.ID, c.ID)
			if err != nil {
				return err
			}
			if taken {
				return conflictf("property %s already has an active contract", p.ID)
			}
		}
		if c.Active != active {
			if err := repo.SetContractActive(ctx, c.ID, active); err != nil {
				return err
			}
			c.Active = active
		}
		if c.Active {
			if err := applyContractStatus(ctx, repo, p, c.Type); err != nil {
				return err
			}
		}
		out = c
		created, err = GenerateUpTo(ctx, repo, c, AddMonths(s.d.Clock.Now(), s.WriteHorizonMonths))
		return err
	})
	if err != nil {
		metrics.Reject("contract_set_active", string(KindOf(err)))
		return Contract{}, err
	}

	metrics.InstallmentsCreated.Add(float64(created))
	s.d.invalidate(ctx, out.PropertyID)
	if out.Active {
		s.d.publish(ctx, EventContractActivated, out.ID, contractPayload(out))
	}
	return out, nil
}

// Get returns a contract the actor may see and tops up its installments to the read horizon.
func (s *ContractService) Get(ctx context.Context, actor Actor, id string) (Contract, error) {
	var (
		out     Contract
		created int
	)
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		c, err := repo.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if err := canSeeContract(ctx, repo, actor, c); err != nil {
			return err
		}
		out = c
		created, err = GenerateUpTo(ctx, repo, c, AddMonths(s.d.Clock.Now(), s.ReadHorizonMonths))
		return err
	})
	if err != nil {
		return Contract{}, err
	}
	metrics.InstallmentsCreated.Add(float64(created))
	return out, nil
}

// EnsureInstallments generates a contract's installments up to horizon. Staff only.
func (s *ContractService) EnsureInstallments(ctx context.Context, actor Actor, id string, horizon time.Time) (int, error) {
	if !actor.IsStaff() {
		return 0, permissionf("only staff can generate installments")
	}
	var created int
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		c, err := repo.LockContract(ctx, id)
		if err != nil {
			return err
		}
		created, err = GenerateUpTo(ctx, repo, c, horizon)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.InstallmentsCreated.Add(float64(created))
	return created, nil
}

func (s *ContractService) ListInstallments(ctx context.Context, actor Actor, contractID string) ([]Installment, error) {
	if _, err := s.Get(ctx, actor, contractID); err != nil {
		return nil, err
	}
	var out []Installment
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		out, err = repo.ListInstallments(ctx, contractID)
		return err
	})
	return out, err
}

func (s *ContractService) ListPayments(ctx context.Context, actor Actor, contractID string) ([]Payment, error) {
	if _, err := s.Get(ctx, actor, contractID); err != nil {
		return nil, err
	}
	var out []Payment
	err := s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		out, err = repo.ListPayments(ctx, contractID)
		return err
	})
	return out, err
}

// Summary computes paid total, balance and the next and last installments.
func (s *ContractService) Summary(ctx context.Context, actor Actor, contractID string) (ContractSummary, error) {
	c, err := s.Get(ctx, actor, contractID)
	if err != nil {
		return ContractSummary{}, err
	}
	var (
		installments []Installment
		payments     []Payment
	)
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		if installments, err = repo.ListInstallments(ctx, c.ID); err != nil {
			return err
		}
		payments, err = repo.ListPayments(ctx, c.ID)
		return err
	})
	if err != nil {
		return ContractSummary{}, err
	}
	return summarize(c, installments, payments), nil
}

func summarize(c Contract, installments []Installment, payments []Payment) ContractSummary {
	sum := ContractSummary{Contract: c, TotalPaid: decimal.Zero, Balance: decimal.Zero}
	for _, p := range payments {
		sum.TotalPaid = sum.TotalPaid.Add(p.Amount)
	}
	pending := decimal.Zero
	for i := range installments {
		in := installments[i]
		if in.Paid {
			if c.Type == ContractRental && (sum.LastPaid == nil || in.DueDate.After(sum.LastPaid.DueDate)) {
				sum.LastPaid = &in
			}
			continue
		}
		sum.PendingCount++
		pending = pending.Add(in.Amount)
		if c.Type == ContractRental && (sum.NextInstallment == nil || in.DueDate.Before(sum.NextInstallment.DueDate)) {
			sum.NextInstallment = &in
		}
	}
	if c.Type == ContractSale {
		sum.Balance = decimal.Max(c.Price.Sub(sum.TotalPaid), decimal.Zero)
	} else {
		sum.Balance = pending
	}
	return sum
}

type PayInput struct {
	Amount  decimal.Decimal `json:"amount"`
	Date    *time.Time      `json:"date,omitempty"`
	Method  PaymentMethod   `json:"method,omitempty"`
	Note    string          `json:"note,omitempty"`
	Receipt string          `json:"receipt,omitempty"`
}

// Pay applies a payment of exactly the due amount to an unpaid installment of
// an active contract. It is the only way an installment becomes paid.
func (s *ContractService) Pay(ctx context.Context, actor Actor, installmentID string, in PayInput) (Payment, error) {
	defer metrics.TrackTx("installment_pay")()

	if !actor.IsStaff() {
		return Payment{}, permissionf("only staff can register payments")
	}
	method, err := paymentMethod(in.Method)
	if err != nil {
		return Payment{}, err
	}

	var (
		out  Payment
		inst Installment
		c    Contract
		p    Property
		cl   Client
	)
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		i0, err := repo.GetInstallment(ctx, installmentID)
		if err != nil {
			return err
		}
		if c, err = repo.LockContract(ctx, i0.ContractID); err != nil {
			return err
		}
		if inst, err = repo.LockInstallment(ctx, installmentID); err != nil {
			return err
		}

		if inst.Paid {
			return statef("installment %s is already paid", inst.ID)
		}
		if !c.Active {
			return statef("contract %s is not active", c.ID)
		}
		if !in.Amount.IsPositive() {
			return validationf("payment amount must be greater than 0")
		}
		if !in.Amount.Equal(inst.Amount) {
			return validationf("payment amount %s must equal the installment amount %s", in.Amount, inst.Amount)
		}

		now := s.d.Clock.Now()
		date := Day(now)
		if in.Date != nil {
			date = Day(*in.Date)
		}
		out = Payment{
			ID:         uuid.NewString(),
			ContractID: c.ID,
			Date:       date,
			Amount:     in.Amount,
			Method:     method,
			Note:       installmentNote(in.Note, inst.DueDate),
			Receipt:    in.Receipt,
			CreatedAt:  now,
		}
		if err := repo.InsertPayment(ctx, out); err != nil {
			return err
		}
		if err := repo.MarkInstallmentPaid(ctx, inst.ID, out.ID); err != nil {
			return err
		}
		if p, err = repo.GetProperty(ctx, c.PropertyID); err != nil {
			return err
		}
		cl, err = repo.GetClient(ctx, c.ClientID)
		return err
	})
	if err != nil {
		metrics.Reject("installment_pay", string(KindOf(err)))
		return Payment{}, err
	}

	metrics.PaymentsApplied.WithLabelValues("installment").Inc()
	s.d.Log.Info("installment paid",
		zap.String("installment_id", inst.ID),
		zap.String("payment_id", out.ID),
		zap.String("amount", out.Amount.String()))
	s.d.publish(ctx, EventInstallmentPaid, c.ID, PaymentPayload{
		PaymentID: out.ID, ContractID: c.ID, InstallmentID: inst.ID, Amount: out.Amount,
	})
	s.notifyPayment(ctx, c, p, cl, out)
	return out, nil
}

// RecordPayment stores a payment entered directly by staff, outside the installment schedule.
func (s *ContractService) RecordPayment(ctx context.Context, actor Actor, contractID string, in PayInput) (Payment, error) {
	defer metrics.TrackTx("payment_record")()

	if !actor.IsStaff() {
		return Payment{}, permissionf("only staff can register payments")
	}
	if !in.Amount.IsPositive() {
		return Payment{}, validationf("payment amount must be greater than 0")
	}
	method, err := paymentMethod(in.Method)
	if err != nil {
		return Payment{}, err
	}

	var (
		out Payment
		c   Contract
		p   Property
		cl  Client
	)
	err = s.d.Store.WithTx(ctx, func(repo Repo) error {
		var err error
		if c, err = repo.LockContract(ctx, contractID); err != nil {
			return err
		}
		now := s.d.Clock.Now()
		date := Day(now)
		if in.Date != nil {
			date = Day(*in.Date)
		}
		out = Payment{
			ID:         uuid.NewString(),
			ContractID: c.ID,
			Date:       date,
			Amount:     in.Amount,
			Method:     method,
			Note:       in.Note,
			Receipt:    in.Receipt,
			CreatedAt:  now,
		}
		if err := repo.InsertPayment(ctx, out); err != nil {
			return err
		}
		if p, err = repo.GetProperty(ctx, c.PropertyID); err != nil {
			return err
		}
		cl, err = repo.GetClient(ctx, c.ClientID)
		return err
	})
	if err != nil {
		metrics.Reject("payment_record", string(KindOf(err)))
		return Payment{}, err
	}

	metrics.PaymentsApplied.WithLabelValues("direct").Inc()
	s.d.publish(ctx, EventPaymentRecorded, c.ID, PaymentPayload{PaymentID: out.ID, ContractID: c.ID, Amount: out.Amount})
	s.notifyPayment(ctx, c, p, cl, out)
	return out, nil
}

func (s *ContractService) notifyPayment(ctx context.Context, c Contract, p Property, cl Client, pay Payment) {
	title := "Payment registered for '" + p.Title + "'"
	s.d.notify(ctx, p.OwnerID, title,
		"A payment of $"+pay.Amount.StringFixed(0)+" was registered on contract "+c.ID+" for '"+p.Title+"'.", KindPayment)
	s.d.notify(ctx, cl.UserID, title,
		"We registered your payment of $"+pay.Amount.StringFixed(0)+" on contract "+c.ID+" for '"+p.Title+"'.", KindPayment)
}

// applyContractStatus sets rented/sold on the property of an active contract.
func applyContractStatus(ctx context.Context, repo Repo, p Property, t ContractType) error {
	want := t.PropertyStatus()
	if p.Status == want {
		return nil
	}
	if err := repo.SetPropertyStatus(ctx, p.ID, want); err != nil {
		return err
	}
	metrics.StatusWrites.WithLabelValues(string(want)).Inc()
	return nil
}

func canSeeContract(ctx context.Context, repo Repo, actor Actor, c Contract) error {
	switch actor.Role {
	case RoleStaff:
		return nil
	case RoleOwner:
		p, err := repo.GetProperty(ctx, c.PropertyID)
		if err != nil {
			return err
		}
		if p.OwnerID == actor.UserID {
			return nil
		}
	case RoleClient:
		cl, err := repo.GetClient(ctx, c.ClientID)
		if err != nil {
			return err
		}
		if cl.UserID != "" && cl.UserID == actor.UserID {
			return nil
		}
	}
	return permissionf("not allowed to view contract %s", c.ID)
}

func paymentMethod(m PaymentMethod) (PaymentMethod, error) {
	if m == "" {
		return MethodTransfer, nil
	}
	if !m.Valid() {
		return "", validationf("invalid payment method %q", m)
	}
	return m, nil
}

func installmentNote(note string, due time.Time) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return InstallmentMarker + " due " + due.Format(time.DateOnly)
	}
	if strings.HasPrefix(strings.ToUpper(note), InstallmentMarker) {
		return note
	}
	return InstallmentMarker + " " + note
}

func contractPayload(c Contract) ContractPayload {
	return ContractPayload{ContractID: c.ID, PropertyID: c.PropertyID, Type: c.Type, Active: c.Active}
}
