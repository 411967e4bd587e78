package realty_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

func rental(t *testing.T, f *fixture, propertyID string) realty.Contract {
	t.Helper()
	k, err := f.contracts.Create(context.Background(), staff, realty.CreateContractInput{
		PropertyID: propertyID,
		ClientID:   "c1",
		Type:       realty.ContractRental,
		SignedOn:   date(2024, 1, 10),
		Price:      decimal.NewFromInt(500000),
		Active:     true,
		DueDay:     5,
	})
	if err != nil {
		t.Fatalf("create rental: %v", err)
	}
	return k
}

func installmentDue(t *testing.T, f *fixture, contractID string, due time.Time) realty.Installment {
	t.Helper()
	for _, in := range f.store.Installments(contractID) {
		if in.DueDate.Equal(due) {
			return in
		}
	}
	t.Fatalf("no installment due %s", due.Format(time.DateOnly))
	return realty.Installment{}
}

func TestCreateRentalGeneratesWriteHorizon(t *testing.T) {
	f := newFixture(t)
	k := rental(t, f, "p1")

	wantStatus(t, f, "p1", realty.PropertyRented)
	got := f.store.Installments(k.ID)
	if len(got) != 6 {
		t.Fatalf("installments = %d, want 6 (Feb..Jul)", len(got))
	}
	if !got[0].DueDate.Equal(date(2024, 2, 5)) || !got[5].DueDate.Equal(date(2024, 7, 5)) {
		t.Fatalf("range = %v..%v", got[0].DueDate, got[5].DueDate)
	}
}

func TestCreateContractRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rental(t, f, "p1")

	in := realty.CreateContractInput{
		PropertyID: "p1", ClientID: "c2", Type: realty.ContractSale,
		SignedOn: t0, Price: decimal.NewFromInt(1), Active: true,
	}
	_, err := f.contracts.Create(ctx, staff, in)
	wantKind(t, err, realty.ErrConflict)

	in.Active = false
	draft, err := f.contracts.Create(ctx, staff, in)
	if err != nil {
		t.Fatalf("inactive contract: %v", err)
	}
	_, err = f.contracts.SetActive(ctx, staff, draft.ID, true)
	wantKind(t, err, realty.ErrConflict)
	wantStatus(t, f, "p1", realty.PropertyRented)

	_, err = f.contracts.Create(ctx, owner, in)
	wantKind(t, err, realty.ErrPermission)

	bad := in
	bad.Type = "lease"
	_, err = f.contracts.Create(ctx, staff, bad)
	wantKind(t, err, realty.ErrValidation)

	bad = in
	bad.Price = decimal.NewFromInt(-1)
	_, err = f.contracts.Create(ctx, staff, bad)
	wantKind(t, err, realty.ErrValidation)

	bad = in
	bad.SignedOn = time.Time{}
	_, err = f.contracts.Create(ctx, staff, bad)
	wantKind(t, err, realty.ErrValidation)

	bad = in
	bad.DueDay = 32
	_, err = f.contracts.Create(ctx, staff, bad)
	wantKind(t, err, realty.ErrValidation)
	if !strings.Contains(err.Error(), "between 0 and 31") {
		t.Fatalf("due_day error = %q", err)
	}
	if draft.DueDay != 0 {
		t.Fatalf("draft due day = %d, zero should be accepted as the default", draft.DueDay)
	}
}

func TestDeactivationKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")

	got, err := f.contracts.SetActive(ctx, staff, k.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Fatal("contract still active")
	}
	wantStatus(t, f, "p1", realty.PropertyRented)

	if _, err := f.contracts.SetActive(ctx, staff, k.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
}

func TestPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")
	feb := installmentDue(t, f, k.ID, date(2024, 2, 5))

	f.clock.Set(time.Date(2024, 2, 4, 15, 0, 0, 0, time.UTC))
	p, err := f.contracts.Pay(ctx, staff, feb.ID, realty.PayInput{Amount: decimal.NewFromInt(500000)})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Amount.Equal(decimal.NewFromInt(500000)) || p.Method != realty.MethodTransfer {
		t.Fatalf("payment = %+v", p)
	}
	if p.Note != "INSTALLMENT: due 2024-02-05" {
		t.Fatalf("note = %q", p.Note)
	}
	if !p.Date.Equal(date(2024, 2, 4)) {
		t.Fatalf("date = %v", p.Date)
	}

	paid := installmentDue(t, f, k.ID, date(2024, 2, 5))
	if !paid.Paid || paid.PaymentID == nil || *paid.PaymentID != p.ID {
		t.Fatalf("installment = %+v", paid)
	}
	if n := len(f.store.Payments()); n != 1 {
		t.Fatalf("payments = %d, want 1", n)
	}
	if got := f.notifier.to("user-c1"); len(got) == 0 || got[len(got)-1].Kind != realty.KindPayment {
		t.Fatalf("client notifications = %+v", got)
	}
	if got := f.notifier.to("owner-1"); len(got) != 1 || got[0].Kind != realty.KindPayment {
		t.Fatalf("owner notifications = %+v", got)
	}

	_, err = f.contracts.Pay(ctx, staff, feb.ID, realty.PayInput{Amount: decimal.NewFromInt(500000)})
	wantKind(t, err, realty.ErrState)
	again := installmentDue(t, f, k.ID, date(2024, 2, 5))
	if *again.PaymentID != p.ID {
		t.Fatal("linked payment changed")
	}
	if n := len(f.store.Payments()); n != 1 {
		t.Fatalf("payments = %d, want 1", n)
	}
}

func TestPayRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")
	mar := installmentDue(t, f, k.ID, date(2024, 3, 5))

	_, err := f.contracts.Pay(ctx, staff, mar.ID, realty.PayInput{Amount: decimal.NewFromInt(499999)})
	wantKind(t, err, realty.ErrValidation)

	_, err = f.contracts.Pay(ctx, staff, mar.ID, realty.PayInput{Amount: decimal.Zero})
	wantKind(t, err, realty.ErrValidation)

	_, err = f.contracts.Pay(ctx, staff, mar.ID, realty.PayInput{Amount: decimal.NewFromInt(500000), Method: "barter"})
	wantKind(t, err, realty.ErrValidation)

	_, err = f.contracts.Pay(ctx, owner, mar.ID, realty.PayInput{Amount: decimal.NewFromInt(500000)})
	wantKind(t, err, realty.ErrPermission)

	_, err = f.contracts.Pay(ctx, staff, "missing", realty.PayInput{Amount: decimal.NewFromInt(500000)})
	wantKind(t, err, realty.ErrNotFound)

	if n := len(f.store.Payments()); n != 0 {
		t.Fatalf("payments = %d, want 0", n)
	}
	if got := installmentDue(t, f, k.ID, date(2024, 3, 5)); got.Paid {
		t.Fatal("installment marked paid")
	}

	if _, err := f.contracts.SetActive(ctx, staff, k.ID, false); err != nil {
		t.Fatal(err)
	}
	_, err = f.contracts.Pay(ctx, staff, mar.ID, realty.PayInput{Amount: decimal.NewFromInt(500000)})
	wantKind(t, err, realty.ErrState)
}

func TestPayNoteTagging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")

	tests := []struct {
		due  time.Time
		note string
		want string
	}{
		{date(2024, 2, 5), "transfer ref 123", "INSTALLMENT: transfer ref 123"},
		{date(2024, 3, 5), "installment: march", "installment: march"},
		{date(2024, 4, 5), "   ", "INSTALLMENT: due 2024-04-05"},
	}
	for _, tt := range tests {
		in := installmentDue(t, f, k.ID, tt.due)
		p, err := f.contracts.Pay(ctx, staff, in.ID, realty.PayInput{
			Amount: decimal.NewFromInt(500000), Note: tt.note, Method: realty.MethodCash,
		})
		if err != nil {
			t.Fatal(err)
		}
		if p.Note != tt.want {
			t.Errorf("note(%q) = %q, want %q", tt.note, p.Note, tt.want)
		}
	}
}

func TestRentalSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")
	feb := installmentDue(t, f, k.ID, date(2024, 2, 5))
	if _, err := f.contracts.Pay(ctx, staff, feb.ID, realty.PayInput{Amount: decimal.NewFromInt(500000)}); err != nil {
		t.Fatal(err)
	}

	sum, err := f.contracts.Summary(ctx, client1, k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.TotalPaid.Equal(decimal.NewFromInt(500000)) {
		t.Fatalf("total paid = %s", sum.TotalPaid)
	}
	if !sum.Balance.Equal(decimal.NewFromInt(5 * 500000)) {
		t.Fatalf("balance = %s", sum.Balance)
	}
	if sum.PendingCount != 5 {
		t.Fatalf("pending = %d", sum.PendingCount)
	}
	if sum.NextInstallment == nil || !sum.NextInstallment.DueDate.Equal(date(2024, 3, 5)) {
		t.Fatalf("next = %+v", sum.NextInstallment)
	}
	if sum.LastPaid == nil || !sum.LastPaid.DueDate.Equal(date(2024, 2, 5)) {
		t.Fatalf("last paid = %+v", sum.LastPaid)
	}
}

func TestSaleSummaryAndDirectPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k, err := f.contracts.Create(ctx, staff, realty.CreateContractInput{
		PropertyID: "p2", ClientID: "c2", Type: realty.ContractSale,
		SignedOn: t0, Price: decimal.NewFromInt(1000), Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	wantStatus(t, f, "p2", realty.PropertySold)
	if n := len(f.store.Installments(k.ID)); n != 0 {
		t.Fatalf("sale installments = %d, want 0", n)
	}

	if _, err := f.contracts.RecordPayment(ctx, staff, k.ID, realty.PayInput{Amount: decimal.NewFromInt(300)}); err != nil {
		t.Fatal(err)
	}
	sum, err := f.contracts.Summary(ctx, staff, k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Balance.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("balance = %s, want 700", sum.Balance)
	}

	if _, err := f.contracts.RecordPayment(ctx, staff, k.ID, realty.PayInput{Amount: decimal.NewFromInt(800)}); err != nil {
		t.Fatal(err)
	}
	sum, err = f.contracts.Summary(ctx, staff, k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Balance.IsZero() || !sum.TotalPaid.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("balance = %s paid = %s", sum.Balance, sum.TotalPaid)
	}

	_, err = f.contracts.RecordPayment(ctx, staff, k.ID, realty.PayInput{Amount: decimal.NewFromInt(-5)})
	wantKind(t, err, realty.ErrValidation)
	_, err = f.contracts.RecordPayment(ctx, client2, k.ID, realty.PayInput{Amount: decimal.NewFromInt(5)})
	wantKind(t, err, realty.ErrPermission)
}

func TestGetExtendsReadHorizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")

	f.clock.Set(date(2024, 9, 1))
	if _, err := f.contracts.Get(ctx, client1, k.ID); err != nil {
		t.Fatal(err)
	}
	got := f.store.Installments(k.ID)
	if len(got) != 11 || !got[len(got)-1].DueDate.Equal(date(2024, 12, 5)) {
		t.Fatalf("installments = %d, last %v", len(got), got[len(got)-1].DueDate)
	}

	_, err := f.contracts.Get(ctx, client2, k.ID)
	wantKind(t, err, realty.ErrPermission)

	list, err := f.contracts.ListInstallments(ctx, owner, k.ID)
	if err != nil || len(list) != 11 {
		t.Fatalf("ListInstallments = %d, %v", len(list), err)
	}
}

func TestEnsureInstallments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := rental(t, f, "p1")

	n, err := f.contracts.EnsureInstallments(ctx, staff, k.ID, date(2024, 8, 1))
	if err != nil || n != 1 {
		t.Fatalf("EnsureInstallments = %d, %v; want 1", n, err)
	}
	n, err = f.contracts.EnsureInstallments(ctx, staff, k.ID, date(2024, 8, 1))
	if err != nil || n != 0 {
		t.Fatalf("repeat = %d, %v; want 0", n, err)
	}
	_, err = f.contracts.EnsureInstallments(ctx, client1, k.ID, date(2024, 8, 1))
	wantKind(t, err, realty.ErrPermission)
}
