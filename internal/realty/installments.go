package realty

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultDueDay is the day of month rent falls due when a contract sets none.
const DefaultDueDay = 5

func (c Contract) dueDay() int {
	if c.DueDay <= 0 {
		return DefaultDueDay
	}
	return c.DueDay
}

// DueDate returns day of the given month, clamped to the month's last day.
func DueDate(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DueDates lists one due date per month, from the month after signedOn up to
// and including the month of horizon.
func DueDates(signedOn, horizon time.Time, day int) []time.Time {
	cursor := time.Date(signedOn.Year(), signedOn.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	end := time.Date(horizon.Year(), horizon.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for !cursor.After(end) {
		out = append(out, DueDate(cursor.Year(), cursor.Month(), day))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return out
}

// GenerateUpTo creates the missing installments of an active rental contract
// up to horizon's month. Existing installments are never touched. It returns
// how many were created.
func GenerateUpTo(ctx context.Context, repo Repo, c Contract, horizon time.Time) (int, error) {
	if c.Type != ContractRental || !c.Active {
		return 0, nil
	}
	created := 0
	for _, due := range DueDates(c.SignedOn, horizon, c.dueDay()) {
		ok, err := repo.InsertInstallmentIfAbsent(ctx, Installment{
			ID:         uuid.NewString(),
			ContractID: c.ID,
			DueDate:    due,
			Amount:     c.Price,
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// AddMonths adds n calendar months, clamping the day like DueDate does.
func AddMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return DueDate(first.Year(), first.Month(), t.Day())
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
