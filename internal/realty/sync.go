package realty

import (
	"context"
	"time"

	"github.com/ariefcatur/go-realty-reservations/internal/metrics"
)

// DeriveStatus is the property status reducer. It returns the status the
// property should carry and whether that differs from current.
func DeriveStatus(current PropertyStatus, hasActiveContract, hasLiveReservation bool) (PropertyStatus, bool) {
	if current.Terminal() || hasActiveContract {
		return current, false
	}
	if hasLiveReservation {
		return PropertyReserved, current != PropertyReserved
	}
	if current == PropertyReserved {
		return PropertyAvailable, true
	}
	return current, false
}

// SyncPropertyStatus recomputes and persists the status of one property. The
// update is skipped when the status is already correct.
func SyncPropertyStatus(ctx context.Context, repo Repo, propertyID string, now time.Time) (PropertyStatus, bool, error) {
	p, err := repo.GetProperty(ctx, propertyID)
	if err != nil {
		return "", false, err
	}
	if p.Status.Terminal() {
		return p.Status, false, nil
	}
	hasContract, err := repo.HasActiveContract(ctx, propertyID, "")
	if err != nil {
		return "", false, err
	}
	if hasContract {
		return p.Status, false, nil
	}
	live, err := repo.HasLiveReservation(ctx, propertyID, now, "")
	if err != nil {
		return "", false, err
	}
	next, changed := DeriveStatus(p.Status, false, live)
	if !changed {
		return next, false, nil
	}
	if err := repo.SetPropertyStatus(ctx, propertyID, next); err != nil {
		return "", false, err
	}
	metrics.StatusWrites.WithLabelValues(string(next)).Inc()
	return next, true, nil
}
