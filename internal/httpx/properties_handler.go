package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/logger"
	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/redisx"
)

// StatusCache is filled with a version taken before the database read, so a
// fill racing a writer's invalidation is dropped.
type StatusCache interface {
	Get(ctx context.Context, propertyID string) (redisx.PropertyStatus, bool, error)
	Version(ctx context.Context, propertyID string) (int64, error)
	Fill(ctx context.Context, s redisx.PropertyStatus, version int64) (bool, error)
}

type PropertiesHandler struct {
	Svc     *realty.ReservationService
	Cache   StatusCache // optional
	Timeout time.Duration
}

func (h *PropertiesHandler) Register(r chi.Router) {
	r.Get("/properties/{id}/status", h.status)
}

func (h *PropertiesHandler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
	defer cancel()
	log := logger.FromContext(ctx)

	fill := false
	var version int64
	if h.Cache != nil {
		if s, ok, err := h.Cache.Get(ctx, id); err != nil {
			log.Warn("status cache read", zap.String("property_id", id), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, s)
			return
		}
		v, err := h.Cache.Version(ctx, id)
		if err != nil {
			log.Warn("status cache version", zap.String("property_id", id), zap.Error(err))
		} else {
			fill, version = true, v
		}
	}

	p, err := h.Svc.PropertyStatus(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := redisx.PropertyStatus{PropertyID: p.ID, Status: string(p.Status)}
	// reserved lapses with time without a write, so only write-driven statuses are cached
	if fill && p.Status != realty.PropertyReserved {
		if stored, err := h.Cache.Fill(ctx, s, version); err != nil {
			log.Warn("status cache write", zap.String("property_id", id), zap.Error(err))
		} else if !stored {
			log.Debug("status cache fill skipped, invalidated during read", zap.String("property_id", id))
		}
	}
	writeJSON(w, http.StatusOK, s)
}
