package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

type NotificationsHandler struct {
	Svc     *realty.NotificationService
	Timeout time.Duration
}

func (h *NotificationsHandler) Register(r chi.Router) {
	r.Get("/notifications", h.list)
	r.Get("/notifications/count", h.count)
	r.Post("/notifications/read-all", h.markAll)
	r.Post("/notifications/{id}/read", h.markRead)
}

func (h *NotificationsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := realty.NotificationFilter{
		UserID: q.Get("user_id"),
		Kind:   realty.NotificationKind(q.Get("kind")),
	}
	if v := q.Get("read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "invalid read flag")
			return
		}
		f.Read = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "invalid limit")
			return
		}
		f.Limit = n
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Svc.List(ctx, ActorFrom(ctx), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []realty.Notification{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NotificationsHandler) markRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	n, err := h.Svc.MarkRead(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotificationsHandler) markAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	n, err := h.Svc.MarkAllRead(ctx, ActorFrom(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *NotificationsHandler) count(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	c, err := h.Svc.Count(ctx, ActorFrom(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
