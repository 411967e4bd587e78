package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

type ReservationsHandler struct {
	Svc     *realty.ReservationService
	Timeout time.Duration
}

func (h *ReservationsHandler) Register(r chi.Router) {
	r.Post("/reservations", h.create)
	r.Get("/reservations", h.list)
	r.Get("/reservations/{id}", h.get)
	r.Post("/reservations/{id}/state", h.changeState)
	r.Post("/reservations/{id}/cancel", h.cancel)
	r.Post("/reservations/{id}/messages", h.sendMessage)
	r.Post("/reservations/{id}/notes", h.addNote)
}

func (h *ReservationsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
}

func (h *ReservationsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in realty.CreateReservationInput
	if err := decode(r, &in, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Svc.Create(ctx, ActorFrom(ctx), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := realty.ReservationFilter{
		State:      realty.ReservationState(q.Get("state")),
		PropertyID: q.Get("property_id"),
		Search:     q.Get("q"),
	}
	for _, p := range []struct {
		key string
		dst **time.Time
		end bool
	}{{"from", &f.From, false}, {"to", &f.To, true}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			badRequest(w, "invalid "+p.key+" date")
			return
		}
		if p.end && len(v) == len(time.DateOnly) {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*p.dst = &t
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
		out = []realty.ReservationView{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReservationsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Svc.Get(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type changeStateReq struct {
	State string `json:"state"`
}

func (h *ReservationsHandler) changeState(w http.ResponseWriter, r *http.Request) {
	var req changeStateReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Svc.ChangeState(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), req.State)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Svc.Cancel(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type messageReq struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type messageResp struct {
	Reservation realty.Reservation `json:"reservation"`
	Delivered   bool               `json:"delivered"`
}

func (h *ReservationsHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, delivered, err := h.Svc.Confirm(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), req.Subject, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if !delivered {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, messageResp{Reservation: res, Delivered: delivered})
}

type noteReq struct {
	Text string `json:"text"`
}

func (h *ReservationsHandler) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	n, err := h.Svc.AddNote(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
