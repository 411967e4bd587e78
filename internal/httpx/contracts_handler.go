package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
)

type ContractsHandler struct {
	Svc     *realty.ContractService
	Timeout time.Duration
}

func (h *ContractsHandler) Register(r chi.Router) {
	r.Post("/contracts", h.create)
	r.Get("/contracts/{id}", h.get)
	r.Patch("/contracts/{id}", h.setActive)
	r.Get("/contracts/{id}/summary", h.summary)
	r.Get("/contracts/{id}/installments", h.installments)
	r.Post("/contracts/{id}/installments/generate", h.generate)
	r.Get("/contracts/{id}/payments", h.payments)
	r.Post("/contracts/{id}/payments", h.recordPayment)
	r.Post("/installments/{id}/pay", h.pay)
}

func (h *ContractsHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeoutOr(h.Timeout))
}

type createContractReq struct {
	PropertyID string          `json:"property_id"`
	ClientID   string          `json:"client_id"`
	Type       string          `json:"type"`
	SignedOn   string          `json:"signed_on"`
	Price      decimal.Decimal `json:"price"`
	Active     *bool           `json:"active"`
	DueDay     int             `json:"due_day"`
}

func (h *ContractsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createContractReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	in := realty.CreateContractInput{
		PropertyID: req.PropertyID,
		ClientID:   req.ClientID,
		Type:       realty.ContractType(req.Type),
		Price:      req.Price,
		Active:     req.Active == nil || *req.Active,
		DueDay:     req.DueDay,
	}
	if req.SignedOn != "" {
		t, err := parseDate(req.SignedOn)
		if err != nil {
			badRequest(w, "invalid signed_on date")
			return
		}
		in.SignedOn = t
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	c, err := h.Svc.Create(ctx, ActorFrom(ctx), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ContractsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	c, err := h.Svc.Get(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type setActiveReq struct {
	Active *bool `json:"active"`
}

func (h *ContractsHandler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Active == nil {
		badRequest(w, "active is required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	c, err := h.Svc.SetActive(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ContractsHandler) summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	s, err := h.Svc.Summary(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ContractsHandler) installments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Svc.ListInstallments(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []realty.Installment{}
	}
	writeJSON(w, http.StatusOK, out)
}

type generateReq struct {
	Horizon string `json:"horizon"`
}

func (h *ContractsHandler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	horizon, err := parseDate(req.Horizon)
	if err != nil {
		badRequest(w, "invalid horizon date")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	n, err := h.Svc.EnsureInstallments(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), horizon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": n})
}

func (h *ContractsHandler) payments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	out, err := h.Svc.ListPayments(ctx, ActorFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []realty.Payment{}
	}
	writeJSON(w, http.StatusOK, out)
}

// payReq has no paid flag: an installment only becomes paid through Pay.
type payReq struct {
	Amount  decimal.Decimal `json:"amount"`
	Date    string          `json:"date"`
	Method  string          `json:"method"`
	Note    string          `json:"note"`
	Receipt string          `json:"receipt"`
}

func (req payReq) input() (realty.PayInput, error) {
	in := realty.PayInput{
		Amount:  req.Amount,
		Method:  realty.PaymentMethod(req.Method),
		Note:    req.Note,
		Receipt: req.Receipt,
	}
	if req.Date != "" {
		t, err := parseDate(req.Date)
		if err != nil {
			return in, err
		}
		in.Date = &t
	}
	return in, nil
}

func (h *ContractsHandler) pay(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	p, err := h.Svc.Pay(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ContractsHandler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	p, err := h.Svc.RecordPayment(ctx, ActorFrom(ctx), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
