package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realty-reservations/internal/realty"
	"github.com/ariefcatur/go-realty-reservations/internal/realty/memstore"
	"github.com/ariefcatur/go-realty-reservations/internal/redisx"
)

var now = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type memCache struct {
	mu       sync.Mutex
	m        map[string]redisx.PropertyStatus
	versions map[string]int64
	sets     int

	// beforeFill runs once, outside the lock, before the next fill is applied.
	beforeFill func()
}

func newMemCache() *memCache {
	return &memCache{m: map[string]redisx.PropertyStatus{}, versions: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, id string) (redisx.PropertyStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	return s, ok, nil
}

func (c *memCache) Version(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[id], nil
}

func (c *memCache) Fill(_ context.Context, s redisx.PropertyStatus, version int64) (bool, error) {
	c.mu.Lock()
	hook := c.beforeFill
	c.beforeFill = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[s.PropertyID] != version {
		return false, nil
	}
	c.m[s.PropertyID] = s
	c.sets++
	return true, nil
}

func (c *memCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.versions[id]++
		delete(c.m, id)
	}
	return nil
}

type testAPI struct {
	t     *testing.T
	h     http.Handler
	auth  Auth
	store *memstore.Store
	cache *memCache
	res   *realty.ReservationService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	store.AddProperty(realty.Property{ID: "p1", Title: "Casa Norte", OwnerID: "owner-1"})
	store.AddClient(realty.Client{ID: "c1", UserID: "user-c1", Name: "Ana Rojas", Email: "ana@example.com"})
	store.AddClient(realty.Client{ID: "c2", UserID: "user-c2", Name: "Bruno Diaz", Email: "bruno@example.com"})

	cache := newMemCache()
	deps := realty.Deps{
		Store: store,
		Clock: realty.ClockFunc(func() time.Time { return now }),
		Cache: cache,
	}
	res := realty.NewReservationService(deps)
	auth := Auth{SigningKey: []byte("test-key")}

	r := NewRouter(zap.NewNop())
	Mount(r, auth,
		&ReservationsHandler{Svc: res},
		&ContractsHandler{Svc: realty.NewContractService(deps)},
		&PropertiesHandler{Svc: res, Cache: cache},
		&NotificationsHandler{Svc: realty.NewNotificationService(deps)},
	)
	return &testAPI{t: t, h: r, auth: auth, store: store, cache: cache, res: res}
}

func (a *testAPI) do(actor *realty.Actor, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		tok, err := a.auth.Sign(*actor, time.Hour)
		if err != nil {
			a.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

var (
	staffActor  = &realty.Actor{UserID: "staff-1", Role: realty.RoleStaff}
	clientActor = &realty.Actor{UserID: "user-c1", Role: realty.RoleClient}
)

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(nil, http.MethodGet, "/reservations", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	api.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", rec.Code)
	}

	other := Auth{SigningKey: []byte("other-key")}
	tok, _ := other.Sign(*staffActor, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/reservations", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	api.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign key: got %d", rec.Code)
	}

	if rec := api.do(nil, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
}

func TestReservationFlow(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(staffActor, http.MethodPost, "/reservations", map[string]any{"property_id": "p1", "client_id": "c1", "amount": 100000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	r1 := decodeBody[realty.Reservation](t, rec)
	if r1.State != realty.StatePending {
		t.Fatalf("state = %s", r1.State)
	}

	rec = api.do(staffActor, http.MethodPost, "/reservations", map[string]any{"property_id": "p1", "client_id": "c2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second create: %d %s", rec.Code, rec.Body)
	}
	if body := decodeBody[map[string]string](t, rec); body["kind"] != "conflict" {
		t.Fatalf("body = %v", body)
	}

	rec = api.do(staffActor, http.MethodPost, "/reservations/"+r1.ID+"/state", map[string]string{"state": "confirmed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(clientActor, http.MethodPost, "/reservations/"+r1.ID+"/cancel", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("client cancel confirmed: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(clientActor, http.MethodGet, "/reservations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if list := decodeBody[[]realty.ReservationView](t, rec); len(list) != 1 || list[0].ClientName != "Ana Rojas" {
		t.Fatalf("list = %+v", list)
	}

	rec = api.do(staffActor, http.MethodPost, "/reservations/"+r1.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff cancel: %d %s", rec.Code, rec.Body)
	}
	rec = api.do(staffActor, http.MethodPost, "/reservations/"+r1.ID+"/state", map[string]string{"state": "pending"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("leave terminal state: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(staffActor, http.MethodGet, "/reservations/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", rec.Code)
	}
	rec = api.do(staffActor, http.MethodGet, "/reservations?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rec.Code)
	}
}

func TestPayRejectsPaidField(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(staffActor, http.MethodPost, "/contracts", map[string]any{
		"property_id": "p1", "client_id": "c1", "type": "rental",
		"signed_on": "2024-01-10", "price": "500000", "due_day": 5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create contract: %d %s", rec.Code, rec.Body)
	}
	k := decodeBody[realty.Contract](t, rec)
	if !k.Active {
		t.Fatal("contract should default to active")
	}

	rec = api.do(staffActor, http.MethodGet, "/contracts/"+k.ID+"/installments", nil)
	list := decodeBody[[]realty.Installment](t, rec)
	if len(list) == 0 {
		t.Fatal("no installments generated")
	}
	feb := list[0]

	rec = api.do(staffActor, http.MethodPost, "/installments/"+feb.ID+"/pay", `{"amount":"500000","paid":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("paid field: %d %s", rec.Code, rec.Body)
	}
	if got := api.store.Installments(k.ID)[0]; got.Paid {
		t.Fatal("installment marked paid through the request body")
	}

	rec = api.do(staffActor, http.MethodPost, "/installments/"+feb.ID+"/pay", map[string]any{"amount": 499999})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatched amount: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(staffActor, http.MethodPost, "/installments/"+feb.ID+"/pay", map[string]any{"amount": 500000, "method": "cash", "date": "2024-02-04"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body)
	}
	rec = api.do(staffActor, http.MethodPost, "/installments/"+feb.ID+"/pay", map[string]any{"amount": 500000})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second pay: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(clientActor, http.MethodGet, "/contracts/"+k.ID+"/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", rec.Code, rec.Body)
	}
	sum := decodeBody[realty.ContractSummary](t, rec)
	if sum.LastPaid == nil || sum.LastPaid.ID != feb.ID {
		t.Fatalf("summary = %+v", sum)
	}

	rec = api.do(staffActor, http.MethodPatch, "/contracts/"+k.ID, map[string]bool{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d %s", rec.Code, rec.Body)
	}
}

func TestPropertyStatusCache(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(clientActor, http.MethodGet, "/properties/p1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if s := decodeBody[redisx.PropertyStatus](t, rec); s.Status != "available" {
		t.Fatalf("status = %+v", s)
	}
	if api.cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", api.cache.sets)
	}

	rec = api.do(staffActor, http.MethodPost, "/reservations", map[string]any{"property_id": "p1", "client_id": "c1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	rec = api.do(clientActor, http.MethodGet, "/properties/p1/status", nil)
	if s := decodeBody[redisx.PropertyStatus](t, rec); s.Status != "reserved" {
		t.Fatalf("status after reservation = %+v", s)
	}
	if api.cache.sets != 1 {
		t.Fatalf("reserved status should not be cached, sets = %d", api.cache.sets)
	}

	rec = api.do(clientActor, http.MethodGet, "/properties/nope/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown property: %d", rec.Code)
	}
}

func TestPropertyStatusFillLosesToConcurrentWrite(t *testing.T) {
	api := newTestAPI(t)

	// A reservation commits after the handler read the property but before it fills the cache.
	api.cache.beforeFill = func() {
		_, err := api.res.Create(context.Background(), *staffActor, realty.CreateReservationInput{PropertyID: "p1", ClientID: "c1"})
		if err != nil {
			t.Errorf("create: %v", err)
		}
	}

	rec := api.do(clientActor, http.MethodGet, "/properties/p1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if s := decodeBody[redisx.PropertyStatus](t, rec); s.Status != "available" {
		t.Fatalf("first read = %+v, want the pre-write status", s)
	}
	if got := api.store.Property("p1").Status; got != realty.PropertyReserved {
		t.Fatalf("db status = %s", got)
	}
	if s, ok, _ := api.cache.Get(context.Background(), "p1"); ok {
		t.Fatalf("stale entry cached: %+v", s)
	}

	rec = api.do(clientActor, http.MethodGet, "/properties/p1/status", nil)
	if s := decodeBody[redisx.PropertyStatus](t, rec); s.Status != "reserved" {
		t.Fatalf("second read = %+v", s)
	}
}

func TestReservationNotes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(staffActor, http.MethodPost, "/reservations", map[string]any{"property_id": "p1", "client_id": "c1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	res := decodeBody[realty.Reservation](t, rec)
	path := "/reservations/" + res.ID + "/notes"

	if rec := api.do(clientActor, http.MethodPost, path, map[string]string{"text": "hello"}); rec.Code != http.StatusForbidden {
		t.Fatalf("client note: %d %s", rec.Code, rec.Body)
	}
	if rec := api.do(staffActor, http.MethodPost, path, map[string]string{"text": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty note: %d %s", rec.Code, rec.Body)
	}
	rec = api.do(staffActor, http.MethodPost, path, map[string]string{"text": "client asked for a visit"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add note: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(staffActor, http.MethodGet, "/reservations/"+res.ID, nil)
	got := decodeBody[realty.Reservation](t, rec)
	if len(got.StaffNotes) != 1 || got.StaffNotes[0].Text != "client asked for a visit" {
		t.Fatalf("staff view notes = %+v", got.StaffNotes)
	}
	rec = api.do(clientActor, http.MethodGet, "/reservations/"+res.ID, nil)
	if got := decodeBody[realty.Reservation](t, rec); len(got.StaffNotes) != 0 {
		t.Fatalf("client view notes = %+v", got.StaffNotes)
	}
}

func TestNotificationsInbox(t *testing.T) {
	api := newTestAPI(t)
	api.store.AddNotification(realty.Notification{ID: "n1", UserID: "user-c1", Title: "a", Kind: realty.KindReservation, CreatedAt: now})
	api.store.AddNotification(realty.Notification{ID: "n2", UserID: "user-c2", Title: "b", Kind: realty.KindPayment, CreatedAt: now})

	rec := api.do(clientActor, http.MethodGet, "/notifications?read=false", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if list := decodeBody[[]realty.Notification](t, rec); len(list) != 1 || list[0].ID != "n1" {
		t.Fatalf("inbox = %+v", list)
	}
	if rec := api.do(clientActor, http.MethodGet, "/notifications?read=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad read flag: %d", rec.Code)
	}

	if rec := api.do(clientActor, http.MethodPost, "/notifications/n2/read", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign notification: %d %s", rec.Code, rec.Body)
	}
	if rec := api.do(clientActor, http.MethodPost, "/notifications/n1/read", nil); rec.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", rec.Code, rec.Body)
	}

	rec = api.do(clientActor, http.MethodGet, "/notifications/count", nil)
	c := decodeBody[realty.NotificationCount](t, rec)
	if c.Total != 1 || c.Unread != 0 {
		t.Fatalf("client count = %+v", c)
	}

	rec = api.do(staffActor, http.MethodPost, "/notifications/read-all", nil)
	if body := decodeBody[map[string]int](t, rec); body["updated"] != 1 {
		t.Fatalf("read-all = %v", body)
	}
}
