package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/services"
)

type fakeRecheckStore struct {
	payment  *db.Payment
	released []uint
	failed   []uint
}

func (s *fakeRecheckStore) GetPayment(id uint) (*db.Payment, error) {
	if s.payment == nil || s.payment.ID != id {
		return nil, errors.New("record not found")
	}
	p := *s.payment
	return &p, nil
}

func (s *fakeRecheckStore) ReleasePayment(id uint) error {
	s.released = append(s.released, id)
	return nil
}

func (s *fakeRecheckStore) FailPayment(id uint) error {
	s.failed = append(s.failed, id)
	return nil
}

type fakeGateway struct {
	status string
	err    error
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*services.PaymentResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &services.PaymentResponse{ID: paymentID, Status: g.status}, nil
}

func recheckRouter(store paymentRechecker, gateway PaymentGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin/payments/:id/recheck", recheckPaymentHandler(store, gateway))
	return r
}

func postRecheck(r *gin.Engine, id uint) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/admin/payments/%d/recheck", id), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func recheckAction(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Action
}

func TestRecheckReleasesStuckPayment(t *testing.T) {
	// Платёж с захваченным флагом выдачи: процесс оборвался посреди
	// выдачи, статус так и остался pending. После освобождения повторная
	// доставка webhook сможет захватить платёж заново.
	pay := &db.Payment{ID: 5, GatewayID: "pay-1", Status: db.PaymentPending, Processing: true}
	store := &fakeRecheckStore{payment: pay}
	r := recheckRouter(store, &fakeGateway{status: "succeeded"})

	w := postRecheck(r, 5)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if got := recheckAction(t, w); got != "released" {
		t.Errorf("action = %q", got)
	}
	if len(store.released) != 1 || store.released[0] != 5 {
		t.Errorf("released = %v", store.released)
	}
}

func TestRecheckFailsCanceledPayment(t *testing.T) {
	pay := &db.Payment{ID: 6, GatewayID: "pay-2", Status: db.PaymentPending}
	store := &fakeRecheckStore{payment: pay}
	r := recheckRouter(store, &fakeGateway{status: "canceled"})

	w := postRecheck(r, 6)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := recheckAction(t, w); got != "failed" {
		t.Errorf("action = %q", got)
	}
	if len(store.failed) != 1 {
		t.Errorf("failed = %v", store.failed)
	}
}

func TestRecheckCompletedPaymentNoAction(t *testing.T) {
	pay := &db.Payment{ID: 7, GatewayID: "pay-3", Status: db.PaymentCompleted}
	store := &fakeRecheckStore{payment: pay}
	r := recheckRouter(store, &fakeGateway{status: "succeeded"})

	w := postRecheck(r, 7)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := recheckAction(t, w); got != "none" {
		t.Errorf("action = %q", got)
	}
	if len(store.released) != 0 || len(store.failed) != 0 {
		t.Errorf("released = %v, failed = %v", store.released, store.failed)
	}
}

func TestRecheckGatewayUnavailable(t *testing.T) {
	pay := &db.Payment{ID: 8, GatewayID: "pay-4", Status: db.PaymentPending, Processing: true}
	store := &fakeRecheckStore{payment: pay}
	r := recheckRouter(store, &fakeGateway{err: errors.New("connection refused")})

	w := postRecheck(r, 8)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", w.Code)
	}
	if len(store.released) != 0 {
		t.Errorf("released = %v без подтверждения шлюза", store.released)
	}
}
