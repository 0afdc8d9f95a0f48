package api

import (
	"net/http"
	"testing"

	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/payment"
)

func TestPaymentCallbackRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	user, profile := dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)

	rec := s.do(t, http.MethodPost, "/api/v1/payments/callback", s.token(t, user, profile), map[string]any{
		"razorpay_order_id":   "order_1",
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  "forged",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	var n int64
	s.db.Model(&database.Payment{}).Count(&n)
	if n != 0 {
		t.Fatalf("payments = %d, want 0", n)
	}
}

func TestPaymentFlowUnlocksPortfolios(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	user, profile := dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)
	token := s.token(t, user, profile)

	rec := s.do(t, http.MethodPost, "/api/v1/payments/initiate", token, nil)
	expectStatus(t, rec, http.StatusOK)
	if len(s.gateway.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(s.gateway.Orders))
	}
	orderID := s.gateway.Orders[0].ID

	rec = s.do(t, http.MethodPost, "/api/v1/payments/callback", token, map[string]any{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  payment.Sign(orderID, "pay_1", testPaymentSecret),
	})
	expectStatus(t, rec, http.StatusOK)
	if decodeBody(t, rec)["redirect"] != profilePath {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if len(s.queue.invoice) != 1 || !s.queue.invoice[0].Email {
		t.Fatalf("invoice tasks = %+v", s.queue.invoice)
	}

	// 付款后可以创建作品集。
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/portfolios", token, nil), http.StatusCreated)

	rec = s.do(t, http.MethodGet, "/api/v1/payments/invoices", token, nil)
	expectStatus(t, rec, http.StatusOK)
	invoices, ok := decodeBody(t, rec)["invoices"].([]any)
	if !ok || len(invoices) != 1 {
		t.Fatalf("unexpected invoices: %s", rec.Body.String())
	}
}

func TestRedeemCoupon(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	user, profile := dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)
	token := s.token(t, user, profile)

	rec := s.do(t, http.MethodPost, "/api/v1/payments/coupon", token, map[string]any{"coupon_code": "WRONG"})
	if _, ok := fieldErrorKeys(t, rec)["coupon_code"]; !ok {
		t.Fatalf("expected coupon_code error: %s", rec.Body.String())
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/payments/coupon", token, map[string]any{"coupon_code": "FREE100"}), http.StatusOK)
	paid, err := database.HasPaid(t.Context(), s.db, profile)
	if err != nil || !paid {
		t.Fatalf("HasPaid = %v, %v", paid, err)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/payments/coupon", token, map[string]any{"coupon_code": "FREE100"})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if msg := fieldErrorKeys(t, rec)["coupon_code"]; msg != "Coupon already redeemed" {
		t.Fatalf("coupon_code error = %q", msg)
	}
}
