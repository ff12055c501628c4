package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agrismart/models"
)

func TestPollPaymentStatusReturnsOnPaid(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		n := atomic.AddInt32(&calls, 1)
		state := PaymentState{PaymentStatus: models.PaymentPending, OrderStatus: models.OrderPending}
		if n >= 3 {
			state.PaymentStatus = models.PaymentPaid
			state.OrderStatus = models.OrderAccepted
			state.Mpesa = &models.MpesaTransaction{ReceiptNumber: "SBA12345"}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Token = "test-token"

	state, err := c.PollPaymentStatus(context.Background(), "64f000000000000000000001", 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if state.PaymentStatus != models.PaymentPaid {
		t.Errorf("payment status = %q, want %q", state.PaymentStatus, models.PaymentPaid)
	}
	if state.OrderStatus != models.OrderAccepted {
		t.Errorf("order status = %q, want %q", state.OrderStatus, models.OrderAccepted)
	}
	if state.Mpesa == nil || state.Mpesa.ReceiptNumber != "SBA12345" {
		t.Errorf("receipt not carried through: %+v", state.Mpesa)
	}
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("server hit %d times, want at least 3", got)
	}
}

func TestPollPaymentStatusTimesOutWhilePending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PaymentState{
			PaymentStatus: models.PaymentPending,
			OrderStatus:   models.OrderPending,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Token = "test-token"

	state, err := c.PollPaymentStatus(context.Background(), "64f000000000000000000001", 5*time.Millisecond, 40*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if state == nil || state.PaymentStatus != models.PaymentPending {
		t.Errorf("last state = %+v, want pending", state)
	}
}

func TestPollPaymentStatusSurvivesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			http.Error(w, `{"success":false,"message":"boom"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(PaymentState{
			PaymentStatus: models.PaymentFailed,
			OrderStatus:   models.OrderPending,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	state, err := c.PollPaymentStatus(context.Background(), "64f000000000000000000001", 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if state.PaymentStatus != models.PaymentFailed {
		t.Errorf("payment status = %q, want %q", state.PaymentStatus, models.PaymentFailed)
	}
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "jane@farm.co.ke" {
			t.Errorf("email = %q", body["email"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   "jwt-abc",
			"user":    map[string]string{"name": "Jane", "role": models.RoleFarmer},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	user, err := c.Login(context.Background(), "jane@farm.co.ke", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.Token != "jwt-abc" {
		t.Errorf("token = %q, want jwt-abc", c.Token)
	}
	if user.Name != "Jane" {
		t.Errorf("user name = %q", user.Name)
	}
}

func TestDoSurfacesAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "Order is already paid"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.InitiatePayment(context.Background(), "64f000000000000000000001", "0712345678")
	if err == nil {
		t.Fatal("want error")
	}
	if want := "Order is already paid"; !strings.Contains(err.Error(), want) {
		t.Errorf("err = %q, want it to mention %q", err, want)
	}
}
