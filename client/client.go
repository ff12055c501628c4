// Package client is a small Go client for the AgriSmart API. It carries
// the payment-status poller the web UI runs while an STK Push is pending.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agrismart/models"
	"agrismart/services"
)

// Polling defaults matching the web UI: poll every 5 seconds, give up
// after the 2-minute payment window.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollWindow   = 2 * time.Minute
)

// Client talks to the AgriSmart API with a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*models.User, error) {
	var resp struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	c.Token = resp.Token
	return resp.User, nil
}

// OrderItemRequest is one line of a new order.
type OrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder places an order for the authenticated buyer.
func (c *Client) CreateOrder(ctx context.Context, items []OrderItemRequest) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders",
		map[string]interface{}{"items": items}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// InitiatePayment starts an STK Push for the order.
func (c *Client) InitiatePayment(ctx context.Context, orderID, phone string) (*services.STKPushResult, error) {
	var result services.STKPushResult
	err := c.do(ctx, http.MethodPost, "/api/orders/payments/mpesa/initiate",
		map[string]string{"orderId": orderID, "phone": phone}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PaymentState is the poller's view of an order.
type PaymentState struct {
	PaymentStatus string                   `json:"paymentStatus"`
	OrderStatus   string                   `json:"orderStatus"`
	Mpesa         *models.MpesaTransaction `json:"mpesaTransaction,omitempty"`
}

// Terminal reports whether polling can stop.
func (s *PaymentState) Terminal() bool {
	return s != nil && s.PaymentStatus != models.PaymentPending
}

// PaymentStatus fetches the order's current payment state once.
func (c *Client) PaymentStatus(ctx context.Context, orderID string) (*PaymentState, error) {
	var state PaymentState
	err := c.do(ctx, http.MethodGet, "/api/orders/"+orderID+"/payment-status", nil, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PollPaymentStatus re-fetches the payment state until it leaves pending or
// the window closes. Cancelling ctx stops the loop immediately; it never
// cancels the in-flight gateway charge. The last observed state is returned
// alongside the context error on timeout or cancellation. Transient fetch
// errors do not stop the loop.
func (c *Client) PollPaymentStatus(ctx context.Context, orderID string, interval, window time.Duration) (*PaymentState, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if window <= 0 {
		window = DefaultPollWindow
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *PaymentState
	for {
		state, err := c.PaymentStatus(ctx, orderID)
		if err == nil {
			last = state
			if state.Terminal() {
				return state, nil
			}
		} else if ctx.Err() != nil {
			return last, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
