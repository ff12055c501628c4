// Package services holds the integrations behind the HTTP handlers: the
// M-Pesa (Daraja) payment gateway and the Cloudinary image uploader.
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agrismart/apperr"
	"agrismart/config"
)

const kenyaCountryCode = "254"

// STKPushRequest describes one charge attempt against an order.
type STKPushRequest struct {
	OrderID string
	Amount  float64
	Phone   string
}

// STKPushResult is what the caller gets back when the gateway accepts the
// charge. The checkout id identifies the attempt in the later callback.
type STKPushResult struct {
	Success           bool    `json:"success"`
	CheckoutID        string  `json:"checkoutId"`
	MerchantRequestID string  `json:"merchantRequestId,omitempty"`
	CustomerMessage   string  `json:"customerMessage"`
	OrderID           string  `json:"orderId"`
	Amount            float64 `json:"amount"`
}

// Gateway initiates mobile-money charges. Daraja talks to Safaricom;
// MockGateway synthesizes checkout ids for local development.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error)
}

// NewGateway selects the implementation from configuration.
func NewGateway(cfg config.MpesaConfig) Gateway {
	if cfg.UseMock {
		return NewMockGateway(cfg)
	}
	return NewDaraja(cfg)
}

// NormalizePhone converts a Kenyan phone number to the canonical
// international format the gateway expects: 2547XXXXXXXX.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	if strings.HasPrefix(p, "0") {
		p = kenyaCountryCode + p[1:]
	}
	p = strings.TrimPrefix(p, "+")
	return p
}

// Daraja is the Safaricom M-Pesa STK Push client. The base URL comes from
// configuration so sandbox, production and tests all use the same code.
type Daraja struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
}

func NewDaraja(cfg config.MpesaConfig) *Daraja {
	return &Daraja{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type darajaTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	url := d.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.ConsumerKey, d.cfg.ConsumerSecret)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", apperr.ErrPaymentInitiation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned %d", apperr.ErrPaymentInitiation, resp.StatusCode)
	}

	var token darajaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil || token.AccessToken == "" {
		return "", fmt.Errorf("%w: invalid token response", apperr.ErrPaymentInitiation)
	}
	return token.AccessToken, nil
}

func darajaTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

func darajaPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// InitiateSTKPush performs the OAuth token fetch and the STK Push request.
// The gateway only takes whole shilling amounts.
func (d *Daraja) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	phone := NormalizePhone(req.Phone)
	timestamp := darajaTimestamp(time.Now())
	amount := decimal.NewFromFloat(req.Amount).Round(0).IntPart()

	payload := stkPushPayload{
		BusinessShortCode: d.cfg.ShortCode,
		Password:          darajaPassword(d.cfg.ShortCode, d.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            d.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       d.cfg.CallbackURL,
		AccountReference:  "AGRI" + req.OrderID,
		TransactionDesc:   "AgriSmart Product Purchase",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPaymentInitiation, err)
	}
	defer resp.Body.Close()

	var pushResp stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, fmt.Errorf("%w: invalid gateway response", apperr.ErrPaymentInitiation)
	}

	if pushResp.ResponseCode != "0" {
		desc := pushResp.ResponseDescription
		if desc == "" {
			desc = pushResp.ErrorMessage
		}
		if desc == "" {
			desc = "gateway rejected the request"
		}
		return nil, fmt.Errorf("%w: %s", apperr.ErrPaymentInitiation, desc)
	}

	return &STKPushResult{
		Success:           true,
		CheckoutID:        pushResp.CheckoutRequestID,
		MerchantRequestID: pushResp.MerchantRequestID,
		CustomerMessage:   pushResp.CustomerMessage,
		OrderID:           req.OrderID,
		Amount:            req.Amount,
	}, nil
}

// MockGateway synthesizes checkout identifiers without any network call.
type MockGateway struct {
	cfg config.MpesaConfig
}

func NewMockGateway(cfg config.MpesaConfig) *MockGateway {
	return &MockGateway{cfg: cfg}
}

func (m *MockGateway) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error) {
	if !m.cfg.UseMock {
		return nil, errors.New("real M-Pesa is enabled, use the Daraja gateway")
	}
	return &STKPushResult{
		Success:         true,
		CheckoutID:      "mock-" + uuid.NewString(),
		CustomerMessage: "Mock payment initiated successfully. Confirm payment to complete.",
		OrderID:         req.OrderID,
		Amount:          req.Amount,
	}, nil
}

// Callback envelope as Safaricom posts it.
type callbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *callbackMetadata `json:"CallbackMetadata"`
}

type callbackMetadata struct {
	Item []metadataItem `json:"Item"`
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackResult is the reconciled view of a gateway callback.
type CallbackResult struct {
	CheckoutID      string
	ResultCode      int
	ResultDesc      string
	Success         bool
	Amount          float64
	ReceiptNumber   string
	Phone           string
	TransactionTime time.Time
}

var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

// ParseCallback decodes a Daraja callback payload. A structurally invalid
// payload returns an error; the handler turns that into a failure
// acknowledgement rather than an HTTP error.
func ParseCallback(payload []byte) (*CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, errors.New("invalid callback structure")
	}

	result := &CallbackResult{
		CheckoutID: cb.CheckoutRequestID,
		ResultCode: cb.ResultCode,
		ResultDesc: cb.ResultDesc,
		Success:    cb.ResultCode == 0 && cb.CallbackMetadata != nil,
	}

	if result.Success {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				result.Amount = asFloat(item.Value)
			case "MpesaReceiptNumber":
				result.ReceiptNumber = asString(item.Value)
			case "PhoneNumber":
				result.Phone = asString(item.Value)
			case "TransactionDate":
				if t, err := time.ParseInLocation("20060102150405", asString(item.Value), eastAfricaTime); err == nil {
					result.TransactionTime = t
				}
			}
		}
	}

	return result, nil
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return decimal.NewFromFloat(s).String()
	case json.Number:
		return s.String()
	}
	return ""
}

// ReadCallbackBody caps the webhook body size; Safaricom payloads are tiny.
func ReadCallbackBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}
