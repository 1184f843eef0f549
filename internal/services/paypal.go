package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Order statuses reported by the PayPal capture call
const (
	PayPalCaptureCompleted      = "COMPLETED"
	PayPalCapturePending        = "PENDING"
	PayPalPayerActionRequired   = "PAYER_ACTION_REQUIRED"
	payPalVerificationSucceeded = "SUCCESS"
)

// PayPalService talks to the PayPal Checkout REST API. Tokens from the
// client-credentials grant are cached until shortly before expiry.
type PayPalService struct {
	baseURL   string
	clientID  string
	secret    string
	webhookID string
	client    *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalService builds a client from the environment
func NewPayPalService() *PayPalService {
	base := os.Getenv("PAYPAL_BASE_URL")
	if base == "" {
		base = "https://api-m.sandbox.paypal.com"
	}
	return &PayPalService{
		baseURL:   strings.TrimSuffix(base, "/"),
		clientID:  os.Getenv("PAYPAL_CLIENT_ID"),
		secret:    os.Getenv("PAYPAL_SECRET"),
		webhookID: os.Getenv("PAYPAL_WEBHOOK_ID"),
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateOrderParams describes the single-product checkout to open
type CreateOrderParams struct {
	ProductName string
	Description string
	Price       float64
	Currency    string
	ReturnURL   string
	CancelURL   string
	BrandName   string
}

// CreateOrderResult is the normalized outcome of an order creation
type CreateOrderResult struct {
	OrderID    string
	ApproveURL string
}

// PayerInfo is the payer identity block PayPal returns on capture and
// on capture webhooks
type PayerInfo struct {
	PayerID     string
	Email       string
	GivenName   string
	Surname     string
	CountryCode string
}

// CaptureResult is the normalized outcome of a capture attempt
type CaptureResult struct {
	Status string
	Payer  *PayerInfo
}

// WebhookHeaders carries the five transmission headers PayPal signs
// each webhook delivery with
type WebhookHeaders struct {
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
	AuthAlgo         string
	CertURL          string
}

// Complete reports whether all required headers are present
func (h WebhookHeaders) Complete() bool {
	return h.TransmissionID != "" && h.TransmissionSig != "" &&
		h.TransmissionTime != "" && h.AuthAlgo != "" && h.CertURL != ""
}

func (s *PayPalService) getAccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(s.clientID, s.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	s.accessToken = tokenResp.AccessToken
	// Renew a minute early so in-flight calls never carry a stale token
	s.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return s.accessToken, nil
}

func (s *PayPalService) doJSON(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with status %d: %s", endpoint, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// amount payloads reused by the order-creation request
type payPalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// CreateOrder opens a provider-side order with intent CAPTURE and
// returns the approval URL the buyer must visit
func (s *PayPalService) CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	amount := payPalMoney{CurrencyCode: params.Currency, Value: fmt.Sprintf("%.2f", params.Price)}

	orderReq := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"items": []map[string]interface{}{
					{
						"name":        params.ProductName,
						"description": params.Description,
						"quantity":    "1",
						"unit_amount": amount,
					},
				},
				"amount": map[string]interface{}{
					"currency_code": amount.CurrencyCode,
					"value":         amount.Value,
					"breakdown": map[string]interface{}{
						"item_total": amount,
					},
				},
			},
		},
		"application_context": map[string]interface{}{
			"return_url":          params.ReturnURL,
			"cancel_url":          params.CancelURL,
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "PAY_NOW",
			"brand_name":          params.BrandName,
		},
	}

	var orderResp struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", orderReq, &orderResp); err != nil {
		return nil, fmt.Errorf("paypal create order error: %w", err)
	}

	result := &CreateOrderResult{OrderID: orderResp.ID}
	for _, link := range orderResp.Links {
		if link.Rel == "approve" {
			result.ApproveURL = link.Href
			break
		}
	}
	if result.OrderID == "" || result.ApproveURL == "" {
		return nil, fmt.Errorf("paypal create order response missing id or approve link")
	}
	return result, nil
}

// CaptureOrder moves funds for a previously approved order. Capturing
// an already-captured order returns the same COMPLETED result.
func (s *PayPalService) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var captureResp struct {
		Status string `json:"status"`
		Payer  *struct {
			PayerID string `json:"payer_id"`
			Email   string `json:"email_address"`
			Name    struct {
				GivenName string `json:"given_name"`
				Surname   string `json:"surname"`
			} `json:"name"`
			Address struct {
				CountryCode string `json:"country_code"`
			} `json:"address"`
		} `json:"payer"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &captureResp); err != nil {
		return nil, fmt.Errorf("paypal capture error: %w", err)
	}

	result := &CaptureResult{Status: captureResp.Status}
	if p := captureResp.Payer; p != nil && p.PayerID != "" {
		result.Payer = &PayerInfo{
			PayerID:     p.PayerID,
			Email:       p.Email,
			GivenName:   p.Name.GivenName,
			Surname:     p.Name.Surname,
			CountryCode: p.Address.CountryCode,
		}
	}
	return result, nil
}

// VerifyWebhookSignature asks PayPal to validate a webhook delivery.
// The raw request body is embedded untouched; re-serializing a parsed
// event would change whitespace and key order and break the signature.
func (s *PayPalService) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, rawBody []byte) (bool, error) {
	if !headers.Complete() {
		return false, nil
	}

	verifyReq := map[string]interface{}{
		"transmission_id":   headers.TransmissionID,
		"transmission_sig":  headers.TransmissionSig,
		"transmission_time": headers.TransmissionTime,
		"auth_algo":         headers.AuthAlgo,
		"cert_url":          headers.CertURL,
		"webhook_id":        s.webhookID,
		"webhook_event":     json.RawMessage(rawBody),
	}

	var verifyResp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyReq, &verifyResp); err != nil {
		return false, fmt.Errorf("paypal webhook verification error: %w", err)
	}
	return verifyResp.VerificationStatus == payPalVerificationSucceeded, nil
}
