package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// LicenseService fires license-generation requests at the external
// license backend. The backend answers asynchronously by calling
// POST /api/license/notify with the minted key, so a nil error here
// only means the request was accepted, not that a key exists yet.
type LicenseService struct {
	baseURL   string
	notifyURL string
	client    *http.Client
}

// NewLicenseService builds a client from the environment
func NewLicenseService() *LicenseService {
	base := os.Getenv("LICENSE_SERVICE_URL")
	appURL := os.Getenv("BASE_URL")
	if appURL == "" {
		appURL = "http://localhost:5000"
	}
	return &LicenseService{
		baseURL:   strings.TrimSuffix(base, "/"),
		notifyURL: strings.TrimSuffix(appURL, "/") + "/api/license/notify",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateLicense requests a license for a completed order
func (s *LicenseService) CreateLicense(ctx context.Context, orderID string) error {
	payload := map[string]string{
		"orderId":   orderID,
		"notifyUrl": s.notifyURL,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/default/License_Generate_Func", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send license request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("license request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
