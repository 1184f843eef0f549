package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"time"
)

const brevoSendURL = "https://api.brevo.com/v3/smtp/email"

// EmailService delivers transactional mail through the Brevo HTTP API,
// falling back to plain SMTP when no API key is configured.
type EmailService struct {
	apiKey     string
	senderName string
	senderMail string

	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string

	client *http.Client
}

// NewEmailService builds a mailer from the environment
func NewEmailService() *EmailService {
	return &EmailService{
		apiKey:     os.Getenv("BREVO_API_KEY"),
		senderName: "CAN Analyzer",
		senderMail: os.Getenv("SENDER_EMAIL"),
		smtpHost:   os.Getenv("SMTP_HOST"),
		smtpPort:   os.Getenv("SMTP_PORT"),
		smtpUser:   os.Getenv("SMTP_USER"),
		smtpPass:   os.Getenv("SMTP_PASS"),
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SendEmail sends one HTML email to a single recipient
func (s *EmailService) SendEmail(ctx context.Context, to, subject, htmlContent string) error {
	if s.apiKey != "" {
		return s.sendViaBrevo(ctx, to, subject, htmlContent)
	}
	return s.sendViaSMTP(to, subject, htmlContent)
}

func (s *EmailService) sendViaBrevo(ctx context.Context, to, subject, htmlContent string) error {
	payload := map[string]interface{}{
		"sender": map[string]string{
			"name":  s.senderName,
			"email": s.senderMail,
		},
		"to":          []map[string]string{{"email": to}},
		"subject":     subject,
		"htmlContent": htmlContent,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoSendURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("email send failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *EmailService) sendViaSMTP(to, subject, htmlContent string) error {
	if s.smtpHost == "" || s.smtpPort == "" || s.smtpUser == "" || s.smtpPass == "" {
		return fmt.Errorf("no mail transport configured")
	}

	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPass, s.smtpHost)
	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", to, subject, htmlContent))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	if err := smtp.SendMail(addr, auth, s.senderMail, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LicenseEmailHTML renders the license-key delivery email body
func LicenseEmailHTML(licenseKey string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>CAN Analyzer License Key</title>
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 20px auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
		.header { font-size: 24px; font-weight: bold; color: #003087; }
		.license-key { background-color: #f5f5f5; padding: 10px; border: 1px dashed #ccc; font-family: monospace; font-size: 16px; margin: 20px 0; }
		.footer { margin-top: 20px; font-size: 12px; color: #777; }
	</style>
</head>
<body>
	<div class="container">
		<p class="header">Thank you for purchasing CAN Analyzer!</p>
		<p>We have received your payment. Your license key is below:</p>
		<div class="license-key">%s</div>
		<p>Please keep this key somewhere safe. You will need it to activate the software.</p>
		<p>If you have any questions, contact our support team.</p>
		<p class="footer">Best regards,<br>The CAN Analyzer Team</p>
	</div>
</body>
</html>`, licenseKey)
}
