package tasks

import (
	"context"
	"fmt"

	"can_analyzer_shop/internal/services"
)

// Mailer is the slice of the email service this task needs
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlContent string) error
}

// SendLicenseEmailTaskDef delivers the license key to the buyer. Email
// failure is terminal for the task but not for the order: the key is
// already persisted and retrievable through the order read endpoints.
type SendLicenseEmailTaskDef struct {
	mailer Mailer
}

// TaskID returns the unique identifier for this task
func (t *SendLicenseEmailTaskDef) TaskID() string {
	return "send_license_email"
}

// HandleExecution sends the license-key email
func (t *SendLicenseEmailTaskDef) HandleExecution(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	recipient, _ := args["recipient"].(string)
	licenseKey, _ := args["license_key"].(string)
	if recipient == "" || licenseKey == "" {
		return nil, fmt.Errorf("send_license_email: missing recipient or license_key")
	}

	subject := "Your CAN Analyzer License Key"
	if err := t.mailer.SendEmail(ctx, recipient, subject, services.LicenseEmailHTML(licenseKey)); err != nil {
		return nil, fmt.Errorf("failed to email license to %s: %w", recipient, err)
	}

	return map[string]interface{}{"recipient": recipient}, nil
}
