package tasks

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"can_analyzer_shop/internal/models"
)

// LicenseIssuer is the slice of the license client this task needs
type LicenseIssuer interface {
	CreateLicense(ctx context.Context, orderID string) error
}

// IssueLicenseTaskDef requests license generation for a completed
// order. A failed request marks the order CREATION_FAILED; there is no
// automatic retry, recovery is an administrative action.
type IssueLicenseTaskDef struct {
	db     *gorm.DB
	issuer LicenseIssuer
}

// TaskID returns the unique identifier for this task
func (t *IssueLicenseTaskDef) TaskID() string {
	return "issue_license"
}

// HandleExecution fires the license-generation request
func (t *IssueLicenseTaskDef) HandleExecution(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	orderID, _ := args["order_id"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("issue_license: missing order_id")
	}

	if err := t.issuer.CreateLicense(ctx, orderID); err != nil {
		// Guarding on REQUEST_CREATED keeps licenseStatus monotonic even
		// if the license backend's callback raced this failure path.
		updateErr := t.db.Model(&models.Order{}).
			Where("order_id = ? AND license_status = ?", orderID, models.LicenseStatusRequestCreated).
			Update("license_status", models.LicenseStatusCreationFailed).Error
		if updateErr != nil {
			log.Printf("Failed to mark license creation failed for order %s: %v", orderID, updateErr)
		}
		return nil, fmt.Errorf("license request for order %s failed: %w", orderID, err)
	}

	// Success here only means the request was accepted; the terminal
	// CREATED transition happens when the license backend calls back.
	return map[string]interface{}{"order_id": orderID, "requested": true}, nil
}
