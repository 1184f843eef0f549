package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"can_analyzer_shop/internal/models"
)

type fakeGateway struct {
	createResult *CreateOrderResult
	createErr    error

	captureResult *CaptureResult
	captureErr    error
	captureCalls  int

	verifyResult bool
	verifyErr    error
}

func (g *fakeGateway) CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResult, nil
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	g.captureCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return g.captureResult, nil
}

func (g *fakeGateway) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, rawBody []byte) (bool, error) {
	return g.verifyResult, g.verifyErr
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []string
	args  []map[string]interface{}
}

func (d *fakeDispatcher) Dispatch(name string, args map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, name)
	d.args = append(d.args, args)
}

func (d *fakeDispatcher) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tasks {
		if t == name {
			n++
		}
	}
	return n
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, order models.Order) models.Order {
	t.Helper()
	if order.Status == "" {
		order.Status = models.OrderStatusCreated
	}
	if order.LicenseStatus == "" {
		order.LicenseStatus = models.LicenseStatusNotCreated
	}
	require.NoError(t, db.Create(&order).Error)
	return order
}

func loadOrder(t *testing.T, db *gorm.DB, orderID string) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return order
}

func captureWebhookBody(eventID, orderID string) []byte {
	body := fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource_type": "capture",
		"resource_version": "2.0",
		"summary": "Payment completed for order",
		"resource": {
			"id": "CAP-1",
			"supplementary_data": {"related_ids": {"order_id": %q}}
		}
	}`, eventID, orderID)
	return []byte(body)
}

func TestCreateOrderPersistsRowBeforeReturning(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{createResult: &CreateOrderResult{OrderID: "ORD-1", ApproveURL: "https://paypal.test/approve/ORD-1"}}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	userID := uint(7)
	result, err := svc.CreateOrder(context.Background(), &userID, "buyer@example.com", "CAN Analyzer License", 100.00, "USD")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", result.OrderID)
	assert.Equal(t, "https://paypal.test/approve/ORD-1", result.ApproveURL)

	order := loadOrder(t, db, "ORD-1")
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, models.LicenseStatusNotCreated, order.LicenseStatus)
	assert.Equal(t, "buyer@example.com", order.Email)
	assert.Equal(t, 100.00, order.ProductPrice)
	require.NotNil(t, order.UserID)
	assert.Equal(t, uint(7), *order.UserID)
}

func TestCreateOrderGatewayFailureLeavesNoState(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{createErr: fmt.Errorf("upstream unavailable")}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	_, err := svc.CreateOrder(context.Background(), nil, "buyer@example.com", "CAN Analyzer License", 100.00, "USD")
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReconcileApprovalUnknownOrderSkipsCapture(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{captureResult: &CaptureResult{Status: PayPalCaptureCompleted}}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	outcome := svc.ReconcileApproval(context.Background(), "NO-SUCH-ORDER")
	assert.Equal(t, models.OrderStatusFailed, outcome.Status)
	assert.Equal(t, "NO-SUCH-ORDER", outcome.OrderID)
	assert.Zero(t, gateway.captureCalls, "capture must not run for unknown orders")
}

func TestReconcileApprovalStatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		captureResult *CaptureResult
		captureErr    error
		want          models.OrderStatus
	}{
		{"completed", &CaptureResult{Status: PayPalCaptureCompleted}, nil, models.OrderStatusCompleted},
		{"payer action required", &CaptureResult{Status: PayPalPayerActionRequired}, nil, models.OrderStatusPending},
		{"pending", &CaptureResult{Status: PayPalCapturePending}, nil, models.OrderStatusPending},
		{"unexpected status", &CaptureResult{Status: "VOIDED"}, nil, models.OrderStatusFailed},
		{"capture error", nil, fmt.Errorf("boom"), models.OrderStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			seedOrder(t, db, models.Order{OrderID: "ORD-MAP", Email: "buyer@example.com"})
			gateway := &fakeGateway{captureResult: tt.captureResult, captureErr: tt.captureErr}
			svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

			outcome := svc.ReconcileApproval(context.Background(), "ORD-MAP")
			assert.Equal(t, tt.want, outcome.Status)
			assert.Equal(t, tt.want, loadOrder(t, db, "ORD-MAP").Status)
		})
	}
}

func TestReconcileApprovalCompletedTriggersLicenseOnce(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-2", Email: "buyer@example.com"})
	gateway := &fakeGateway{captureResult: &CaptureResult{
		Status: PayPalCaptureCompleted,
		Payer:  &PayerInfo{PayerID: "PAYER-1", Email: "payer@example.com", GivenName: "Ada", Surname: "Lovelace", CountryCode: "GB"},
	}}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	first := svc.ReconcileApproval(context.Background(), "ORD-2")
	assert.Equal(t, models.OrderStatusCompleted, first.Status)

	order := loadOrder(t, db, "ORD-2")
	assert.Equal(t, models.LicenseStatusRequestCreated, order.LicenseStatus)
	require.NotNil(t, order.PayerID)
	assert.Equal(t, "PAYER-1", *order.PayerID)
	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))

	// A second redirect for the same completed order renders the same
	// outcome and must not issue a second license request.
	second := svc.ReconcileApproval(context.Background(), "ORD-2")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Message, second.Message)
	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))
	assert.Equal(t, models.LicenseStatusRequestCreated, loadOrder(t, db, "ORD-2").LicenseStatus)
}

func TestPayerIdentityFirstWriterWins(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-3", Email: "buyer@example.com"})
	gateway := &fakeGateway{captureResult: &CaptureResult{
		Status: PayPalCaptureCompleted,
		Payer:  &PayerInfo{PayerID: "FIRST", Email: "first@example.com"},
	}, verifyResult: true}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	svc.ReconcileApproval(context.Background(), "ORD-3")

	// Webhook with different payer data arrives afterwards
	body := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"supplementary_data": {"related_ids": {"order_id": "ORD-3"}},
			"payer": {"payer_id": "SECOND", "email_address": "second@example.com"}
		}
	}`)
	code := svc.IngestWebhook(context.Background(), WebhookHeaders{}, body)
	assert.Equal(t, 200, code)

	order := loadOrder(t, db, "ORD-3")
	require.NotNil(t, order.PayerID)
	assert.Equal(t, "FIRST", *order.PayerID)
	require.NotNil(t, order.PayerEmail)
	assert.Equal(t, "first@example.com", *order.PayerEmail)
}

func TestWebhookPayerWinsWhenItArrivesFirst(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-4", Email: "buyer@example.com"})
	gateway := &fakeGateway{captureResult: &CaptureResult{
		Status: PayPalCaptureCompleted,
		Payer:  &PayerInfo{PayerID: "REDIRECT", Email: "redirect@example.com"},
	}, verifyResult: true}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	body := []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"supplementary_data": {"related_ids": {"order_id": "ORD-4"}},
			"payer": {"payer_id": "WEBHOOK", "email_address": "webhook@example.com"}
		}
	}`)
	require.Equal(t, 200, svc.IngestWebhook(context.Background(), WebhookHeaders{}, body))
	svc.ReconcileApproval(context.Background(), "ORD-4")

	order := loadOrder(t, db, "ORD-4")
	require.NotNil(t, order.PayerID)
	assert.Equal(t, "WEBHOOK", *order.PayerID)
}

func TestWebhookUnverifiedRejectedWithoutWrites(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-5", Email: "buyer@example.com"})
	gateway := &fakeGateway{verifyResult: false}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	code := svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-3", "ORD-5"))
	assert.Equal(t, 401, code)

	order := loadOrder(t, db, "ORD-5")
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, models.LicenseStatusNotCreated, order.LicenseStatus)
	assert.Empty(t, order.WebhookEventType)
	assert.Empty(t, dispatcher.tasks)

	var logged int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&logged).Error)
	assert.Zero(t, logged)
}

func TestWebhookVerificationErrorAnswers500(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{verifyErr: fmt.Errorf("provider unreachable")}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	code := svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-4", "ORD-X"))
	assert.Equal(t, 500, code)
}

func TestWebhookMissingOrderIDRejected(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{verifyResult: true}
	svc := NewOrderService(db, nil, gateway, &fakeDispatcher{})

	body := []byte(`{"id": "WH-5", "event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {}}`)
	assert.Equal(t, 400, svc.IngestWebhook(context.Background(), WebhookHeaders{}, body))
}

func TestWebhookUnknownOrderAcknowledged(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{verifyResult: true}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	code := svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-6", "NEVER-SEEN"))
	assert.Equal(t, 200, code)
	assert.Empty(t, dispatcher.tasks)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count, "unmatched webhooks must not create orders")
}

func TestWebhookCaptureCompletedDrivesOrder(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-6", Email: "buyer@example.com"})
	gateway := &fakeGateway{verifyResult: true}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	code := svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-7", "ORD-6"))
	assert.Equal(t, 200, code)

	order := loadOrder(t, db, "ORD-6")
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, models.LicenseStatusRequestCreated, order.LicenseStatus)
	assert.Equal(t, "PAYMENT.CAPTURE.COMPLETED", order.WebhookEventType)
	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))

	var logged int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&logged).Error)
	assert.Equal(t, int64(1), logged)
}

func TestWebhookRedeliveryIsCheapNoOp(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-7", Email: "buyer@example.com"})
	gateway := &fakeGateway{verifyResult: true}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	// Same event delivered twice plus a second distinct capture event
	assert.Equal(t, 200, svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-8", "ORD-7")))
	assert.Equal(t, 200, svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-8", "ORD-7")))
	assert.Equal(t, 200, svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-9", "ORD-7")))

	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))
	assert.Equal(t, models.LicenseStatusRequestCreated, loadOrder(t, db, "ORD-7").LicenseStatus)
}

func TestWebhookNonCaptureEventOnlyAudited(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-8", Email: "buyer@example.com"})
	gateway := &fakeGateway{verifyResult: true}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	body := []byte(`{
		"id": "WH-10",
		"event_type": "CHECKOUT.ORDER.APPROVED",
		"resource_type": "checkout-order",
		"resource_version": "2.0",
		"summary": "An order has been approved by buyer",
		"resource": {"id": "ORD-8"}
	}`)
	assert.Equal(t, 200, svc.IngestWebhook(context.Background(), WebhookHeaders{}, body))

	order := loadOrder(t, db, "ORD-8")
	assert.Equal(t, models.OrderStatusCreated, order.Status, "non-capture events must not advance status")
	assert.Equal(t, models.LicenseStatusNotCreated, order.LicenseStatus)
	assert.Equal(t, "CHECKOUT.ORDER.APPROVED", order.WebhookEventType)
	assert.Equal(t, "checkout-order", order.WebhookResourceType)
	assert.Equal(t, "An order has been approved by buyer", order.WebhookSummary)
	assert.Empty(t, dispatcher.tasks)
}

func TestBothPathsObserveCompletionSingleLicenseRequest(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-9", Email: "buyer@example.com"})
	gateway := &fakeGateway{
		captureResult: &CaptureResult{Status: PayPalCaptureCompleted},
		verifyResult:  true,
	}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	svc.ReconcileApproval(context.Background(), "ORD-9")
	svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-11", "ORD-9"))

	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))
	assert.Equal(t, models.LicenseStatusRequestCreated, loadOrder(t, db, "ORD-9").LicenseStatus)
}

func TestLicenseStatusMonotonic(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{OrderID: "ORD-10", Email: "buyer@example.com"})
	gateway := &fakeGateway{captureResult: &CaptureResult{Status: PayPalCaptureCompleted}, verifyResult: true}
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, gateway, dispatcher)

	svc.ReconcileApproval(context.Background(), "ORD-10")
	require.NoError(t, svc.AcceptLicenseKey(context.Background(), "ORD-10", "CAN-ABC123-XYZ789"))
	assert.Equal(t, models.LicenseStatusCreated, loadOrder(t, db, "ORD-10").LicenseStatus)

	// A late duplicate capture webhook must not rewind the license state
	svc.IngestWebhook(context.Background(), WebhookHeaders{}, captureWebhookBody("WH-12", "ORD-10"))
	assert.Equal(t, models.LicenseStatusCreated, loadOrder(t, db, "ORD-10").LicenseStatus)
	assert.Equal(t, 1, dispatcher.count(TaskIssueLicense))
}

func TestAcceptLicenseKeyStoresLicenseAndQueuesEmail(t *testing.T) {
	db := newTestDB(t)
	userID := uint(3)
	payerEmail := "payer@example.com"
	seedOrder(t, db, models.Order{
		OrderID:       "ORD-11",
		UserID:        &userID,
		Email:         "buyer@example.com",
		ProductName:   "CAN Analyzer License",
		PayerEmail:    &payerEmail,
		Status:        models.OrderStatusCompleted,
		LicenseStatus: models.LicenseStatusRequestCreated,
	})
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, &fakeGateway{}, dispatcher)

	require.NoError(t, svc.AcceptLicenseKey(context.Background(), "ORD-11", "CAN-ABC123-XYZ789"))

	var license models.License
	require.NoError(t, db.Where("order_id = ?", "ORD-11").First(&license).Error)
	assert.Equal(t, uint(3), license.UserID)
	assert.Equal(t, "CAN-ABC123-XYZ789", license.LicenseKey)
	assert.Equal(t, models.LicenseRecordStatusActive, license.Status)

	require.Equal(t, 1, dispatcher.count(TaskSendLicenseEmail))
	assert.Equal(t, "payer@example.com", dispatcher.args[0]["recipient"], "payer email preferred over checkout email")
}

func TestAcceptLicenseKeyFallsBackToCheckoutEmail(t *testing.T) {
	db := newTestDB(t)
	seedOrder(t, db, models.Order{
		OrderID:       "ORD-12",
		Email:         "buyer@example.com",
		Status:        models.OrderStatusCompleted,
		LicenseStatus: models.LicenseStatusRequestCreated,
	})
	dispatcher := &fakeDispatcher{}
	svc := NewOrderService(db, nil, &fakeGateway{}, dispatcher)

	require.NoError(t, svc.AcceptLicenseKey(context.Background(), "ORD-12", "CAN-KEY"))
	require.Equal(t, 1, dispatcher.count(TaskSendLicenseEmail))
	assert.Equal(t, "buyer@example.com", dispatcher.args[0]["recipient"])

	// Anonymous order: no License row is created
	var count int64
	require.NoError(t, db.Model(&models.License{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAcceptLicenseKeyUnknownOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewOrderService(db, nil, &fakeGateway{}, &fakeDispatcher{})

	err := svc.AcceptLicenseKey(context.Background(), "MISSING", "CAN-KEY")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelDeletesOnlyUntouchedOrders(t *testing.T) {
	tests := []struct {
		name        string
		status      models.OrderStatus
		wantDeleted bool
	}{
		{"created is deleted", models.OrderStatusCreated, true},
		{"pending survives", models.OrderStatusPending, false},
		{"completed survives", models.OrderStatusCompleted, false},
		{"failed survives", models.OrderStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			seedOrder(t, db, models.Order{OrderID: "ORD-CANCEL", Email: "buyer@example.com", Status: tt.status})
			svc := NewOrderService(db, nil, &fakeGateway{}, &fakeDispatcher{})

			deleted, err := svc.CancelOrder(context.Background(), "ORD-CANCEL")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDeleted, deleted)

			var count int64
			require.NoError(t, db.Model(&models.Order{}).Where("order_id = ?", "ORD-CANCEL").Count(&count).Error)
			if tt.wantDeleted {
				assert.Zero(t, count)
			} else {
				assert.Equal(t, int64(1), count)
			}
		})
	}
}

func TestListOrdersPaginates(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 25; i++ {
		seedOrder(t, db, models.Order{OrderID: fmt.Sprintf("ORD-LIST-%02d", i), Email: "buyer@example.com"})
	}
	svc := NewOrderService(db, nil, &fakeGateway{}, &fakeDispatcher{})

	orders, total, err := svc.ListOrders(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	assert.Len(t, orders, 20)

	orders, _, err = svc.ListOrders(context.Background(), 2, 20)
	require.NoError(t, err)
	assert.Len(t, orders, 5)
}

func TestExtractOrderIDByEventFamily(t *testing.T) {
	svc := &OrderService{}

	var captureRes webhookResource
	require.NoError(t, json.Unmarshal([]byte(`{"id": "CAP-9", "supplementary_data": {"related_ids": {"order_id": "ORD-N"}}}`), &captureRes))
	var orderRes webhookResource
	require.NoError(t, json.Unmarshal([]byte(`{"id": "ORD-N"}`), &orderRes))

	tests := []struct {
		name      string
		eventType string
		resource  webhookResource
		want      string
	}{
		{"capture event uses related ids", "PAYMENT.CAPTURE.COMPLETED", captureRes, "ORD-N"},
		{"checkout event uses resource id", "CHECKOUT.ORDER.APPROVED", orderRes, "ORD-N"},
		{"unknown family falls back to related ids", "PAYMENT.SALE.COMPLETED", captureRes, "ORD-N"},
		{"unknown family falls back to resource id", "CUSTOM.EVENT", orderRes, "ORD-N"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.extractOrderID(tt.eventType, tt.resource); got != tt.want {
				t.Errorf("extractOrderID(%q) = %q; want %q", tt.eventType, got, tt.want)
			}
		})
	}
}
