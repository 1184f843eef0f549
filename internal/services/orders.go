package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"can_analyzer_shop/internal/models"
)

// ErrOrderNotFound is returned when an order id matches no row
var ErrOrderNotFound = errors.New("order not found")

// Webhook event families the controller cares about
const (
	webhookEventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	checkoutOrderEventPrefix     = "CHECKOUT.ORDER."
	paymentCaptureEventPrefix    = "PAYMENT.CAPTURE."
)

// Task names dispatched by the controller
const (
	TaskIssueLicense     = "issue_license"
	TaskSendLicenseEmail = "send_license_email"
)

// PaymentGateway abstracts the payment provider operations the
// controller needs. PayPalService is the production implementation.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
	VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, rawBody []byte) (bool, error)
}

// TaskDispatcher hands work to the async task runner without blocking
type TaskDispatcher interface {
	Dispatch(name string, args map[string]interface{})
}

// OrderService drives an order through its lifecycle. The orders table
// is the only synchronization point between the browser approval
// redirect and the PayPal webhook, which race for the same row.
type OrderService struct {
	db         *gorm.DB
	cache      *RedisCache
	gateway    PaymentGateway
	dispatcher TaskDispatcher

	baseURL   string
	brandName string
}

// NewOrderService wires the lifecycle controller. cache may be nil;
// Redis only provides a dedup fast path, never correctness.
func NewOrderService(db *gorm.DB, cache *RedisCache, gateway PaymentGateway, dispatcher TaskDispatcher) *OrderService {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return &OrderService{
		db:         db,
		cache:      cache,
		gateway:    gateway,
		dispatcher: dispatcher,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		brandName:  "CAN Analyzer Home Page",
	}
}

// CreateOrder opens a provider-side order and persists the CREATED row.
// The row must exist before the buyer can reach the approval redirect,
// otherwise reconciliation has nothing to update.
func (s *OrderService) CreateOrder(ctx context.Context, userID *uint, email, productName string, price float64, currency string) (*CreateOrderResult, error) {
	result, err := s.gateway.CreateOrder(ctx, CreateOrderParams{
		ProductName: productName,
		Description: fmt.Sprintf("1 Year Subscription For %s", productName),
		Price:       price,
		Currency:    currency,
		ReturnURL:   s.baseURL + "/paypal/approve",
		CancelURL:   s.baseURL + "/api/paypal/cancel-order",
		BrandName:   s.brandName,
	})
	if err != nil {
		return nil, fmt.Errorf("payment processing failed: %w", err)
	}

	order := models.Order{
		OrderID:       result.OrderID,
		UserID:        userID,
		Email:         email,
		ProductName:   productName,
		ProductPrice:  price,
		Currency:      currency,
		Status:        models.OrderStatusCreated,
		LicenseStatus: models.LicenseStatusNotCreated,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		// The provider-side order now has no local row. Surface it so
		// support can reconcile manually; retrying here would double-create.
		log.Printf("Order %s created at provider but not persisted: %v", result.OrderID, err)
		return nil, fmt.Errorf("payment processing failed: %w", err)
	}

	return result, nil
}

// ApprovalOutcome is what the approval-redirect page renders. It always
// carries the order id so failures remain traceable by support.
type ApprovalOutcome struct {
	OrderID string
	Status  models.OrderStatus
	Message string
}

// ReconcileApproval handles the buyer returning from PayPal. It never
// returns an error; every failure degrades to a FAILED outcome.
func (s *OrderService) ReconcileApproval(ctx context.Context, orderID string) ApprovalOutcome {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		// Unknown orders never reach the capture call. This also stops
		// capture probes against ids we did not issue.
		log.Printf("Approval redirect for unknown order %s: %v", orderID, err)
		return ApprovalOutcome{OrderID: orderID, Status: models.OrderStatusFailed, Message: "Order not found."}
	}

	capture, err := s.gateway.CaptureOrder(ctx, orderID)
	status := models.OrderStatusFailed
	if err != nil {
		log.Printf("Capture failed for order %s: %v", orderID, err)
	} else {
		switch capture.Status {
		case PayPalCaptureCompleted:
			status = models.OrderStatusCompleted
		case PayPalCapturePending, PayPalPayerActionRequired:
			status = models.OrderStatusPending
		}
	}

	if capture != nil && capture.Payer != nil {
		s.setPayerOnce(ctx, orderID, capture.Payer)
	}

	// Capture is idempotent, so the mapped status is written
	// unconditionally; re-capturing a completed order reports COMPLETED
	// again and rewrites the same value.
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error; err != nil {
		log.Printf("Failed to persist status %s for order %s: %v", status, orderID, err)
		return ApprovalOutcome{OrderID: orderID, Status: models.OrderStatusFailed, Message: "Payment failed. Please try again."}
	}

	if status == models.OrderStatusCompleted {
		s.triggerLicense(ctx, orderID)
	}

	switch status {
	case models.OrderStatusCompleted:
		return ApprovalOutcome{OrderID: orderID, Status: status, Message: "Payment successful! Your license will be sent to your email."}
	case models.OrderStatusPending:
		return ApprovalOutcome{OrderID: orderID, Status: status, Message: "Payment is being processed. This page will update automatically."}
	default:
		return ApprovalOutcome{OrderID: orderID, Status: status, Message: "Payment failed. Please try again."}
	}
}

// setPayerOnce writes the payer identity block only when no earlier
// event has set it. First writer wins; the guard on payer_id keeps the
// whole block immutable afterwards.
func (s *OrderService) setPayerOnce(ctx context.Context, orderID string, payer *PayerInfo) {
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ? AND payer_id IS NULL", orderID).
		Updates(map[string]interface{}{
			"payer_id":           payer.PayerID,
			"payer_email":        payer.Email,
			"payer_given_name":   payer.GivenName,
			"payer_surname":      payer.Surname,
			"payer_country_code": payer.CountryCode,
		}).Error
	if err != nil {
		log.Printf("Failed to record payer info for order %s: %v", orderID, err)
	}
}

// triggerLicense claims the license-issuance transition and dispatches
// the request when this caller won. The conditional update is the
// mutual-exclusion point between the redirect and webhook paths: only
// the caller whose UPDATE flips NOT_CREATED to REQUEST_CREATED issues.
func (s *OrderService) triggerLicense(ctx context.Context, orderID string) bool {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ? AND license_status = ?", orderID, models.LicenseStatusNotCreated).
		Update("license_status", models.LicenseStatusRequestCreated)
	if res.Error != nil {
		log.Printf("Failed to claim license request for order %s: %v", orderID, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		log.Printf("License request for order %s already issued, suppressing duplicate", orderID)
		return false
	}

	s.dispatcher.Dispatch(TaskIssueLicense, map[string]interface{}{
		"order_id": orderID,
	})
	return true
}

// webhookEvent is the subset of a PayPal event the controller reads
type webhookEvent struct {
	ID              string          `json:"id"`
	EventType       string          `json:"event_type"`
	ResourceType    string          `json:"resource_type"`
	ResourceVersion string          `json:"resource_version"`
	Summary         string          `json:"summary"`
	Resource        json.RawMessage `json:"resource"`
}

type webhookResource struct {
	ID                string `json:"id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Payer *struct {
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

// IngestWebhook processes one webhook delivery and returns the HTTP
// status to answer with. Signature verification runs against the raw
// bytes before anything is parsed or written. Once a delivery verifies
// and yields an order id the answer is always 200: PayPal redelivers on
// anything else, and redelivery of a handled event must stay a no-op.
func (s *OrderService) IngestWebhook(ctx context.Context, headers WebhookHeaders, rawBody []byte) int {
	verified, err := s.gateway.VerifyWebhookSignature(ctx, headers, rawBody)
	if err != nil {
		log.Printf("Webhook verification call failed: %v", err)
		return 500
	}
	if !verified {
		log.Printf("Rejected webhook with invalid signature (transmission %s)", headers.TransmissionID)
		return 401
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		log.Printf("Failed to parse verified webhook body: %v", err)
		return 400
	}

	var resource webhookResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			log.Printf("Failed to parse webhook resource: %v", err)
			return 400
		}
	}

	orderID := s.extractOrderID(event.EventType, resource)
	if orderID == "" {
		log.Printf("Webhook event %s (%s) carries no order id", event.ID, event.EventType)
		return 400
	}

	// Redis fast path for redelivered events. Best-effort only: with no
	// cache (or a cache error) the conditional update below still keeps
	// processing idempotent.
	if s.cache != nil && event.ID != "" {
		won, err := s.cache.SetNX(ctx, "paypal:webhook:"+event.ID, orderID, 24*time.Hour)
		if err == nil && !won {
			log.Printf("Webhook event %s already seen, acknowledging without processing", event.ID)
			return 200
		}
	}

	s.recordWebhookAudit(ctx, orderID, event, rawBody)

	// Only the capture-completed family drives business state. Every
	// other verified event type is acknowledged and ignored.
	if event.EventType != webhookEventCaptureCompleted {
		return 200
	}

	var order models.Order
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		// Webhook outran the order-creation write, or the id is foreign.
		// Acknowledge either way; a non-200 would only buy retry storms.
		log.Printf("Capture webhook for unknown order %s, acknowledging", orderID)
		return 200
	}

	if resource.Payer != nil && resource.Payer.PayerID != "" {
		s.setPayerOnce(ctx, orderID, &PayerInfo{
			PayerID:     resource.Payer.PayerID,
			Email:       resource.Payer.Email,
			GivenName:   resource.Payer.Name.GivenName,
			Surname:     resource.Payer.Name.Surname,
			CountryCode: resource.Payer.Address.CountryCode,
		})
	}

	if order.LicenseStatus == models.LicenseStatusNotCreated {
		if err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("order_id = ?", orderID).
			Update("status", models.OrderStatusCompleted).Error; err != nil {
			log.Printf("Failed to mark order %s completed from webhook: %v", orderID, err)
		}
		s.triggerLicense(ctx, orderID)
	} else {
		log.Printf("Capture webhook for order %s after license trigger, suppressing duplicate", orderID)
	}

	return 200
}

// extractOrderID pulls the correlating order id out of an event.
// Checkout-order events embed it directly in the resource; capture
// events carry it under supplementary_data.related_ids.
func (s *OrderService) extractOrderID(eventType string, resource webhookResource) string {
	if strings.HasPrefix(eventType, paymentCaptureEventPrefix) {
		return resource.SupplementaryData.RelatedIDs.OrderID
	}
	if strings.HasPrefix(eventType, checkoutOrderEventPrefix) {
		return resource.ID
	}
	if resource.SupplementaryData.RelatedIDs.OrderID != "" {
		return resource.SupplementaryData.RelatedIDs.OrderID
	}
	return resource.ID
}

// recordWebhookAudit stores the latest event against the order row and
// appends to the webhook log. Audit writes never fail the handler.
func (s *OrderService) recordWebhookAudit(ctx context.Context, orderID string, event webhookEvent, rawBody []byte) {
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"webhook_event_type":       event.EventType,
			"webhook_resource_type":    event.ResourceType,
			"webhook_resource_version": event.ResourceVersion,
			"webhook_summary":          event.Summary,
		}).Error
	if err != nil {
		log.Printf("Failed to record webhook audit fields for order %s: %v", orderID, err)
	}

	logRow := models.WebhookEvent{
		ProviderEventID: event.ID,
		EventType:       event.EventType,
		OrderID:         orderID,
		Payload:         json.RawMessage(rawBody),
	}
	if err := s.db.WithContext(ctx).Create(&logRow).Error; err != nil {
		log.Printf("Failed to append webhook log for order %s: %v", orderID, err)
	}
}

// AcceptLicenseKey handles the callback from the license service. The
// key is persisted first; email delivery is a separate, best-effort
// concern dispatched asynchronously.
func (s *OrderService) AcceptLicenseKey(ctx context.Context, orderID, licenseKey string) error {
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("license_status", models.LicenseStatusCreated)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}

	var order models.Order
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return err
	}

	if order.UserID != nil {
		license := models.License{
			UserID:      *order.UserID,
			OrderID:     order.OrderID,
			ProductName: order.ProductName,
			LicenseKey:  licenseKey,
			PurchasedAt: time.Now(),
			Status:      models.LicenseRecordStatusActive,
		}
		if err := s.db.WithContext(ctx).Create(&license).Error; err != nil {
			log.Printf("Failed to store license record for order %s: %v", orderID, err)
		}
	}

	recipient := order.Email
	if order.PayerEmail != nil && *order.PayerEmail != "" {
		recipient = *order.PayerEmail
	}
	if recipient != "" {
		s.dispatcher.Dispatch(TaskSendLicenseEmail, map[string]interface{}{
			"recipient":   recipient,
			"license_key": licenseKey,
			"order_id":    orderID,
		})
	} else {
		log.Printf("No recipient email for order %s, license key stored but not mailed", orderID)
	}

	return nil
}

// CancelOrder removes an abandoned checkout. Only rows still in CREATED
// are deleted; a stale cancel after any capture attempt must not
// destroy audit history.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, models.OrderStatusCreated).
		Delete(&models.Order{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetOrder returns the full order row
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns one page of orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, page, pageSize int) ([]models.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&orders).Error
	return orders, total, err
}
