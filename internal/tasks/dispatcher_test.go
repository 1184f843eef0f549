package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"can_analyzer_shop/internal/models"
	"can_analyzer_shop/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, services.AutoMigrate(db))
	return db
}

func TestDispatchRunsHandlerAsynchronously(t *testing.T) {
	registry := NewRegistry()
	var ran atomic.Int64
	registry.Register("count_up", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		ran.Add(1)
		return map[string]interface{}{"ok": true}, nil
	})

	dispatcher := NewDispatcher(registry)
	dispatcher.Dispatch("count_up", nil)
	dispatcher.Dispatch("count_up", nil)
	dispatcher.Wait()

	assert.Equal(t, int64(2), ran.Load())
}

func TestDispatchUnknownTaskIsDropped(t *testing.T) {
	dispatcher := NewDispatcher(NewRegistry())
	// Must not panic or block
	dispatcher.Dispatch("does_not_exist", map[string]interface{}{"x": 1})
	dispatcher.Wait()
}

func TestDispatchContainsPanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register("explode", func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		panic("boom")
	})

	dispatcher := NewDispatcher(registry)
	dispatcher.Dispatch("explode", nil)
	dispatcher.Wait()
}

type fakeIssuer struct {
	err   error
	calls atomic.Int64
	last  atomic.Value
}

func (f *fakeIssuer) CreateLicense(ctx context.Context, orderID string) error {
	f.calls.Add(1)
	f.last.Store(orderID)
	return f.err
}

type fakeMailer struct {
	err   error
	calls atomic.Int64
}

func (f *fakeMailer) SendEmail(ctx context.Context, to, subject, htmlContent string) error {
	f.calls.Add(1)
	return f.err
}

func seedRequestedOrder(t *testing.T, db *gorm.DB, orderID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Order{
		OrderID:       orderID,
		Email:         "buyer@example.com",
		Status:        models.OrderStatusCompleted,
		LicenseStatus: models.LicenseStatusRequestCreated,
	}).Error)
}

func TestIssueLicenseTaskSuccessLeavesRequestCreated(t *testing.T) {
	db := newTestDB(t)
	seedRequestedOrder(t, db, "ORD-T1")
	issuer := &fakeIssuer{}

	task := &IssueLicenseTaskDef{db: db, issuer: issuer}
	_, err := task.HandleExecution(context.Background(), map[string]interface{}{"order_id": "ORD-T1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), issuer.calls.Load())
	assert.Equal(t, "ORD-T1", issuer.last.Load())

	var order models.Order
	require.NoError(t, db.Where("order_id = ?", "ORD-T1").First(&order).Error)
	// CREATED arrives later via the notify callback, not here
	assert.Equal(t, models.LicenseStatusRequestCreated, order.LicenseStatus)
}

func TestIssueLicenseTaskFailureIsTerminal(t *testing.T) {
	db := newTestDB(t)
	seedRequestedOrder(t, db, "ORD-T2")
	issuer := &fakeIssuer{err: fmt.Errorf("license backend down")}

	task := &IssueLicenseTaskDef{db: db, issuer: issuer}
	_, err := task.HandleExecution(context.Background(), map[string]interface{}{"order_id": "ORD-T2"})
	require.Error(t, err)

	var order models.Order
	require.NoError(t, db.Where("order_id = ?", "ORD-T2").First(&order).Error)
	assert.Equal(t, models.LicenseStatusCreationFailed, order.LicenseStatus)
}

func TestIssueLicenseTaskFailureDoesNotRewindCreated(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Order{
		OrderID:       "ORD-T3",
		Email:         "buyer@example.com",
		Status:        models.OrderStatusCompleted,
		LicenseStatus: models.LicenseStatusCreated,
	}).Error)
	issuer := &fakeIssuer{err: fmt.Errorf("late failure")}

	task := &IssueLicenseTaskDef{db: db, issuer: issuer}
	_, err := task.HandleExecution(context.Background(), map[string]interface{}{"order_id": "ORD-T3"})
	require.Error(t, err)

	var order models.Order
	require.NoError(t, db.Where("order_id = ?", "ORD-T3").First(&order).Error)
	assert.Equal(t, models.LicenseStatusCreated, order.LicenseStatus)
}

func TestIssueLicenseTaskMissingArgs(t *testing.T) {
	task := &IssueLicenseTaskDef{db: newTestDB(t), issuer: &fakeIssuer{}}
	_, err := task.HandleExecution(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestSendLicenseEmailTask(t *testing.T) {
	mailer := &fakeMailer{}
	task := &SendLicenseEmailTaskDef{mailer: mailer}

	result, err := task.HandleExecution(context.Background(), map[string]interface{}{
		"recipient":   "buyer@example.com",
		"license_key": "CAN-ABC123-XYZ789",
	})
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", result["recipient"])
	assert.Equal(t, int64(1), mailer.calls.Load())

	_, err = task.HandleExecution(context.Background(), map[string]interface{}{"recipient": "x@example.com"})
	assert.Error(t, err, "missing license key must be rejected")
}

func TestDefineTasksRegistersEverything(t *testing.T) {
	registry := NewRegistry()
	DefineTasks(registry, newTestDB(t), &fakeIssuer{}, &fakeMailer{})

	for _, name := range []string{"issue_license", "send_license_email"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("task %s not registered", name)
		}
	}
}
