package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func okResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(db), &webpush.Options{})

	wp.Dispatch(context.Background(), Alert{Kind: AlertOffline, DeviceID: "dev-1"})

	select {
	case job := <-wp.jobs:
		assert.Equal(t, "dev-1", job.DeviceID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_TryDispatchDropsWhenFull(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(db), &webpush.Options{})

	for i := 0; i < cap(wp.jobs); i++ {
		require.True(t, wp.TryDispatch(Alert{DeviceID: "dev-1"}))
	}
	assert.False(t, wp.TryDispatch(Alert{DeviceID: "dev-1"}))
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, store.NewGormStore(gormDB), &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	// --- Test Case: One subscription found, notification sent ---
	t.Run("sends alert to establishment subscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var msg map[string]any
				assert.NoError(t, json.Unmarshal(payload, &msg))
				assert.Equal(t, "Device kiosk-7 reports ERROR", msg["title"])
				assert.Equal(t, "degraded", msg["kind"])
				assert.Equal(t, "kiosk-7", msg["device_id"])
				return okResponse(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE establishment_id = \$1`).
			WithArgs("est-1").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "establishment_id", "created_at"}).
				AddRow("https://example.com/push", "test_p256dh", "test_auth", "est-1", time.Now()))

		wp.Dispatch(ctx, Alert{Kind: AlertDegraded, DeviceID: "kiosk-7", EstablishmentID: "est-1", Status: model.StatusError})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// --- Test Case: Subscription expired, should be deleted ---
	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return okResponse(http.StatusGone), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE establishment_id = \$1`).
			WithArgs("est-2").
			WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "establishment_id", "created_at"}).
				AddRow("https://example.com/expired", "k", "a", "est-2", time.Now()))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Dispatch(ctx, Alert{Kind: AlertOffline, DeviceID: "kiosk-8", EstablishmentID: "est-2"})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})
}

func TestStatusAlert(t *testing.T) {
	device := &model.Device{DeviceID: "kiosk-1", EstablishmentID: "est-1"}
	status := func(s model.OperationalStatus) *model.OperationalStatus { return &s }

	testCases := []struct {
		name     string
		prev     *model.OperationalStatus
		next     model.OperationalStatus
		expected AlertKind
		alert    bool
	}{
		{name: "first heartbeat healthy", prev: nil, next: model.StatusOK},
		{name: "first heartbeat unhealthy", prev: nil, next: model.StatusError, expected: AlertDegraded, alert: true},
		{name: "ok to warn", prev: status(model.StatusOK), next: model.StatusWarn, expected: AlertDegraded, alert: true},
		{name: "warn to error", prev: status(model.StatusWarn), next: model.StatusError, expected: AlertDegraded, alert: true},
		{name: "error repeated", prev: status(model.StatusError), next: model.StatusError},
		{name: "error to ok", prev: status(model.StatusError), next: model.StatusOK, expected: AlertRecovered, alert: true},
		{name: "booting to ok", prev: status(model.StatusBooting), next: model.StatusOK},
		{name: "error to booting", prev: status(model.StatusError), next: model.StatusBooting},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			alert, ok := StatusAlert(device, tc.prev, tc.next)
			assert.Equal(t, tc.alert, ok)
			if tc.alert {
				assert.Equal(t, tc.expected, alert.Kind)
				assert.Equal(t, "kiosk-1", alert.DeviceID)
				assert.Equal(t, "est-1", alert.EstablishmentID)
				assert.Equal(t, tc.next, alert.Status)
			}
		})
	}
}
