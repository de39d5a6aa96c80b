package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/internal/model"
)

// AlertKind classifies a device alert.
type AlertKind string

const (
	AlertDegraded  AlertKind = "degraded"
	AlertRecovered AlertKind = "recovered"
	AlertOffline   AlertKind = "offline"
)

// Alert is one notification job.
type Alert struct {
	Kind            AlertKind               `json:"kind"`
	DeviceID        string                  `json:"device_id"`
	EstablishmentID string                  `json:"establishment_id"`
	Status          model.OperationalStatus `json:"status,omitempty"`
	LastSeenAt      *time.Time              `json:"last_seen,omitempty"`
}

// StatusAlert reports whether moving from prev to next deserves an alert:
// entering WARN or ERROR, switching between them, or returning to OK from
// either. A device's first heartbeat only alerts when it is already unhealthy.
func StatusAlert(d *model.Device, prev *model.OperationalStatus, next model.OperationalStatus) (Alert, bool) {
	unhealthy := func(s model.OperationalStatus) bool {
		return s == model.StatusWarn || s == model.StatusError
	}

	alert := Alert{DeviceID: d.DeviceID, EstablishmentID: d.EstablishmentID, Status: next, LastSeenAt: d.LastSeenAt}
	switch {
	case prev != nil && *prev == next:
		return Alert{}, false
	case unhealthy(next):
		alert.Kind = AlertDegraded
		return alert, true
	case next == model.StatusOK && prev != nil && unhealthy(*prev):
		alert.Kind = AlertRecovered
		return alert, true
	}
	return Alert{}, false
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the part of the store the workers need.
type SubscriptionStore interface {
	SubscriptionsForEstablishment(ctx context.Context, establishmentID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool manages a pool of workers for sending alerts.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size*16), // Buffered channel
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("alert worker started")
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendAlert(ctx, alert)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("alert worker shutting down")
			return
		}
	}
}

// Dispatch queues an alert, blocking while the queue is full or until ctx ends.
func (wp *WorkerPool) Dispatch(ctx context.Context, alert Alert) {
	select {
	case wp.jobs <- alert:
	case <-ctx.Done():
	}
}

// TryDispatch queues an alert without blocking. Request handlers use it so a
// slow push service never delays a device response.
func (wp *WorkerPool) TryDispatch(alert Alert) bool {
	select {
	case wp.jobs <- alert:
		return true
	default:
		log.Warn().Str("device_id", alert.DeviceID).Str("kind", string(alert.Kind)).Msg("alert queue full; dropping alert")
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Alert {
	return wp.jobs
}

func alertMessage(a Alert) ([]byte, error) {
	var title string
	switch a.Kind {
	case AlertDegraded:
		title = fmt.Sprintf("Device %s reports %s", a.DeviceID, a.Status)
	case AlertRecovered:
		title = fmt.Sprintf("Device %s is back to OK", a.DeviceID)
	case AlertOffline:
		title = fmt.Sprintf("Device %s stopped reporting", a.DeviceID)
	default:
		title = fmt.Sprintf("Device %s", a.DeviceID)
	}
	return json.Marshal(struct {
		Title string `json:"title"`
		Alert
	}{Title: title, Alert: a})
}

// sendAlert fetches the establishment's subscriptions and notifies each one.
func (wp *WorkerPool) sendAlert(ctx context.Context, alert Alert) {
	subscriptions, err := wp.store.SubscriptionsForEstablishment(ctx, alert.EstablishmentID)
	if err != nil {
		log.Error().Err(err).Str("establishment_id", alert.EstablishmentID).Msg("failed to fetch alert subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := alertMessage(alert)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode alert")
		return
	}

	log.Info().
		Int("subscriptions", len(subscriptions)).
		Str("device_id", alert.DeviceID).
		Str("kind", string(alert.Kind)).
		Msg("sending device alert")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired; deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
