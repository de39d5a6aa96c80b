package sweeper

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"kiosk-device-backend/config"
	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/notification"
)

// alertedTTL bounds how long a silent spell is remembered.
const alertedTTL = 24 * time.Hour

// DeviceLister is the part of the store the sweeper reads.
type DeviceLister interface {
	ListSilent(ctx context.Context, before time.Time) ([]model.Device, error)
}

// Dispatcher queues alerts for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert notification.Alert)
}

// Service periodically looks for devices that stopped sending heartbeats.
// It only reads device rows.
type Service struct {
	cfg     config.SweeperConfig
	store   DeviceLister
	alerts  Dispatcher
	alerted *gocache.Cache
	now     func() time.Time
}

// NewService creates a sweeper.
func NewService(cfg config.SweeperConfig, store DeviceLister, alerts Dispatcher) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		alerts:  alerts,
		alerted: gocache.New(alertedTTL, alertedTTL/2),
		now:     time.Now,
	}
}

// Run sweeps once immediately and then on every interval until ctx ends.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Info().Msg("offline sweeper is disabled; not starting")
		return
	}
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("offline_after", s.cfg.OfflineAfter).
		Msg("starting offline sweeper")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("offline sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce dispatches an offline alert for every device silent longer than
// the configured threshold, at most once per silent spell. It returns the
// number of alerts dispatched.
func (s *Service) SweepOnce(ctx context.Context) int {
	cutoff := s.now().UTC().Add(-s.cfg.OfflineAfter)
	devices, err := s.store.ListSilent(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("offline sweep failed")
		return 0
	}

	sent := 0
	for i := range devices {
		d := &devices[i]
		key := spellKey(d)
		if _, seen := s.alerted.Get(key); seen {
			continue
		}
		s.alerted.SetDefault(key, struct{}{})

		log.Warn().
			Str("device_id", d.DeviceID).
			Str("establishment_id", d.EstablishmentID).
			Time("last_seen", *d.LastSeenAt).
			Msg("device went silent")
		s.alerts.Dispatch(ctx, notification.Alert{
			Kind:            notification.AlertOffline,
			DeviceID:        d.DeviceID,
			EstablishmentID: d.EstablishmentID,
			LastSeenAt:      d.LastSeenAt,
		})
		sent++
	}
	if sent > 0 {
		log.Info().Int("alerts", sent).Msg("offline sweep dispatched alerts")
	}
	return sent
}

// spellKey identifies one silent spell: a later heartbeat moves last_seen and
// so starts a new one.
func spellKey(d *model.Device) string {
	return d.DeviceID + "|" + strconv.FormatInt(d.LastSeenAt.UnixMilli(), 10)
}
