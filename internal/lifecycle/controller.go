package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkflow/internal/api"
	"parkflow/internal/billing"
	"parkflow/parking"
)

// Backend is the slice of the REST client the controller calls.
type Backend interface {
	CreateReservation(ctx context.Context, req api.ReservationRequest) (*api.ReservationResponse, error)
	CancelReservation(ctx context.Context, reservationID int64) error
	ReservationStatus(ctx context.Context, reservationID int64) (*api.ReservationResponse, error)
	ListReservations(ctx context.Context, driverID string) ([]api.ReservationResponse, error)
}

// SessionStore is the slice of the state store the controller mutates.
type SessionStore interface {
	Active() (parking.Session, bool)
	PlaceReserved(session parking.Session) bool
	Activate(reservationID int64, startTime time.Time) (parking.Session, bool)
	Complete(reservationID int64, endTime time.Time, totalCost float64) (parking.Session, bool)
	Release(reservationID int64) (parking.Session, bool)
	MergeHistory(sessions []parking.Session) int
}

// SpotCatalog is the availability cache the controller updates optimistically.
type SpotCatalog interface {
	MarkBooked(zoneID, spotID int64)
	MarkFree(zoneID int64, spotNumber string)
}

// Controller orchestrates booking, cancellation, manual stop and the
// auto-expiry of reservations no vehicle ever arrived for.
type Controller struct {
	backend  Backend
	store    SessionStore
	catalog  SpotCatalog
	driverID string
	logger   *zap.Logger

	expiryDelay time.Duration
	window      time.Duration
	now         func() time.Time

	// onExpired tells the host a reservation was cancelled automatically.
	onExpired func(parking.Session)

	mu          sync.Mutex
	expiryTimer *time.Timer
}

// Options tune the controller.
type Options struct {
	ExpiryDelay time.Duration
	Window      time.Duration
	OnExpired   func(parking.Session)
}

// New builds a controller.
func New(backend Backend, store SessionStore, catalog SpotCatalog, driverID string, opts Options, logger *zap.Logger) *Controller {
	if opts.ExpiryDelay <= 0 {
		opts.ExpiryDelay = 10 * time.Minute
	}
	if opts.Window <= 0 {
		opts.Window = 2 * time.Hour
	}
	return &Controller{
		backend:     backend,
		store:       store,
		catalog:     catalog,
		driverID:    driverID,
		logger:      logger,
		expiryDelay: opts.ExpiryDelay,
		window:      opts.Window,
		now:         time.Now,
		onExpired:   opts.OnExpired,
	}
}

// Book reserves a spot. The single active-session invariant is checked
// before any backend call; on backend failure nothing local changes.
func (c *Controller) Book(ctx context.Context, zone parking.Zone, spot parking.Spot, hourlyRate float64) (parking.Session, error) {
	if _, ok := c.store.Active(); ok {
		return parking.Session{}, parking.NewReservationConflict("a session is already reserved or active")
	}

	now := c.now()
	resp, err := c.backend.CreateReservation(ctx, api.ReservationRequest{
		SpotID:    spot.ID,
		DriverID:  c.driverID,
		StartTime: now.UTC().Format(time.RFC3339),
		EndTime:   now.Add(c.window).UTC().Format(time.RFC3339),
	})
	if err != nil {
		return parking.Session{}, err
	}

	session := parking.Session{
		ID:            "session-" + uuid.NewString(),
		ZoneID:        zone.ID,
		ZoneName:      zone.Name,
		SpotNumber:    spot.SpotNumber,
		HourlyRate:    hourlyRate,
		SpotID:        resp.SpotID,
		ReservationID: resp.ID.Int64(),
		Status:        parking.StatusReserved,
	}

	// The slot may have been taken while the backend call was in flight;
	// never blindly overwrite it.
	if !c.store.PlaceReserved(session) {
		c.logger.Warn("session slot taken during booking, cancelling reservation",
			zap.Int64("reservation_id", session.ReservationID))
		c.cancelBackend(session.ReservationID)
		return parking.Session{}, parking.NewReservationConflict("a session appeared while booking was in flight")
	}

	c.catalog.MarkBooked(zone.ID, spot.ID)
	c.armExpiry(session)

	c.logger.Info("spot reserved",
		zap.Int64("reservation_id", session.ReservationID),
		zap.String("spot_number", session.SpotNumber),
		zap.String("zone_name", session.ZoneName))
	return session, nil
}

// Cancel aborts a reserved session before entry. Backend failure leaves
// the session untouched so the user can retry.
func (c *Controller) Cancel(ctx context.Context) error {
	session, ok := c.store.Active()
	if !ok {
		return parking.NewCancellation("no session to cancel")
	}
	if session.Status != parking.StatusReserved {
		return parking.NewCancellation("only reserved sessions can be cancelled")
	}
	if session.ReservationID == 0 {
		return parking.NewCancellation("reservation identity missing")
	}

	if err := c.backend.CancelReservation(ctx, session.ReservationID); err != nil {
		return err
	}

	// Entry may have been detected while the cancel call was in flight; the
	// compare-and-set keeps us from clearing an active session.
	released, ok := c.store.Release(session.ReservationID)
	if !ok {
		c.logger.Warn("session moved on during cancellation",
			zap.Int64("reservation_id", session.ReservationID))
		return nil
	}

	c.stopExpiry()
	c.catalog.MarkFree(released.ZoneID, released.SpotNumber)
	c.logger.Info("reservation cancelled", zap.Int64("reservation_id", released.ReservationID))
	return nil
}

// Stop ends an active session manually. Exit detection can fail at the
// hardware level, so the user always has this escape hatch. The final cost
// comes from the cost calculator with "now" as end time.
func (c *Controller) Stop(ctx context.Context) (parking.Session, error) {
	session, ok := c.store.Active()
	if !ok {
		return parking.Session{}, parking.NewCancellation("no session to stop")
	}
	if session.Status != parking.StatusActive || session.StartTime == nil {
		return parking.Session{}, parking.NewCancellation("only active sessions can be stopped")
	}

	endTime := c.now()
	cost := billing.Cost(*session.StartTime, endTime, session.HourlyRate)

	completed, ok := c.store.Complete(session.ReservationID, endTime, cost)
	if !ok {
		return parking.Session{}, parking.NewCancellation("session changed while stopping")
	}

	c.catalog.MarkFree(completed.ZoneID, completed.SpotNumber)
	c.logger.Info("session stopped manually",
		zap.Int64("reservation_id", completed.ReservationID),
		zap.Float64("total_cost", completed.TotalCost))
	return completed, nil
}

// Resync pulls the backend view of the active session's reservation and
// reconciles local state with it. Local state stays authoritative for the
// running timer; this only resolves divergence after missed events.
func (c *Controller) Resync(ctx context.Context) error {
	session, ok := c.store.Active()
	if !ok || session.ReservationID == 0 {
		return nil
	}

	resp, err := c.backend.ReservationStatus(ctx, session.ReservationID)
	if err != nil {
		return err
	}

	switch resp.Status {
	case api.ReservationCancelled:
		if released, ok := c.store.Release(session.ReservationID); ok {
			c.stopExpiry()
			c.catalog.MarkFree(released.ZoneID, released.SpotNumber)
			c.logger.Info("backend cancelled reservation, cleared local session",
				zap.Int64("reservation_id", session.ReservationID))
		}
	case api.ReservationActive:
		if session.Status == parking.StatusReserved {
			start := c.now()
			if t, err := time.Parse(time.RFC3339, resp.StartTime); err == nil {
				start = t
			}
			if _, ok := c.store.Activate(session.ReservationID, start); ok {
				c.logger.Info("backend reports entry, session activated",
					zap.Int64("reservation_id", session.ReservationID))
			}
		}
	case api.ReservationCompleted:
		if session.Status == parking.StatusActive && session.StartTime != nil {
			end := c.now()
			if t, err := time.Parse(time.RFC3339, resp.EndTime); err == nil {
				end = t
			}
			cost := billing.Cost(*session.StartTime, end, session.HourlyRate)
			if completed, ok := c.store.Complete(session.ReservationID, end, cost); ok {
				c.catalog.MarkFree(completed.ZoneID, completed.SpotNumber)
				c.logger.Info("backend reports exit, session completed",
					zap.Int64("reservation_id", session.ReservationID))
			}
		}
	}
	return nil
}

// RefreshHistory merges the driver's completed backend reservations into
// local history. Locally completed sessions already in history win on
// conflicting reservation ids.
func (c *Controller) RefreshHistory(ctx context.Context) (int, error) {
	reservations, err := c.backend.ListReservations(ctx, c.driverID)
	if err != nil {
		return 0, err
	}

	sessions := make([]parking.Session, 0, len(reservations))
	for _, r := range reservations {
		if r.Status != api.ReservationCompleted {
			continue
		}
		session := parking.Session{
			ID:            "session-" + uuid.NewString(),
			SpotNumber:    r.SpotNumber,
			SpotID:        r.SpotID,
			ReservationID: r.ID.Int64(),
			Status:        parking.StatusCompleted,
		}
		if t, err := time.Parse(time.RFC3339, r.StartTime); err == nil {
			session.StartTime = &t
		}
		if t, err := time.Parse(time.RFC3339, r.EndTime); err == nil {
			session.EndTime = &t
		}
		sessions = append(sessions, session)
	}
	return c.store.MergeHistory(sessions), nil
}

// ResumeExpiry re-arms the auto-expiry timer for a reserved session
// restored from the mirror. The full delay starts over; the original
// booking instant is not persisted.
func (c *Controller) ResumeExpiry(session parking.Session) {
	if session.Status != parking.StatusReserved || session.ReservationID == 0 {
		return
	}
	c.armExpiry(session)
}

// Close cancels the expiry timer. Safe to call at any point of teardown.
func (c *Controller) Close() {
	c.stopExpiry()
}

func (c *Controller) armExpiry(session parking.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	reservationID := session.ReservationID
	c.expiryTimer = time.AfterFunc(c.expiryDelay, func() {
		c.expire(reservationID)
	})
}

func (c *Controller) stopExpiry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}

// expire fires when no entry was detected within the expiry delay. The
// release is a compare-and-set on status and reservation identity, so a
// timer that outlived its reservation is a no-op.
func (c *Controller) expire(reservationID int64) {
	released, ok := c.store.Release(reservationID)
	if !ok {
		return
	}

	// The local slot is already cleared even if the backend cancel fails:
	// a stuck UI is worse than a reservation the backend expires itself.
	c.cancelBackend(reservationID)
	c.catalog.MarkFree(released.ZoneID, released.SpotNumber)

	c.logger.Info("reservation expired, no vehicle detected",
		zap.Int64("reservation_id", reservationID),
		zap.String("spot_number", released.SpotNumber))

	if c.onExpired != nil {
		c.onExpired(released)
	}
}

func (c *Controller) cancelBackend(reservationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.backend.CancelReservation(ctx, reservationID); err != nil {
		c.logger.Warn("backend cancellation failed",
			zap.Int64("reservation_id", reservationID), zap.Error(err))
	}
}
