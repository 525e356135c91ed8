package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parkflow/internal/api"
	"parkflow/parking"
)

// SessionStore is the slice of the state store the reconciler mutates.
// Transitions are compare-and-set: they apply only when the current status
// and reservation identity match, which is what makes duplicate and
// out-of-order events safe to feed in arrival order.
type SessionStore interface {
	Active() (parking.Session, bool)
	Activate(reservationID int64, startTime time.Time) (parking.Session, bool)
	Complete(reservationID int64, endTime time.Time, totalCost float64) (parking.Session, bool)
}

// SpotCatalog is the availability cache updated as a side effect.
type SpotCatalog interface {
	MarkOccupied(zoneID int64, spotNumber string)
	MarkFree(zoneID int64, spotNumber string)
}

// EntryConfirmer issues the best-effort entry confirmation to the backend.
type EntryConfirmer interface {
	ConfirmEntry(ctx context.Context, req api.EntryConfirmRequest) error
}

// Reconciler matches inbound sensor events against the active session and
// drives its state machine. Events that match nothing are expected traffic
// (other drivers on the broadcast topic, late events for finished
// sessions); they are logged and dropped, never errors.
type Reconciler struct {
	store    SessionStore
	catalog  SpotCatalog
	confirm  EntryConfirmer
	driverID string
	logger   *zap.Logger
	now      func() time.Time

	confirmTimeout time.Duration
}

// New builds a reconciler. catalog and confirm may be nil in tests.
func New(store SessionStore, catalog SpotCatalog, confirm EntryConfirmer, driverID string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:          store,
		catalog:        catalog,
		confirm:        confirm,
		driverID:       driverID,
		logger:         logger,
		now:            time.Now,
		confirmTimeout: 5 * time.Second,
	}
}

// Handle applies one event against current state. Events are processed
// synchronously in arrival order; the transition table decides everything,
// not the order they were sent in.
func (r *Reconciler) Handle(event *parking.Event) {
	if event == nil {
		return
	}

	session, ok := r.store.Active()
	if !ok {
		r.logger.Debug("event without active session, ignoring",
			zap.String("event", string(event.Event)),
			zap.Int64("reservation_id", event.ReservationID.Int64()))
		return
	}

	switch event.Event {
	case parking.EventEntryDetected:
		r.handleEntry(session, event)
	case parking.EventExitDetected:
		r.handleExit(session, event)
	default:
		r.logger.Debug("unknown event type, ignoring", zap.String("event", string(event.Event)))
	}
}

func (r *Reconciler) handleEntry(session parking.Session, event *parking.Event) {
	reservationID := event.ReservationID.Int64()

	if session.Status == parking.StatusActive && session.ReservationID == reservationID {
		// Duplicate delivery after the transition already happened.
		r.logger.Debug("entry already applied", zap.Int64("reservation_id", reservationID))
		return
	}

	startTime := r.now()
	if event.StartTime != nil {
		startTime = *event.StartTime
	}

	updated, ok := r.store.Activate(reservationID, startTime)
	if !ok {
		r.logger.Debug("entry event did not match session",
			zap.Int64("event_reservation_id", reservationID),
			zap.Int64("session_reservation_id", session.ReservationID),
			zap.String("session_status", string(session.Status)))
		return
	}

	r.logger.Info("entry detected, session active",
		zap.Int64("reservation_id", reservationID),
		zap.String("spot_number", updated.SpotNumber),
		zap.Time("start_time", startTime))

	if r.catalog != nil {
		r.catalog.MarkOccupied(updated.ZoneID, updated.SpotNumber)
	}

	// Best-effort: local state is the source of truth for UI
	// responsiveness, a failed confirmation never rolls the transition back.
	if r.confirm != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.confirmTimeout)
			defer cancel()
			_ = r.confirm.ConfirmEntry(ctx, api.EntryConfirmRequest{
				ReservationID: reservationID,
				DriverID:      r.driverID,
			})
		}()
	}
}

func (r *Reconciler) handleExit(session parking.Session, event *parking.Event) {
	reservationID := event.ReservationID.Int64()

	endTime := r.now()
	if event.EndTime != nil {
		endTime = *event.EndTime
	}

	completed, ok := r.store.Complete(reservationID, endTime, event.TotalCost)
	if !ok {
		// Late or stale exits (session cancelled, already completed, id
		// mismatch) land here. Expected, not an error.
		r.logger.Debug("exit event did not match session",
			zap.Int64("event_reservation_id", reservationID),
			zap.Int64("session_reservation_id", session.ReservationID),
			zap.String("session_status", string(session.Status)))
		return
	}

	r.logger.Info("exit detected, session completed",
		zap.Int64("reservation_id", reservationID),
		zap.Float64("total_cost", completed.TotalCost),
		zap.Time("end_time", endTime))

	if r.catalog != nil {
		r.catalog.MarkFree(completed.ZoneID, completed.SpotNumber)
	}
}
