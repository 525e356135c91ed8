// Package client is the embeddable parking-session client. It ties the
// catalog, booking lifecycle, push channel and cost meter together behind
// one facade the host application drives.
package client

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkflow/config"
	"parkflow/internal/api"
	"parkflow/internal/auth"
	"parkflow/internal/billing"
	"parkflow/internal/catalog"
	"parkflow/internal/lifecycle"
	"parkflow/internal/reconcile"
	"parkflow/internal/store"
	"parkflow/internal/stream"
	"parkflow/libs/logging"
	libredis "parkflow/libs/redis"
	"parkflow/parking"
)

// Callbacks are how the host UI observes the client. All callbacks are
// optional and invoked from client goroutines; keep them fast.
type Callbacks struct {
	// OnSessionChange fires after every state mutation with the current
	// active session (nil when none) and the history list.
	OnSessionChange func(active *parking.Session, history []parking.Session)
	// OnTick fires once per second while a session is active.
	OnTick func(billing.Snapshot)
	// OnExpired fires when a reservation was auto-cancelled because no
	// vehicle arrived within the expiry delay.
	OnExpired func(parking.Session)
}

// Client is the embedded parking client for a single driver.
type Client struct {
	cfg      *config.Config
	logger   *zap.Logger
	driverID string

	backend    *api.Client
	catalog    *catalog.Cache
	sessions   *store.SessionStore
	mirror     *store.Mirror
	redis      *goredis.Client
	subscriber *stream.Subscriber
	reconciler *reconcile.Reconciler
	controller *lifecycle.Controller
	meter      *billing.Meter
	callbacks  Callbacks

	mu        sync.Mutex
	metering  bool
	drainDone chan struct{}
}

// New wires the client. logger may be nil; a default JSON logger is built
// then. When a Redis address is configured, a previously persisted active
// session and history are restored for the driver.
func New(cfg *config.Config, cb Callbacks, logger *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()

	if logger == nil {
		l, err := logging.NewLogger()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	driverID := cfg.Driver.ID
	if driverID == "" {
		id, err := auth.DriverIDFromToken(cfg.Driver.Token)
		if err != nil {
			return nil, err
		}
		driverID = id
	}

	backend := api.NewClient(cfg.Backend.BaseURL, cfg.Driver.Token, cfg.Backend.Timeout, logger)
	sessions := store.NewSessionStore()
	spotCatalog := catalog.NewCache(backend, logger)

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		driverID:   driverID,
		backend:    backend,
		catalog:    spotCatalog,
		sessions:   sessions,
		meter:      billing.NewMeter(time.Second),
		callbacks:  cb,
		subscriber: stream.NewSubscriber(cfg.Stream.URL, cfg.Stream.ReconnectDelay, cfg.Stream.Heartbeat, logger),
	}

	c.reconciler = reconcile.New(sessions, spotCatalog, backend, driverID, logger)
	c.controller = lifecycle.New(backend, sessions, spotCatalog, driverID, lifecycle.Options{
		ExpiryDelay: cfg.Reservation.ExpiryDelay,
		Window:      cfg.Reservation.Window,
		OnExpired:   cb.OnExpired,
	}, logger)

	sessions.Subscribe(c.onStoreChange)

	if cfg.Redis.Addr != "" {
		redisClient, err := libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		c.redis = redisClient
		c.mirror = store.NewMirror(redisClient, cfg.ActiveSessionTTL())
		c.restore()
	}

	return c, nil
}

// Connect establishes the push channel and starts draining sensor events
// into the reconciler. Idempotent.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.subscriber.Connect(ctx, c.driverID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.drainDone == nil {
		done := make(chan struct{})
		c.drainDone = done
		go func() {
			defer close(done)
			for event := range c.subscriber.Events() {
				c.reconciler.Handle(event)
			}
		}()
	}
	c.mu.Unlock()
	return nil
}

// Close tears everything down: channel, timers, meter, redis. Safe to call
// without a prior Connect. The client cannot be reused afterwards; build a
// new one to reconnect.
func (c *Client) Close() {
	c.subscriber.Disconnect()

	c.mu.Lock()
	done := c.drainDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	c.controller.Close()
	c.meter.Stop()
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// Connected reports push channel state for display.
func (c *Client) Connected() bool { return c.subscriber.Connected() }

// Session returns the current active session, if any.
func (c *Client) Session() (parking.Session, bool) { return c.sessions.Active() }

// History returns completed sessions, most recent first.
func (c *Client) History() []parking.Session { return c.sessions.History() }

// Zones lists parking zones for the map, cached after first fetch.
func (c *Client) Zones(ctx context.Context) ([]parking.Zone, error) {
	return c.catalog.Zones(ctx)
}

// Spots lists a zone's spots, memoized per zone.
func (c *Client) Spots(ctx context.Context, zoneID int64) ([]parking.Spot, error) {
	return c.catalog.Spots(ctx, zoneID)
}

// Book reserves a spot and arms the auto-expiry timer.
func (c *Client) Book(ctx context.Context, zone parking.Zone, spot parking.Spot, hourlyRate float64) (parking.Session, error) {
	return c.controller.Book(ctx, zone, spot, hourlyRate)
}

// Cancel aborts the reserved session.
func (c *Client) Cancel(ctx context.Context) error {
	return c.controller.Cancel(ctx)
}

// Stop ends the active session manually when exit detection never arrives.
func (c *Client) Stop(ctx context.Context) (parking.Session, error) {
	return c.controller.Stop(ctx)
}

// Resync reconciles local state against the backend's reservation view.
func (c *Client) Resync(ctx context.Context) error {
	return c.controller.Resync(ctx)
}

// RefreshHistory merges the driver's completed backend reservations into
// local history and returns how many were added.
func (c *Client) RefreshHistory(ctx context.Context) (int, error) {
	return c.controller.RefreshHistory(ctx)
}

// onStoreChange runs after every store mutation: it manages the live cost
// meter, mirrors state to redis, and forwards the change to the host.
func (c *Client) onStoreChange(active *parking.Session, history []parking.Session) {
	c.mu.Lock()
	isActive := active != nil && active.Status == parking.StatusActive && active.StartTime != nil
	wasMetering := c.metering
	c.metering = isActive
	c.mu.Unlock()

	if isActive && !wasMetering {
		onTick := c.callbacks.OnTick
		if onTick == nil {
			onTick = func(billing.Snapshot) {}
		}
		c.meter.Start(*active.StartTime, active.HourlyRate, onTick)
	} else if !isActive && wasMetering {
		c.meter.Stop()
	}

	if c.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.mirror.SaveActive(ctx, c.driverID, active); err != nil {
			c.logger.Warn("failed to mirror active session", zap.Error(err))
		}
		if err := c.mirror.SaveHistory(ctx, c.driverID, history); err != nil {
			c.logger.Warn("failed to mirror history", zap.Error(err))
		}
		cancel()
	}

	if c.callbacks.OnSessionChange != nil {
		c.callbacks.OnSessionChange(active, history)
	}
}

// restore loads mirrored state on startup.
func (c *Client) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if history, err := c.mirror.LoadHistory(ctx, c.driverID); err != nil {
		c.logger.Warn("failed to restore history", zap.Error(err))
	} else if len(history) > 0 {
		c.sessions.MergeHistory(history)
	}

	session, err := c.mirror.LoadActive(ctx, c.driverID)
	if err != nil {
		c.logger.Warn("failed to restore active session", zap.Error(err))
		return
	}
	if session == nil {
		return
	}
	if c.sessions.Restore(*session) {
		c.controller.ResumeExpiry(*session)
		c.logger.Info("restored active session",
			zap.Int64("reservation_id", session.ReservationID),
			zap.String("status", string(session.Status)))
	}
}
