package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parkflow/internal/protocol"
	"parkflow/parking"
)

const eventBuffer = 32

// Subscriber maintains one logical connection to the push channel for the
// driver-session lifetime: it subscribes to the broadcast topic and the
// driver-scoped topic, funnels both into a single event stream, and
// reconnects with a fixed delay whenever the transport drops. Malformed
// payloads are logged and dropped; the channel keeps running.
type Subscriber struct {
	url            string
	reconnectDelay time.Duration
	heartbeat      time.Duration
	logger         *zap.Logger
	dialer         *websocket.Dialer

	connected atomic.Bool
	events    chan *parking.Event

	mu       sync.Mutex
	running  bool
	closed   bool
	driverID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSubscriber builds a subscriber for the given websocket URL.
func NewSubscriber(url string, reconnectDelay, heartbeat time.Duration, logger *zap.Logger) *Subscriber {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Subscriber{
		url:            url,
		reconnectDelay: reconnectDelay,
		heartbeat:      heartbeat,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		events:         make(chan *parking.Event, eventBuffer),
	}
}

// Events is the inbound stream the reconciler drains. Closed by Disconnect.
func (s *Subscriber) Events() <-chan *parking.Event {
	return s.events
}

// Connected reports current transport state.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Connect dials the channel and subscribes to both topics. The first dial
// is synchronous so the caller learns whether the channel is reachable;
// after that, reconnection is automatic. Calling Connect while already
// connected is a no-op (guards against duplicate subscriptions). A
// subscriber that was disconnected stays closed; build a new one to
// reconnect.
func (s *Subscriber) Connect(ctx context.Context, driverID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("stream: subscriber is closed")
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}

	conn, err := s.dial(ctx, driverID)
	if err != nil {
		s.mu.Unlock()
		return parking.NewConnectivity("push channel unreachable", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.driverID = driverID
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx, conn, driverID)
	return nil
}

// Disconnect sends UNSUBSCRIBE for both topics, tears down the transport
// and closes the event stream. Always safe to call, including when never
// connected. The subscriber cannot be reused afterwards.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.closed = true
		s.mu.Unlock()
		return
	}
	s.running = false
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	close(s.events)
}

func (s *Subscriber) dial(ctx context.Context, driverID string) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	for _, topic := range []string{protocol.TopicParkingEvents, protocol.DriverTopic(driverID)} {
		frame, err := protocol.BuildSubscribe(topic)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn.SetWriteDeadline(time.Now().Add(s.heartbeat))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s.connected.Store(true)
	s.logger.Info("push channel connected", zap.String("url", s.url))
	return conn, nil
}

// run owns the connection lifecycle: read until failure, then redial after
// a fixed delay until cancelled.
func (s *Subscriber) run(ctx context.Context, conn *websocket.Conn, driverID string) {
	defer close(s.done)

	for {
		if conn != nil {
			s.readPump(ctx, conn)
			s.connected.Store(false)
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}

		var err error
		conn, err = s.dial(ctx, driverID)
		if err != nil {
			s.logger.Warn("push channel reconnect failed, will retry",
				zap.Duration("delay", s.reconnectDelay), zap.Error(err))
			conn = nil
		}
	}
}

func (s *Subscriber) readPump(ctx context.Context, conn *websocket.Conn) {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.pingLoop(pingCtx, conn)
	}()
	go func() {
		// The ping loop owns writes while the pump runs. Wait it out
		// before the farewell frames, then close to unblock ReadMessage.
		<-pingCtx.Done()
		<-pingDone
		if ctx.Err() != nil {
			s.sendUnsubscribes(conn)
		}
		conn.Close()
	}()

	deadline := 2*s.heartbeat + 10*time.Second
	conn.SetReadLimit(1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Info("push channel read closed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		frame, err := protocol.ParseFrame(message)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if frame.Type != protocol.FrameMessage {
			continue
		}

		event, err := protocol.ParseEvent(frame)
		if err != nil {
			s.logger.Warn("dropping malformed event", zap.String("topic", frame.Topic), zap.Error(err))
			continue
		}

		select {
		case s.events <- event:
		default:
			s.logger.Warn("event buffer full, dropping event",
				zap.String("event", string(event.Event)),
				zap.Int64("reservation_id", event.ReservationID.Int64()))
		}
	}
}

// sendUnsubscribes tells the server we are leaving both topics on a clean
// disconnect. Best-effort: the socket is about to close either way.
func (s *Subscriber) sendUnsubscribes(conn *websocket.Conn) {
	for _, topic := range []string{protocol.TopicParkingEvents, protocol.DriverTopic(s.driverID)} {
		frame, err := protocol.BuildUnsubscribe(topic)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.heartbeat))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}
