package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"parkflow/config"
	"parkflow/internal/protocol"
	"parkflow/parking"
)

// backendHarness fakes the parking backend: REST endpoints plus the push
// channel websocket, on a single test server.
type backendHarness struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu             sync.Mutex
	conns          []*websocket.Conn
	nextID         int64
	confirmed      []int64
	cancelled      []int64
	reservations   map[int64]string
	listedByDriver []map[string]any
}

func newBackendHarness(t *testing.T) (*backendHarness, *httptest.Server) {
	h := &backendHarness{t: t, nextID: 101, reservations: map[int64]string{}}
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return h, server
}

func (h *backendHarness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/ws":
		h.serveWS(w, r)
	case r.URL.Path == "/reservations/create":
		h.mu.Lock()
		id := h.nextID
		h.nextID++
		h.reservations[id] = "PENDING"
		h.mu.Unlock()
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         id,
			"spotId":     req["spotId"],
			"spotNumber": "A05",
			"driverId":   req["driverId"],
			"status":     "PENDING",
		})
	case r.URL.Path == "/sensors/entry-confirm":
		var req struct {
			ReservationID int64 `json:"reservationId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		h.mu.Lock()
		h.confirmed = append(h.confirmed, req.ReservationID)
		h.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case strings.HasSuffix(r.URL.Path, "/cancel"):
		h.mu.Lock()
		h.cancelled = append(h.cancelled, 0)
		h.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(r.URL.Path, "/reservations/user/"):
		h.mu.Lock()
		listed := h.listedByDriver
		h.mu.Unlock()
		json.NewEncoder(w).Encode(listed)
	default:
		http.NotFound(w, r)
	}
}

func (h *backendHarness) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *backendHarness) pushEvent(event parking.Event) {
	payload, err := json.Marshal(event)
	require.NoError(h.t, err)
	frame, err := json.Marshal(protocol.Frame{
		Type:    protocol.FrameMessage,
		Topic:   protocol.TopicParkingEvents,
		Payload: payload,
	})
	require.NoError(h.t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.conns, "no push channel client connected")
	conn := h.conns[len(h.conns)-1]
	require.NoError(h.t, conn.WriteMessage(websocket.TextMessage, frame))
}

func (h *backendHarness) confirmedIDs() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.confirmed...)
}

type change struct {
	active  *parking.Session
	history []parking.Session
}

func testConfig(server *httptest.Server) *config.Config {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = server.URL
	cfg.Stream.URL = "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	cfg.Stream.ReconnectDelay = 20 * time.Millisecond
	cfg.Stream.Heartbeat = 50 * time.Millisecond
	cfg.Driver.ID = "driver-7"
	cfg.Reservation.ExpiryDelay = time.Hour
	return cfg
}

func waitForStatus(t *testing.T, changes <-chan change, status parking.SessionStatus) change {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-changes:
			if status == "" && ch.active == nil {
				return ch
			}
			if ch.active != nil && ch.active.Status == status {
				return ch
			}
		case <-deadline:
			t.Fatalf("never observed session status %q", status)
		}
	}
}

func TestFullSessionFlow(t *testing.T) {
	harness, server := newBackendHarness(t)
	cfg := testConfig(server)

	changes := make(chan change, 16)
	c, err := New(cfg, Callbacks{
		OnSessionChange: func(active *parking.Session, history []parking.Session) {
			changes <- change{active: active, history: history}
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.Connected())

	zone := parking.Zone{ID: 1, Name: "Downtown", HourlyRate: 6.0}
	spot := parking.Spot{ID: 5, SpotNumber: "A05", ZoneID: 1}
	session, err := c.Book(context.Background(), zone, spot, zone.HourlyRate)
	require.NoError(t, err)
	assert.Equal(t, parking.StatusReserved, session.Status)
	assert.Equal(t, int64(101), session.ReservationID)
	waitForStatus(t, changes, parking.StatusReserved)

	t0 := time.Now().UTC().Truncate(time.Second)
	harness.pushEvent(parking.Event{
		Event:         parking.EventEntryDetected,
		ReservationID: 101,
		DriverID:      "driver-7",
		StartTime:     &t0,
	})

	ch := waitForStatus(t, changes, parking.StatusActive)
	require.NotNil(t, ch.active.StartTime)
	assert.Equal(t, t0, ch.active.StartTime.UTC())

	require.Eventually(t, func() bool {
		return len(harness.confirmedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond, "entry confirmation never reached the backend")

	t1 := t0.Add(90 * time.Minute)
	harness.pushEvent(parking.Event{
		Event:         parking.EventExitDetected,
		ReservationID: 101,
		EndTime:       &t1,
		TotalCost:     9.0,
	})

	ch = waitForStatus(t, changes, "")
	require.Len(t, ch.history, 1)
	done := ch.history[0]
	assert.Equal(t, parking.StatusCompleted, done.Status)
	assert.Equal(t, 9.0, done.TotalCost)
	_, ok := c.Session()
	assert.False(t, ok)
}

func TestSecondBookingWhileSessionHeldFails(t *testing.T) {
	_, server := newBackendHarness(t)
	cfg := testConfig(server)

	c, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	zone := parking.Zone{ID: 1, Name: "Downtown", HourlyRate: 6.0}
	_, err = c.Book(context.Background(), zone, parking.Spot{ID: 5, SpotNumber: "A05", ZoneID: 1}, 6.0)
	require.NoError(t, err)

	_, err = c.Book(context.Background(), zone, parking.Spot{ID: 6, SpotNumber: "A06", ZoneID: 1}, 6.0)
	require.Error(t, err)
	assert.True(t, parking.IsCode(err, parking.CodeReservationConflict))
}

func TestDriverIdentityFromTokenWhenIDMissing(t *testing.T) {
	_, server := newBackendHarness(t)
	cfg := testConfig(server)
	cfg.Driver.ID = ""
	cfg.Driver.Token = "not-a-jwt"

	_, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestConnectAfterCloseFails(t *testing.T) {
	harness, server := newBackendHarness(t)
	cfg := testConfig(server)

	c, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	c.Close()

	// A closed client must refuse to reconnect rather than redial into a
	// closed event stream and crash on the next pushed event.
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.Connected())

	harness.mu.Lock()
	conns := len(harness.conns)
	harness.mu.Unlock()
	assert.Equal(t, 1, conns)
}

func TestRestoreFromRedisMirror(t *testing.T) {
	_, server := newBackendHarness(t)
	mr := miniredis.RunT(t)

	cfg := testConfig(server)
	cfg.Redis.Addr = mr.Addr()

	first, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	zone := parking.Zone{ID: 1, Name: "Downtown", HourlyRate: 6.0}
	booked, err := first.Book(context.Background(), zone, parking.Spot{ID: 5, SpotNumber: "A05", ZoneID: 1}, 6.0)
	require.NoError(t, err)
	first.Close()

	second, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(second.Close)

	restored, ok := second.Session()
	require.True(t, ok, "mirrored session survives a restart")
	assert.Equal(t, booked.ReservationID, restored.ReservationID)
	assert.Equal(t, parking.StatusReserved, restored.Status)
	assert.Equal(t, "A05", restored.SpotNumber)
}

func TestRefreshHistoryMergesBackendReservations(t *testing.T) {
	harness, server := newBackendHarness(t)
	harness.mu.Lock()
	harness.listedByDriver = []map[string]any{
		{"id": 55, "spotNumber": "B02", "status": "COMPLETED",
			"startTime": "2025-06-01T10:00:00Z", "endTime": "2025-06-01T12:00:00Z"},
		{"id": 56, "spotNumber": "B03", "status": "CANCELLED"},
	}
	harness.mu.Unlock()

	cfg := testConfig(server)
	c, err := New(cfg, Callbacks{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	added, err := c.RefreshHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added, "only completed reservations join history")

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, int64(55), history[0].ReservationID)
}
