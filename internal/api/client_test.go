package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"parkflow/parking"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-token", 2*time.Second, zaptest.NewLogger(t)), server
}

func TestZones(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/zones", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]ZoneResponse{
			{ID: 1, Name: "Place Moulay El Mehdi", Latitude: 35.57, Longitude: -5.37, HourlyRate: 5, Capacity: 20},
		})
	}))

	zones, err := client.Zones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "Place Moulay El Mehdi", zones[0].Name)
	assert.Equal(t, 5.0, zones[0].HourlyRate)
}

func TestZoneSpots(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zones/3/spots", r.URL.Path)
		w.Write([]byte(`[{"id":7,"spotNumber":"A05","status":true,"sensorId":"s-7","zone":{"id":3,"name":"Feddan Park","hourlyRate":4.5}}]`))
	}))

	spots, err := client.ZoneSpots(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "A05", spots[0].SpotNumber)
	assert.True(t, spots[0].Status)
	assert.Equal(t, int64(3), spots[0].Zone.ID)
}

func TestCreateReservation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reservations/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ReservationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(7), req.SpotID)
		assert.Equal(t, "driver-1", req.DriverID)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         "42",
			"spotId":     req.SpotID,
			"spotNumber": "A05",
			"driverId":   req.DriverID,
			"startTime":  req.StartTime,
			"endTime":    req.EndTime,
			"status":     ReservationPending,
		})
	}))

	resp, err := client.CreateReservation(context.Background(), ReservationRequest{
		SpotID:    7,
		DriverID:  "driver-1",
		StartTime: "2025-06-01T10:00:00Z",
		EndTime:   "2025-06-01T12:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ID.Int64(), "string ids normalize at the boundary")
	assert.Equal(t, ReservationPending, resp.Status)
}

func TestCancelReservation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reservations/42/cancel", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, client.CancelReservation(context.Background(), 42))
}

func TestConfirmEntry(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sensors/entry-confirm", r.URL.Path)
		var req EntryConfirmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.ReservationID)
		assert.Equal(t, "driver-1", req.DriverID)
		w.WriteHeader(http.StatusOK)
	}))

	err := client.ConfirmEntry(context.Background(), EntryConfirmRequest{ReservationID: 42, DriverID: "driver-1"})
	assert.NoError(t, err)
}

func TestListReservations(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reservations/user/driver-1", r.URL.Path)
		w.Write([]byte(`[{"id":10,"status":"COMPLETED"},{"id":11,"status":"CANCELLED"}]`))
	}))

	reservations, err := client.ListReservations(context.Background(), "driver-1")
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	assert.Equal(t, ReservationCompleted, reservations[0].Status)
}

func TestNonSuccessBecomesBackendError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "spot already reserved", http.StatusConflict)
	}))

	_, err := client.CreateReservation(context.Background(), ReservationRequest{})
	require.Error(t, err)
	assert.True(t, parking.IsCode(err, parking.CodeBackend))
	assert.Contains(t, err.Error(), "409")
}

func TestUnreachableBackendBecomesConnectivityError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", time.Second, zaptest.NewLogger(t))

	_, err := client.Zones(context.Background())
	require.Error(t, err)
	assert.True(t, parking.IsCode(err, parking.CodeConnectivity))
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, zaptest.NewLogger(t))
	_, err := client.Zones(context.Background())
	assert.NoError(t, err)
}
