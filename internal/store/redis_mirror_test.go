package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkflow/parking"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewMirror(client, time.Hour)
}

func TestMirrorActiveRoundTrip(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()

	loaded, err := mirror.LoadActive(ctx, "driver-1")
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty mirror loads nil")

	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	session := parking.Session{
		ID:            "session-abc",
		ZoneID:        3,
		ZoneName:      "Feddan Park",
		SpotNumber:    "B12",
		HourlyRate:    4.5,
		ReservationID: 42,
		Status:        parking.StatusActive,
		StartTime:     &t0,
	}
	require.NoError(t, mirror.SaveActive(ctx, "driver-1", &session))

	loaded, err = mirror.LoadActive(ctx, "driver-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session, *loaded)

	// Each driver has their own slot.
	other, err := mirror.LoadActive(ctx, "driver-2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMirrorSaveNilClearsActive(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()

	session := parking.Session{ID: "s", ReservationID: 1, Status: parking.StatusReserved}
	require.NoError(t, mirror.SaveActive(ctx, "driver-1", &session))
	require.NoError(t, mirror.SaveActive(ctx, "driver-1", nil))

	loaded, err := mirror.LoadActive(ctx, "driver-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMirrorLoadActiveRejectsCorruptStatus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mirror := NewMirror(client, time.Hour)

	// A mirror written by a newer or broken build must not restore into an
	// unknown state.
	require.NoError(t, mr.Set("parkflow:active:driver-1", `{"id":"s","reservation_id":1,"status":"parked"}`))

	_, err := mirror.LoadActive(context.Background(), "driver-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestMirrorHistoryRoundTrip(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()

	history, err := mirror.LoadHistory(ctx, "driver-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	stored := []parking.Session{
		{ID: "s1", ReservationID: 10, Status: parking.StatusCompleted, TotalCost: 6},
		{ID: "s2", ReservationID: 11, Status: parking.StatusCompleted, TotalCost: 10.17},
	}
	require.NoError(t, mirror.SaveHistory(ctx, "driver-1", stored))

	history, err = mirror.LoadHistory(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, stored, history)
}
