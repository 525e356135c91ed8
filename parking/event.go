package parking

import (
	"strconv"
	"time"
)

// EventType identifies a vehicle-presence sensor event.
type EventType string

const (
	EventEntryDetected EventType = "ENTRY_DETECTED"
	EventExitDetected  EventType = "EXIT_DETECTED"
)

// Known reports whether t is an event type this client understands.
// Unknown types are dropped at the channel boundary.
func (t EventType) Known() bool {
	return t == EventEntryDetected || t == EventExitDetected
}

// FlexInt64 decodes a JSON number or a decimal string into int64. The
// backend and the push channel disagree on how they serialize reservation
// identifiers, so the boundary normalizes; past it, everything is int64.
type FlexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some layers serialize ids as floats (42.0).
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = FlexInt64(v)
	return nil
}

// Int64 returns the normalized value.
func (f FlexInt64) Int64() int64 { return int64(f) }

// Event is the envelope delivered over the push channel for both the
// broadcast and the driver-scoped topics.
type Event struct {
	Event         EventType  `json:"event"`
	ReservationID FlexInt64  `json:"reservationId"`
	DriverID      string     `json:"driverId"`
	SpotNumber    string     `json:"spotNumber"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	TotalCost     float64    `json:"totalCost,omitempty"`
	Status        string     `json:"status,omitempty"`
}
