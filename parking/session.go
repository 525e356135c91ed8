package parking

import "time"

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	// StatusReserved means a spot is booked and we are waiting for the
	// presence sensor to confirm entry. No billing runs yet.
	StatusReserved SessionStatus = "reserved"
	// StatusActive means entry was confirmed and the billing timer runs.
	StatusActive SessionStatus = "active"
	// StatusCompleted means the session ended; EndTime and TotalCost are set.
	StatusCompleted SessionStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusReserved, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// Session is a driver's parking session. The zone and spot fields are a
// snapshot taken at booking time and are never re-fetched, so the display
// stays correct even if the catalog changes afterwards.
type Session struct {
	ID         string        `json:"id"`
	ZoneID     int64         `json:"zone_id"`
	ZoneName   string        `json:"zone_name"`
	SpotNumber string        `json:"spot_number"`
	HourlyRate float64       `json:"hourly_rate"`
	Status     SessionStatus `json:"status"`

	// SpotID and ReservationID are backend identities, set once the backend
	// confirms the reservation. ReservationID is the join key sensor events
	// are matched on; zero means not yet assigned.
	SpotID        int64 `json:"spot_id,omitempty"`
	ReservationID int64 `json:"reservation_id,omitempty"`

	// StartTime is set exactly once, when entry is confirmed, and never
	// mutated afterwards. Nil while reserved.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	TotalCost float64    `json:"total_cost,omitempty"`
}

// Zone is a parking zone as served by the backend catalog.
type Zone struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	HourlyRate float64 `json:"hourlyRate"`
	Capacity   int     `json:"capacity"`
}

// SpotAvailability is the locally tracked availability of a spot.
type SpotAvailability string

const (
	SpotFree     SpotAvailability = "free"
	SpotOccupied SpotAvailability = "occupied"
	SpotBooked   SpotAvailability = "booked"
)

// Spot is a single parking spot within a zone.
type Spot struct {
	ID         int64            `json:"id"`
	SpotNumber string           `json:"spotNumber"`
	Status     SpotAvailability `json:"status"`
	ZoneID     int64            `json:"zoneId"`
}
