package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"parkflow/internal/api"
	"parkflow/parking"
)

// Fetcher is the slice of the backend client the cache needs.
type Fetcher interface {
	Zones(ctx context.Context) ([]api.ZoneResponse, error)
	ZoneSpots(ctx context.Context, zoneID int64) ([]api.SpotResponse, error)
}

// Cache lazily loads spot availability per zone and keeps it for the
// client's lifetime. There is no server push for availability: MarkBooked
// and MarkFree are the only mutations between refetches.
type Cache struct {
	mu      sync.Mutex
	fetcher Fetcher
	logger  *zap.Logger
	zones   []parking.Zone
	spots   map[int64][]parking.Spot
}

// NewCache returns an empty cache backed by the given fetcher.
func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		spots:   make(map[int64][]parking.Spot),
	}
}

// Zones returns the zone list, fetching it on first use.
func (c *Cache) Zones(ctx context.Context) ([]parking.Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zones != nil {
		return append([]parking.Zone(nil), c.zones...), nil
	}

	fetched, err := c.fetcher.Zones(ctx)
	if err != nil {
		return nil, err
	}
	zones := make([]parking.Zone, 0, len(fetched))
	for _, z := range fetched {
		zones = append(zones, parking.Zone{
			ID:         z.ID,
			Name:       z.Name,
			Latitude:   z.Latitude,
			Longitude:  z.Longitude,
			HourlyRate: z.HourlyRate,
			Capacity:   z.Capacity,
		})
	}
	c.zones = zones
	return append([]parking.Zone(nil), c.zones...), nil
}

// Spots returns the spots of a zone, memoized per zone. A fetch failure
// caches an empty list rather than an error so the booking UI shows "no
// spots" instead of being stuck loading.
func (c *Cache) Spots(ctx context.Context, zoneID int64) ([]parking.Spot, error) {
	c.mu.Lock()
	if cached, ok := c.spots[zoneID]; ok {
		out := append([]parking.Spot(nil), cached...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	fetched, err := c.fetcher.ZoneSpots(ctx, zoneID)
	if err != nil {
		c.logger.Warn("spot fetch failed, caching empty zone",
			zap.Int64("zone_id", zoneID), zap.Error(err))
		fetched = nil
	}

	spots := make([]parking.Spot, 0, len(fetched))
	for _, s := range fetched {
		status := parking.SpotOccupied
		if s.Status {
			status = parking.SpotFree
		}
		spots = append(spots, parking.Spot{
			ID:         s.ID,
			SpotNumber: s.SpotNumber,
			Status:     status,
			ZoneID:     s.Zone.ID,
		})
	}

	c.mu.Lock()
	// Another fetch may have won the race; first write sticks.
	if existing, ok := c.spots[zoneID]; ok {
		spots = existing
	} else {
		c.spots[zoneID] = spots
	}
	out := append([]parking.Spot(nil), spots...)
	c.mu.Unlock()
	return out, nil
}

// MarkBooked flips a spot to booked after a successful reservation.
func (c *Cache) MarkBooked(zoneID, spotID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.spots[zoneID] {
		if s.ID == spotID {
			c.spots[zoneID][i].Status = parking.SpotBooked
			return
		}
	}
}

// MarkOccupied flips a spot to occupied once entry is detected.
func (c *Cache) MarkOccupied(zoneID int64, spotNumber string) {
	c.setBySpotNumber(zoneID, spotNumber, parking.SpotOccupied)
}

// MarkFree returns a spot to the free pool on completion or cancellation.
func (c *Cache) MarkFree(zoneID int64, spotNumber string) {
	c.setBySpotNumber(zoneID, spotNumber, parking.SpotFree)
}

func (c *Cache) setBySpotNumber(zoneID int64, spotNumber string, status parking.SpotAvailability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.spots[zoneID] {
		if s.SpotNumber == spotNumber {
			c.spots[zoneID][i].Status = status
			return
		}
	}
}

// Invalidate drops the cached spots of a zone so the next Spots call
// refetches from the backend.
func (c *Cache) Invalidate(zoneID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.spots, zoneID)
}
