package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"parkflow/parking"
)

// Backend reservation status values.
const (
	ReservationPending   = "PENDING"
	ReservationActive    = "ACTIVE"
	ReservationCompleted = "COMPLETED"
	ReservationCancelled = "CANCELLED"
)

// ZoneResponse is the backend shape for GET /zones.
type ZoneResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	HourlyRate float64 `json:"hourlyRate"`
	Capacity   int     `json:"capacity"`
}

// SpotResponse is the backend shape for GET /zones/{id}/spots. Status is a
// bare boolean: true means free.
type SpotResponse struct {
	ID         int64  `json:"id"`
	SpotNumber string `json:"spotNumber"`
	Status     bool   `json:"status"`
	SensorID   string `json:"sensorId"`
	Zone       struct {
		ID         int64   `json:"id"`
		Name       string  `json:"name"`
		HourlyRate float64 `json:"hourlyRate"`
	} `json:"zone"`
}

// ReservationRequest is the payload for POST /reservations/create.
type ReservationRequest struct {
	SpotID    int64  `json:"spotId"`
	DriverID  string `json:"driverId"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// ReservationResponse is the backend reservation shape. The id arrives as a
// number from the REST layer but is decoded flexibly for symmetry with the
// push channel.
type ReservationResponse struct {
	ID         parking.FlexInt64 `json:"id"`
	SpotID     int64             `json:"spotId"`
	SpotNumber string            `json:"spotNumber"`
	DriverID   string            `json:"driverId"`
	StartTime  string            `json:"startTime"`
	EndTime    string            `json:"endTime"`
	Status     string            `json:"status"`
}

// EntryConfirmRequest is the best-effort payload for POST /sensors/entry-confirm.
type EntryConfirmRequest struct {
	ReservationID int64  `json:"reservationId"`
	DriverID      string `json:"driverId"`
}

// Client talks to the parking REST backend.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient builds the HTTP client wrapper. token may be empty; when set it
// is sent as a bearer token on every request.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Zones fetches all parking zones.
func (c *Client) Zones(ctx context.Context) ([]ZoneResponse, error) {
	var zones []ZoneResponse
	if err := c.get(ctx, "/zones", &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// ZoneSpots fetches the spots of a zone.
func (c *Client) ZoneSpots(ctx context.Context, zoneID int64) ([]SpotResponse, error) {
	var spots []SpotResponse
	if err := c.get(ctx, fmt.Sprintf("/zones/%d/spots", zoneID), &spots); err != nil {
		return nil, err
	}
	return spots, nil
}

// CreateReservation books a spot for the given time window.
func (c *Client) CreateReservation(ctx context.Context, req ReservationRequest) (*ReservationResponse, error) {
	var resp ReservationResponse
	if err := c.post(ctx, "/reservations/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelReservation cancels a reservation. The backend answers 2xx with an
// empty body.
func (c *Client) CancelReservation(ctx context.Context, reservationID int64) error {
	return c.post(ctx, fmt.Sprintf("/reservations/%d/cancel", reservationID), nil, nil)
}

// ReservationStatus fetches the backend view of a reservation.
func (c *Client) ReservationStatus(ctx context.Context, reservationID int64) (*ReservationResponse, error) {
	var resp ReservationResponse
	if err := c.get(ctx, fmt.Sprintf("/reservations/%d/status", reservationID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListReservations returns the driver's reservations.
func (c *Client) ListReservations(ctx context.Context, driverID string) ([]ReservationResponse, error) {
	var resp []ReservationResponse
	if err := c.get(ctx, "/reservations/user/"+driverID, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConfirmEntry tells the backend the vehicle entered (best-effort). The
// caller never fails the surrounding transition on error.
func (c *Client) ConfirmEntry(ctx context.Context, req EntryConfirmRequest) error {
	if err := c.post(ctx, "/sensors/entry-confirm", req, nil); err != nil {
		c.logger.Warn("entry confirmation failed",
			zap.Int64("reservation_id", req.ReservationID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("path", req.URL.Path), zap.Error(err))
		return parking.NewConnectivity("backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("backend returned non-success",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return parking.NewBackend(
			fmt.Sprintf("%s: status %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(body)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return parking.NewBackend("decode response", err)
	}
	return nil
}
