package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parkflow/parking"
)

// Mirror persists the driver's active session and history in Redis so an
// embedded client restarted mid-session picks up where it left off. Redis
// is a mirror of local state, never the source of truth.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror returns a redis-backed mirror.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	return &Mirror{client: client, ttl: ttl}
}

func (m *Mirror) activeKey(driverID string) string {
	return fmt.Sprintf("parkflow:active:%s", driverID)
}

func (m *Mirror) historyKey(driverID string) string {
	return fmt.Sprintf("parkflow:history:%s", driverID)
}

// SaveActive mirrors the active session. A nil session clears the key.
func (m *Mirror) SaveActive(ctx context.Context, driverID string, session *parking.Session) error {
	if session == nil {
		return m.client.Del(ctx, m.activeKey(driverID)).Err()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.activeKey(driverID), data, m.ttl).Err()
}

// LoadActive returns the mirrored active session, or nil when none exists.
func (m *Mirror) LoadActive(ctx context.Context, driverID string) (*parking.Session, error) {
	result, err := m.client.Get(ctx, m.activeKey(driverID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session parking.Session
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	if !session.Status.Valid() {
		return nil, fmt.Errorf("store: mirrored session has invalid status %q", session.Status)
	}
	return &session, nil
}

// SaveHistory mirrors the history list wholesale. History is small (one
// driver's completed sessions), so a single value keeps reads atomic.
func (m *Mirror) SaveHistory(ctx context.Context, driverID string, history []parking.Session) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.historyKey(driverID), data, m.ttl).Err()
}

// LoadHistory returns the mirrored history, empty when none exists.
func (m *Mirror) LoadHistory(ctx context.Context, driverID string) ([]parking.Session, error) {
	result, err := m.client.Get(ctx, m.historyKey(driverID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []parking.Session
	if err := json.Unmarshal([]byte(result), &history); err != nil {
		return nil, err
	}
	return history, nil
}
