package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"parkflow/parking"
)

// Frame types exchanged on the push channel.
const (
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FrameMessage     = "MESSAGE"
)

// Topics the client subscribes to. TopicDriverPrefix is completed with the
// driver id.
const (
	TopicParkingEvents = "parking-events"
	TopicDriverPrefix  = "driver/"
)

// Frame is the wire frame for the push channel. Payload is only present on
// MESSAGE frames.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DriverTopic returns the driver-scoped topic name.
func DriverTopic(driverID string) string {
	return TopicDriverPrefix + driverID
}

// BuildSubscribe encodes a SUBSCRIBE frame for the given topic.
func BuildSubscribe(topic string) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameSubscribe, Topic: topic})
}

// BuildUnsubscribe encodes an UNSUBSCRIBE frame for the given topic.
func BuildUnsubscribe(topic string) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameUnsubscribe, Topic: topic})
}

// ParseFrame decodes a raw frame from the transport.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if frame.Type == "" {
		return nil, errors.New("protocol: frame type missing")
	}
	return &frame, nil
}

// ParseEvent decodes the event envelope carried by a MESSAGE frame.
// Unknown event types are rejected here so the reconciler only ever sees
// events it understands.
func ParseEvent(frame *Frame) (*parking.Event, error) {
	if frame.Type != FrameMessage {
		return nil, fmt.Errorf("protocol: not a message frame: %s", frame.Type)
	}
	if len(frame.Payload) == 0 {
		return nil, errors.New("protocol: message frame without payload")
	}

	var event parking.Event
	if err := json.Unmarshal(frame.Payload, &event); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}
	if !event.Event.Known() {
		return nil, fmt.Errorf("protocol: unknown event type %q", event.Event)
	}
	return &event, nil
}
