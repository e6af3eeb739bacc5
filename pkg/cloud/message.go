package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Message is one entry in a channel's log.
type Message struct {
	ID          string  `json:"message"`
	AgentID     string  `json:"agent"`
	ChannelID   string  `json:"channel"`
	ChannelName string  `json:"channel_name"`
	Timestamp   float64 `json:"timestamp"`
	Payload     any     `json:"payload"`

	client *Client
}

// Time returns the message timestamp.
func (m *Message) Time() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Age returns how long ago the message was published.
func (m *Message) Age(now time.Time) time.Duration {
	return now.Sub(m.Time())
}

// Refresh reloads the message from the API.
func (m *Message) Refresh(ctx context.Context) error {
	fresh, err := m.client.GetMessage(ctx, m.ChannelID, m.ID)
	if err != nil {
		return err
	}
	*m = *fresh
	return nil
}

// FetchPayload returns the decoded payload, loading it when the message was
// listed without one. String payloads holding JSON are decoded.
func (m *Message) FetchPayload(ctx context.Context) (any, error) {
	if m.Payload == nil {
		if err := m.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	if s, ok := m.Payload.(string); ok {
		m.Payload = MaybeJSON(s)
	}
	return m.Payload, nil
}

// String renders the payload as JSON for display.
func (m *Message) String() string {
	b, err := json.Marshal(m.Payload)
	if err != nil {
		return m.ID
	}
	return string(b)
}

// DecodeMessage decodes a message delivered outside the API, such as the
// one that triggered a processor task, and binds it to the client.
func (c *Client) DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	m.client = c
	return &m, nil
}
