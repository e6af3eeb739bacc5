package dda

import "encoding/json"

// Frame types exchanged with the device agent.
const (
	FrameSubscribe    = "subscribe"
	FramePublish      = "publish"
	FrameGetAggregate = "get_aggregate"
	FrameAggregate    = "aggregate"
	FrameStatus       = "status"
	FrameResponse     = "response"
)

// Frame is one JSON message on the session socket. Requests carry an ID
// that the agent echoes in its response frame.
type Frame struct {
	Type      string          `json:"type"`
	ID        uint64          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RecordLog bool            `json:"record_log,omitempty"`
	Timestamp *int64          `json:"timestamp,omitempty"`
	Online    *bool           `json:"online,omitempty"`
	Error     string          `json:"error,omitempty"`
}
