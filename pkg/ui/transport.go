package ui

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Channel names the manager reads and writes.
const (
	ChannelState       = "ui_state"
	ChannelCommands    = "ui_cmds"
	ChannelConnections = "ui_state@wss_connections"
)

// PublishOptions control how a message is recorded remotely.
type PublishOptions struct {
	// RecordLog keeps the message in the channel's durable log. When false
	// only the aggregate is updated.
	RecordLog bool
	// Timestamp overrides the message time. Nil means now.
	Timestamp *time.Time
}

// Transport is a request/response channel client scoped to one agent. The
// manager pulls before every push when given one.
type Transport interface {
	FetchAggregate(ctx context.Context, channel string) (Document, error)
	Publish(ctx context.Context, channel string, payload any, opts PublishOptions) error
}

// AggregateHandler receives a channel's new aggregate.
type AggregateHandler func(channel string, aggregate Document)

// SessionTransport is a persistent connection that delivers aggregate
// updates as they happen.
type SessionTransport interface {
	Transport
	Subscribe(channel string, handler AggregateHandler) error
	IsOnline() bool
	HasBeenOnline() bool
}

// Tracker records the outcome of an operation. It is satisfied by
// *observability.Provider.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}
