package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/getdoover/doover-go/pkg/observability"
	"github.com/getdoover/doover-go/pkg/ui"
)

// Transport adapts a Client to ui.Transport for one agent's channels.
type Transport struct {
	client  *Client
	agentID string
}

var _ ui.Transport = (*Transport)(nil)

// NewTransport scopes client to agentID. An empty agentID uses the client's
// default agent.
func NewTransport(client *Client, agentID string) *Transport {
	if agentID == "" {
		agentID = client.AgentID()
	}
	return &Transport{client: client, agentID: agentID}
}

// FetchAggregate returns the channel's aggregate. A channel that does not
// exist yet has an empty aggregate.
func (t *Transport) FetchAggregate(ctx context.Context, channel string) (_ ui.Document, err error) {
	ctx, done := t.client.telemetry.TrackOperation(ctx, "cloud.fetch_aggregate",
		observability.ChannelOperation(t.agentID, channel)...)
	defer func() { done(err) }()

	ch, err := t.client.GetChannelNamed(ctx, t.agentID, channel)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	switch agg := ch.Aggregate.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return agg, nil
	default:
		return nil, fmt.Errorf("channel %s: aggregate is %T, not an object", channel, agg)
	}
}

// Publish sends payload to the named channel.
func (t *Transport) Publish(ctx context.Context, channel string, payload any, opts ui.PublishOptions) (err error) {
	ctx, done := t.client.telemetry.TrackOperation(ctx, "cloud.publish",
		observability.ChannelOperation(t.agentID, channel)...)
	defer func() { done(err) }()

	_, err = t.client.PublishToChannelName(ctx, t.agentID, channel, payload, PublishOptions{
		RecordLog: opts.RecordLog,
		Timestamp: opts.Timestamp,
	})
	return err
}
