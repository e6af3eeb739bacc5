package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ChannelKind is derived from the channel name prefix.
type ChannelKind int

const (
	KindChannel ChannelKind = iota
	KindProcessor
	KindTask
)

func (k ChannelKind) String() string {
	switch k {
	case KindProcessor:
		return "processor"
	case KindTask:
		return "task"
	default:
		return "channel"
	}
}

// Channel is a named message stream owned by an agent.
type Channel struct {
	ID      string
	Name    string
	AgentID string
	// ProcessorID is set on task channels.
	ProcessorID string
	// Aggregate is the merged state of every message, when the API
	// included it.
	Aggregate any

	client    *Client
	messages  []*Message
	processor *Channel
}

type channelJSON struct {
	Channel   string `json:"channel"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	Agent     string `json:"agent"`
	Processor string `json:"processor"`
	Aggregate *struct {
		Payload any `json:"payload"`
	} `json:"aggregate"`
}

func (ch *Channel) UnmarshalJSON(b []byte) error {
	var raw channelJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	// get_agent lists the owner as agent, get_channel as owner.
	agentID := raw.Owner
	if agentID == "" {
		agentID = raw.Agent
	}
	*ch = Channel{
		ID:          raw.Channel,
		Name:        raw.Name,
		AgentID:     agentID,
		ProcessorID: raw.Processor,
		client:      ch.client,
	}
	if raw.Aggregate != nil {
		ch.Aggregate = raw.Aggregate.Payload
	}
	return nil
}

// Kind reports whether the channel is a processor, a task or a plain
// channel.
func (ch *Channel) Kind() ChannelKind {
	switch {
	case strings.HasPrefix(ch.Name, TaskPrefix):
		return KindTask
	case strings.HasPrefix(ch.Name, ProcessorPrefix):
		return KindProcessor
	default:
		return KindChannel
	}
}

// Refresh reloads the channel, including its aggregate.
func (ch *Channel) Refresh(ctx context.Context) error {
	fresh, err := ch.client.GetChannel(ctx, ch.ID)
	if err != nil {
		return err
	}
	ch.Name = fresh.Name
	ch.AgentID = fresh.AgentID
	ch.ProcessorID = fresh.ProcessorID
	ch.Aggregate = fresh.Aggregate
	return nil
}

// FetchAgent loads the owning agent.
func (ch *Channel) FetchAgent(ctx context.Context) (*Agent, error) {
	return ch.client.GetAgent(ctx, ch.AgentID)
}

// FetchAggregate returns the cached aggregate, refreshing once when none is
// cached.
func (ch *Channel) FetchAggregate(ctx context.Context) (any, error) {
	if ch.Aggregate != nil {
		return ch.Aggregate, nil
	}
	if err := ch.Refresh(ctx); err != nil {
		return nil, err
	}
	return ch.Aggregate, nil
}

// FetchMessages returns up to n recent messages, cached after the first
// call.
func (ch *Channel) FetchMessages(ctx context.Context, n int) ([]*Message, error) {
	if ch.messages != nil {
		return ch.messages, nil
	}
	msgs, err := ch.client.GetChannelMessages(ctx, ch.ID, n)
	if err != nil {
		return nil, err
	}
	ch.messages = msgs
	return msgs, nil
}

// LastMessage returns the most recent message, or nil when the channel is
// empty.
func (ch *Channel) LastMessage(ctx context.Context) (*Message, error) {
	msgs, err := ch.FetchMessages(ctx, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

// Publish sends data to the channel.
func (ch *Channel) Publish(ctx context.Context, data any, opts PublishOptions) (any, error) {
	return ch.client.PublishToChannel(ctx, ch.ID, data, opts)
}

// PublishFile publishes a file as {output_type, output} with the content
// base64 encoded. An empty mimeType is guessed from the extension.
func (ch *Channel) PublishFile(ctx context.Context, path, mimeType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("publish file: %w", err)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	msg := map[string]any{
		"output_type": mimeType,
		"output":      base64.StdEncoding.EncodeToString(data),
	}
	_, err = ch.Publish(ctx, msg, PublishOptions{RecordLog: true})
	return err
}

// PublishPackage uploads a zipped processor package to a processor
// channel.
func (ch *Channel) PublishPackage(ctx context.Context, archive []byte) error {
	if ch.Kind() != KindProcessor {
		return fmt.Errorf("publish package: %s is not a processor channel", ch.Name)
	}
	_, err := ch.Publish(ctx, base64.StdEncoding.EncodeToString(archive), PublishOptions{RecordLog: true})
	return err
}

// FetchProcessor loads the processor a task runs. It returns nil for tasks
// without one.
func (ch *Channel) FetchProcessor(ctx context.Context) (*Channel, error) {
	if ch.processor != nil {
		return ch.processor, nil
	}
	if ch.ProcessorID == "" {
		return nil, nil
	}
	p, err := ch.client.GetChannel(ctx, ch.ProcessorID)
	if err != nil {
		return nil, err
	}
	ch.processor = p
	return p, nil
}

// SubscribeTo makes this task run on messages in channelID.
func (ch *Channel) SubscribeTo(ctx context.Context, channelID string) error {
	if ch.Kind() != KindTask {
		return fmt.Errorf("subscribe: %s is not a task channel", ch.Name)
	}
	return ch.client.SubscribeToChannel(ctx, channelID, ch.ID)
}

// UnsubscribeFrom removes this task's subscription to channelID.
func (ch *Channel) UnsubscribeFrom(ctx context.Context, channelID string) error {
	if ch.Kind() != KindTask {
		return fmt.Errorf("unsubscribe: %s is not a task channel", ch.Name)
	}
	return ch.client.UnsubscribeFromChannel(ctx, channelID, ch.ID)
}
