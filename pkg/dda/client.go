// Package dda is a persistent session to the local Doover device agent.
//
// The agent pushes channel aggregates over a websocket as they change. The
// read loop keeps the latest pending aggregate of each channel; Dispatch
// delivers them to subscribers on the caller's goroutine so a ui.Manager is
// never touched concurrently.
package dda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getdoover/doover-go/pkg/ui"
)

// DefaultURL is where the device agent listens.
const DefaultURL = "ws://127.0.0.1:50051/session"

var (
	// ErrClosed is returned for requests on a closed session.
	ErrClosed = errors.New("dda: session closed")
)

type update struct {
	channel   string
	aggregate ui.Document
}

// Client is a ui.SessionTransport over a websocket.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string][]ui.AggregateHandler
	pending  map[uint64]chan Frame
	closeErr error

	nextID     atomic.Uint64
	online     atomic.Bool
	beenOnline atomic.Bool

	queueMu sync.Mutex
	queued  map[string]ui.Document
	order   []string
	notify  chan struct{}

	done chan struct{}
}

var _ ui.SessionTransport = (*Client)(nil)

type options struct {
	logger           *slog.Logger
	handshakeTimeout time.Duration
}

// Option configures Dial.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// Dial connects to the device agent at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		logger:           slog.Default().With("component", "dda"),
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if url == "" {
		url = DefaultURL
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial device agent: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   o.logger,
		handlers: make(map[string][]ui.AggregateHandler),
		pending:  make(map[uint64]chan Frame),
		queued:   make(map[string]ui.Document),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// IsOnline reports whether the agent currently has a cloud connection.
func (c *Client) IsOnline() bool { return c.online.Load() }

// HasBeenOnline reports whether the agent was online at any point during
// this session.
func (c *Client) HasBeenOnline() bool { return c.beenOnline.Load() }

// Subscribe registers handler for channel and asks the agent to stream its
// aggregate.
func (c *Client) Subscribe(channel string, handler ui.AggregateHandler) error {
	c.mu.Lock()
	first := len(c.handlers[channel]) == 0
	c.handlers[channel] = append(c.handlers[channel], handler)
	c.mu.Unlock()
	if !first {
		return nil
	}
	return c.write(Frame{Type: FrameSubscribe, Channel: channel})
}

// FetchAggregate asks the agent for a channel's current aggregate.
func (c *Client) FetchAggregate(ctx context.Context, channel string) (ui.Document, error) {
	resp, err := c.request(ctx, Frame{Type: FrameGetAggregate, Channel: channel})
	if err != nil {
		return nil, err
	}
	return decodeAggregate(resp.Payload)
}

// Publish sends payload to a channel through the agent.
func (c *Client) Publish(ctx context.Context, channel string, payload any, opts ui.PublishOptions) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	f := Frame{Type: FramePublish, Channel: channel, Payload: raw, RecordLog: opts.RecordLog}
	if opts.Timestamp != nil {
		ts := opts.Timestamp.Unix()
		f.Timestamp = &ts
	}
	_, err = c.request(ctx, f)
	return err
}

// Dispatch delivers every pending aggregate to its subscribers, in the
// order the channels first changed, and returns how many were delivered.
// It never blocks.
func (c *Client) Dispatch() int {
	batch := c.drain()
	for _, u := range batch {
		c.deliver(u)
	}
	return len(batch)
}

// Wait blocks until at least one update is queued or the session ends,
// then dispatches everything queued.
func (c *Client) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.done:
		return c.Dispatch(), c.err()
	case <-c.notify:
		return c.Dispatch(), nil
	}
}

// Close ends the session.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) deliver(u update) {
	c.mu.Lock()
	handlers := append([]ui.AggregateHandler(nil), c.handlers[u.channel]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(u.channel, u.aggregate)
	}
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) write(f Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = c.nextID.Add(1)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return Frame{}, ErrClosed
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return Frame{}, err
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, ErrClosed
	case resp := <-ch:
		if resp.Error != "" {
			return Frame{}, fmt.Errorf("dda %s %s: %s", f.Type, f.Channel, resp.Error)
		}
		return resp, nil
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.online.Store(false)
			c.mu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.closeErr = ErrClosed
			} else {
				c.closeErr = fmt.Errorf("dda read: %w", err)
			}
			c.mu.Unlock()
			c.logger.Info("session ended", "error", err)
			return
		}

		switch f.Type {
		case FrameStatus:
			online := f.Online != nil && *f.Online
			c.online.Store(online)
			if online {
				c.beenOnline.Store(true)
			}
			c.logger.Debug("agent status", "online", online)
		case FrameAggregate:
			agg, err := decodeAggregate(f.Payload)
			if err != nil {
				c.logger.Warn("dropping aggregate", "channel", f.Channel, "error", err)
				continue
			}
			c.enqueue(update{channel: f.Channel, aggregate: agg})
		case FrameResponse:
			c.mu.Lock()
			ch := c.pending[f.ID]
			c.mu.Unlock()
			if ch != nil {
				select {
				case ch <- f:
				default:
					c.logger.Warn("dropping duplicate response", "id", f.ID)
				}
			}
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

// enqueue replaces any pending aggregate of the same channel. Aggregates
// are cumulative, so the latest one carries every earlier change.
func (c *Client) enqueue(u update) {
	c.queueMu.Lock()
	if _, ok := c.queued[u.channel]; !ok {
		c.order = append(c.order, u.channel)
	}
	c.queued[u.channel] = u.aggregate
	c.queueMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) drain() []update {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.order) == 0 {
		return nil
	}
	batch := make([]update, 0, len(c.order))
	for _, name := range c.order {
		batch = append(batch, update{channel: name, aggregate: c.queued[name]})
		delete(c.queued, name)
	}
	c.order = c.order[:0]
	return batch
}

func decodeAggregate(raw json.RawMessage) (ui.Document, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc ui.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("aggregate is not an object: %w", err)
	}
	return doc, nil
}
