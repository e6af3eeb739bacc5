// Package cloud is a typed client for the Doover channels REST API.
//
// A Client authenticates with a long-lived token or with a username and
// password, in which case short-lived tokens are fetched and refreshed as
// they expire. Channels, agents and messages are returned as small model
// types that keep a reference to the client for follow-up calls.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/getdoover/doover-go/pkg/observability"
	"github.com/getdoover/doover-go/pkg/ratelimit"
)

// DefaultBaseURL is the hosted Doover API.
const DefaultBaseURL = "https://my.doover.dev"

// Client is a typed client for the Doover channels API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	telemetry  *observability.Provider
	limiter    ratelimit.LimiterStore
	policy     ratelimit.Policy
	retries    int
	now        func() time.Time

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
	agentID      string
	username     string
	password     string
	onLogin      func(token string, expires time.Time, agentID string)
	twoFactor    func(ctx context.Context) (string, error)
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the access token. A zero expiry means the token never
// expires.
func WithToken(token string, expires time.Time) Option {
	return func(c *Client) {
		c.token = token
		c.tokenExpires = expires
	}
}

// WithCredentials sets the username and password used to fetch temporary
// tokens.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithAgentID sets the default agent.
func WithAgentID(agentID string) Option {
	return func(c *Client) { c.agentID = agentID }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPublishLimiter throttles publishes per channel.
func WithPublishLimiter(store ratelimit.LimiterStore, policy ratelimit.Policy) Option {
	return func(c *Client) {
		c.limiter = store
		c.policy = policy
	}
}

// WithTelemetry records a span and RED metrics for every request.
func WithTelemetry(p *observability.Provider) Option {
	return func(c *Client) { c.telemetry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLoginCallback is called after every successful login, typically to
// persist the new token.
func WithLoginCallback(fn func(token string, expires time.Time, agentID string)) Option {
	return func(c *Client) { c.onLogin = fn }
}

// WithTwoFactorPrompt supplies the 2FA code when the account requires one.
func WithTwoFactorPrompt(fn func(ctx context.Context) (string, error)) Option {
	return func(c *Client) { c.twoFactor = fn }
}

// New creates a client. Either a token or a username and password must be
// configured.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 25 * time.Second,
		},
		logger:  slog.Default().With("component", "cloud"),
		policy:  ratelimit.DefaultPolicy,
		retries: 1,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.token == "" && (c.username == "" || c.password == "") {
		return nil, fmt.Errorf("new client: %w or an access token", ErrNoCredentials)
	}
	return c, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// AgentID returns the default agent, which a login may update.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// Token returns the current access token and its expiry.
func (c *Client) Token() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.tokenExpires
}

func (c *Client) tokenExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token == "" || (!c.tokenExpires.IsZero() && c.tokenExpires.Before(c.now()))
}

// expandRoute substitutes each {placeholder} in route with the next
// path-escaped arg.
func expandRoute(route string, args ...string) string {
	var b strings.Builder
	rest := route
	for _, arg := range args {
		start := strings.IndexByte(rest, '{')
		end := strings.IndexByte(rest, '}')
		if start < 0 || end < start {
			break
		}
		b.WriteString(rest[:start])
		b.WriteString(url.PathEscape(arg))
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// do performs one API call and returns the raw response body. GET requests
// are retried on unexpected statuses; 403 and 404 fail immediately.
func (c *Client) do(ctx context.Context, method, route string, body any, args ...string) (out []byte, err error) {
	ctx, finish := c.telemetry.TrackOperation(ctx, "cloud.request", observability.HTTPRequest(method, route)...)
	defer func() { finish(err) }()

	if c.tokenExpired() {
		c.logger.InfoContext(ctx, "token expired, logging in")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", route, err)
		}
	}

	target := c.baseURL + expandRoute(route, args...)
	retries := 0
	if method == http.MethodGet {
		retries = c.retries
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		token, _ := c.Token()
		req.Header.Set("Authorization", "Token "+token)

		c.logger.DebugContext(ctx, "api request", "method", method, "url", target, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", target, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.logger.DebugContext(ctx, "api response", "url", target, "bytes", len(data))
			return data, nil
		case resp.StatusCode == http.StatusForbidden:
			return nil, &APIError{Status: resp.StatusCode, Message: "access denied"}
		case resp.StatusCode == http.StatusNotFound:
			return nil, &APIError{Status: resp.StatusCode, Message: "resource not found"}
		}

		c.logger.InfoContext(ctx, "api request failed",
			"url", target, "status", resp.StatusCode, "body", string(data))
		if attempt >= retries {
			return nil, &APIError{Status: resp.StatusCode, Message: string(data)}
		}
	}
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, route string, out any, args ...string) error {
	data, err := c.do(ctx, http.MethodGet, route, nil, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", route, err)
	}
	return nil
}

// decodeResult returns the JSON value of data, or its text when it is not
// JSON.
func decodeResult(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return MaybeJSON(string(data))
}

// GetAgent fetches an agent and its channels.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var a Agent
	if err := c.getJSON(ctx, "/ch/v1/agent/{agent}", &a, agentID); err != nil {
		return nil, err
	}
	a.bind(c)
	return &a, nil
}

// ListAgents returns every agent the token can see.
func (c *Client) ListAgents(ctx context.Context) ([]*Agent, error) {
	var out struct {
		Agents []*Agent `json:"agents"`
	}
	if err := c.getJSON(ctx, "/ch/v1/list_agents/", &out); err != nil {
		return nil, err
	}
	for _, a := range out.Agents {
		a.bind(c)
	}
	return out.Agents, nil
}

// GetChannel fetches a channel by id.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.getJSON(ctx, "/ch/v1/channel/{channel}", &ch, channelID); err != nil {
		return nil, err
	}
	ch.client = c
	return &ch, nil
}

// GetChannelNamed fetches an agent's channel by name.
func (c *Client) GetChannelNamed(ctx context.Context, agentID, name string) (*Channel, error) {
	var ch Channel
	if err := c.getJSON(ctx, "/ch/v1/agent/{agent}/{name}", &ch, agentID, name); err != nil {
		return nil, err
	}
	ch.client = c
	return &ch, nil
}

// GetChannelMessages returns the latest n messages, or the server default
// when n is not positive.
func (c *Client) GetChannelMessages(ctx context.Context, channelID string, n int) ([]*Message, error) {
	var data []byte
	var err error
	if n > 0 {
		data, err = c.do(ctx, http.MethodGet, "/ch/v1/channel/{channel}/messages/{n}", nil, channelID, fmt.Sprint(n))
	} else {
		data, err = c.do(ctx, http.MethodGet, "/ch/v1/channel/{channel}/messages", nil, channelID)
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out struct {
		Messages []*Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for _, m := range out.Messages {
		m.client = c
		if m.ChannelID == "" {
			m.ChannelID = channelID
		}
	}
	return out.Messages, nil
}

// GetMessage fetches one message with its payload.
func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	var m Message
	if err := c.getJSON(ctx, "/ch/v1/channel/{channel}/message/{message}", &m, channelID, messageID); err != nil {
		return nil, err
	}
	m.client = c
	if m.ChannelID == "" {
		m.ChannelID = channelID
	}
	return &m, nil
}

// CreateChannel returns the named channel, creating it with an empty
// publish when it does not exist.
func (c *Client) CreateChannel(ctx context.Context, agentID, name string) (*Channel, error) {
	ch, err := c.GetChannelNamed(ctx, agentID, name)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if _, err := c.do(ctx, http.MethodPost, "/ch/v1/agent/{agent}/{name}/", nil, agentID, name); err != nil {
		return nil, fmt.Errorf("create channel %s: %w", name, err)
	}
	return c.GetChannelNamed(ctx, agentID, name)
}

// CreateProcessor creates a processor channel.
func (c *Client) CreateProcessor(ctx context.Context, agentID, name string) (*Channel, error) {
	return c.CreateChannel(ctx, agentID, ProcessorName(name))
}

// CreateTask creates a task channel bound to a processor.
func (c *Client) CreateTask(ctx context.Context, agentID, name, processorID string) (*Channel, error) {
	task := TaskName(name)
	body := map[string]any{
		"msg":          map[string]any{},
		"processor_id": processorID,
	}
	if _, err := c.do(ctx, http.MethodPost, "/ch/v1/agent/{agent}/{name}/", body, agentID, task); err != nil {
		return nil, fmt.Errorf("create task %s: %w", task, err)
	}
	return c.GetChannelNamed(ctx, agentID, task)
}

func (c *Client) setSubscription(ctx context.Context, channelID, taskID string, subscribe bool) error {
	body := map[string]any{"channel_id": channelID, "subscribe": subscribe}
	_, err := c.do(ctx, http.MethodPost, "/ch/v1/channel/{task}/subscribe/", body, taskID)
	return err
}

// SubscribeToChannel makes a task run on every message in channelID.
func (c *Client) SubscribeToChannel(ctx context.Context, channelID, taskID string) error {
	return c.setSubscription(ctx, channelID, taskID, true)
}

// UnsubscribeFromChannel removes a task subscription.
func (c *Client) UnsubscribeFromChannel(ctx context.Context, channelID, taskID string) error {
	return c.setSubscription(ctx, channelID, taskID, false)
}

// PublishOptions control how a message is recorded.
type PublishOptions struct {
	// RecordLog keeps the message in the channel log, not just the
	// aggregate.
	RecordLog bool
	// LogAggregate stores the resulting aggregate as the logged message.
	LogAggregate bool
	// OverrideAggregate replaces the aggregate instead of merging into it.
	OverrideAggregate bool
	// Timestamp overrides the message time.
	Timestamp *time.Time
}

func publishBody(data any, opts PublishOptions) map[string]any {
	body := map[string]any{"msg": data}
	if opts.RecordLog {
		body["record_log"] = true
	}
	if opts.LogAggregate {
		body["log_aggregate"] = true
	}
	if opts.OverrideAggregate {
		body["override_aggregate"] = true
	}
	if opts.Timestamp != nil {
		body["timestamp"] = opts.Timestamp.Unix()
	}
	return body
}

// PublishToChannel publishes data to a channel by id and returns the API's
// response.
func (c *Client) PublishToChannel(ctx context.Context, channelID string, data any, opts PublishOptions) (any, error) {
	if err := ratelimit.Check(ctx, c.limiter, "publish:"+channelID, c.policy); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/ch/v1/channel/{channel}/", publishBody(data, opts), channelID)
	if err != nil {
		return nil, err
	}
	return decodeResult(resp), nil
}

// PublishToChannelName publishes data to an agent's channel by name,
// creating the channel if needed.
func (c *Client) PublishToChannelName(ctx context.Context, agentID, name string, data any, opts PublishOptions) (any, error) {
	if err := ratelimit.Check(ctx, c.limiter, "publish:"+agentID+"/"+name, c.policy); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/ch/v1/agent/{agent}/{name}/", publishBody(data, opts), agentID, name)
	if err != nil {
		return nil, err
	}
	return decodeResult(resp), nil
}
