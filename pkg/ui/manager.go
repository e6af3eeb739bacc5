package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/getdoover/doover-go/pkg/observability"
)

// Defaults for the push rate limits.
const (
	DefaultMinUIUpdatePeriod       = 600 * time.Second
	DefaultMinObservedUpdatePeriod = 4 * time.Second
)

var (
	// ErrNoTransport is returned when the manager has no transport to talk to.
	ErrNoTransport = errors.New("ui: no transport configured")
	// ErrNotPersistent is returned when subscriptions are requested over a
	// request/response transport.
	ErrNotPersistent = errors.New("ui: transport does not support subscriptions")
	// ErrRemoveRoot is returned when asked to remove the root container.
	ErrRemoveRoot = errors.New("ui: cannot remove the root container")
)

// PushDecision is the outcome of the push rate limiter.
type PushDecision int

const (
	PushAndLog PushDecision = iota + 1
	PushOnly
	DoNothing
)

func (d PushDecision) String() string {
	switch d {
	case PushAndLog:
		return "push_and_log"
	case PushOnly:
		return "push_only"
	case DoNothing:
		return "do_nothing"
	default:
		return fmt.Sprintf("PushDecision(%d)", int(d))
	}
}

// Manager owns a UI tree and keeps it in sync with one agent's ui channels.
// It is not safe for concurrent use.
type Manager struct {
	agentID   string
	transport Transport
	session   SessionTransport

	subscriptionsReady bool

	lastUIState           Document
	lastUIStateUpdate     time.Time
	lastConnections       Document
	lastConnectionsUpdate time.Time
	lastUICmds            Document
	lastUICmdsUpdate      time.Time

	root         *Container
	interactions map[string]Interactive

	criticalPending bool
	criticalValues  map[string]any

	minUIUpdatePeriod       time.Duration
	minObservedUpdatePeriod time.Duration
	lastPushed              time.Time

	cmdsSubscriptions []func()

	now       func() time.Time
	logger    *slog.Logger
	tracker   Tracker
	autoStart bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRequestTransport syncs over a request/response client. The manager
// pulls before every push.
func WithRequestTransport(t Transport) ManagerOption {
	return func(m *Manager) {
		m.transport = t
		m.session = nil
	}
}

// WithSessionTransport syncs over a persistent session that delivers
// aggregate updates through subscriptions.
func WithSessionTransport(s SessionTransport) ManagerOption {
	return func(m *Manager) {
		m.transport = s
		m.session = s
	}
}

// WithMinUIUpdatePeriod sets how long to wait between logged pushes.
func WithMinUIUpdatePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) { m.minUIUpdatePeriod = d }
}

// WithMinObservedUpdatePeriod sets how long to wait between pushes while
// someone is watching the dashboard.
func WithMinObservedUpdatePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) { m.minObservedUpdatePeriod = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithTracker records push and pull operations.
func WithTracker(t Tracker) ManagerOption {
	return func(m *Manager) { m.tracker = t }
}

// WithAutoStart sets up subscriptions during construction.
func WithAutoStart() ManagerOption {
	return func(m *Manager) { m.autoStart = true }
}

// NewManager returns a manager for agentID with an empty root container.
func NewManager(agentID string, opts ...ManagerOption) *Manager {
	m := &Manager{
		agentID:                 agentID,
		root:                    NewContainer("", ""),
		interactions:            make(map[string]Interactive),
		criticalValues:          make(map[string]any),
		minUIUpdatePeriod:       DefaultMinUIUpdatePeriod,
		minObservedUpdatePeriod: DefaultMinObservedUpdatePeriod,
		now:                     time.Now,
		logger:                  slog.Default().With("component", "ui"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.autoStart {
		if err := m.StartComms(); err != nil {
			m.logger.Error("failed to start comms", "error", err)
		}
	}
	return m
}

// AgentID returns the agent whose channels the manager syncs.
func (m *Manager) AgentID() string { return m.agentID }

// Root returns the root container.
func (m *Manager) Root() *Container { return m.root }

func (m *Manager) persistent() bool { return m.session != nil }

// StartComms subscribes to the ui channels on a session transport.
func (m *Manager) StartComms() error {
	return m.setupSubscriptions()
}

func (m *Manager) setupSubscriptions() error {
	if !m.persistent() {
		m.logger.Error("attempted to set up subscriptions without a session transport")
		return ErrNotPersistent
	}
	m.logger.Info("setting up session subscriptions")
	subs := []struct {
		channel string
		handler AggregateHandler
	}{
		{ChannelState, m.OnStateUpdate},
		{ChannelConnections, m.OnStateConnectionsUpdate},
		{ChannelCommands, m.OnCommandUpdate},
	}
	for _, s := range subs {
		if err := m.session.Subscribe(s.channel, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.channel, err)
		}
	}
	m.subscriptionsReady = true
	return nil
}

func (m *Manager) isConnReady(setup bool) bool {
	if !m.persistent() {
		return m.transport != nil
	}
	if m.subscriptionsReady {
		return true
	}
	if setup {
		if err := m.setupSubscriptions(); err != nil {
			m.logger.Error("failed to set up subscriptions", "error", err)
		}
		return m.subscriptionsReady
	}
	m.logger.Error("session transport used before subscriptions were ready")
	return false
}

// IsConnected reports whether the transport is usable right now.
func (m *Manager) IsConnected() bool {
	if !m.persistent() {
		return m.isConnReady(false)
	}
	if !m.isConnReady(false) {
		return false
	}
	return m.session.IsOnline()
}

// HasBeenConnected reports whether the session has ever been online, or for
// request transports whether a pull has succeeded.
func (m *Manager) HasBeenConnected() bool {
	if m.persistent() {
		return m.session.HasBeenOnline()
	}
	return !m.lastUIStateUpdate.IsZero()
}

// IsBeingObserved reports whether more than one viewer is actively
// connected to the dashboard. Connections reported as false are closed.
func (m *Manager) IsBeingObserved() bool {
	conns, ok := m.lastConnections["connections"].(map[string]any)
	if !ok {
		return false
	}
	active := 0
	for _, v := range conns {
		if open, _ := v.(bool); open {
			active++
		}
	}
	return active > 1
}

// OnStateUpdate records a new ui_state aggregate.
func (m *Manager) OnStateUpdate(_ string, aggregate Document) {
	m.setNewUIState(aggregate)
}

// OnStateConnectionsUpdate records the dashboard viewer connections.
func (m *Manager) OnStateConnectionsUpdate(_ string, aggregate Document) {
	m.lastConnections = aggregate
	m.lastConnectionsUpdate = m.now()
}

// OnCommandUpdate records a new ui_cmds aggregate and routes every changed
// value to its interaction. Commands no local widget declares get a
// placeholder so their values are tracked.
func (m *Manager) OnCommandUpdate(_ string, aggregate Document) {
	prev := m.lastUICmds
	cmds := m.setNewUICmds(aggregate)

	for _, fn := range m.cmdsSubscriptions {
		fn()
	}

	names := sortedKeys(cmds)
	for _, name := range names {
		if _, ok := m.interactions[name]; !ok {
			m.register(NewSlimCommand(name, ""))
		}
	}
	for _, name := range names {
		v := cmds[name]
		if Equal(prev[name], v) {
			continue
		}
		if it := m.interactions[name]; it != nil {
			it.Control().handleNewValue(v)
		}
	}
}

func unwrap(payload Document, key string) Document {
	if payload == nil {
		return Document{}
	}
	inner, ok := payload[key]
	if !ok {
		return payload
	}
	d, _ := inner.(map[string]any)
	if d == nil {
		return Document{}
	}
	return d
}

func (m *Manager) setNewUICmds(payload Document) Document {
	m.lastUICmds = unwrap(payload, "cmds")
	m.lastUICmdsUpdate = m.now()
	return m.lastUICmds
}

func (m *Manager) setNewUIState(payload Document) Document {
	m.lastUIState = unwrap(payload, "state")
	m.lastUIStateUpdate = m.now()
	return m.lastUIState
}

// LastUIState returns the last ui_state aggregate observed remotely.
func (m *Manager) LastUIState() Document { return m.lastUIState }

// LastUICmds returns the last ui_cmds aggregate observed remotely.
func (m *Manager) LastUICmds() Document { return m.lastUICmds }

func (m *Manager) register(it Interactive) {
	name := it.Metadata().Name
	if existing, ok := m.interactions[name]; ok && existing != it {
		m.logger.Warn("duplicate interaction name, replacing", "name", name)
	}
	m.interactions[name] = it
	it.Control().manager = m
}

func (m *Manager) unregister(e Element) {
	if c, ok := e.(interface{ Children() []Element }); ok {
		for _, child := range c.Children() {
			m.unregister(child)
		}
	}
	name := e.Metadata().Name
	if it, ok := m.interactions[name]; ok && Element(it) == e {
		delete(m.interactions, name)
	}
}

func (m *Manager) registerFromElements(elements ...Element) {
	for _, e := range elements {
		if c, ok := e.(interface{ Children() []Element }); ok {
			m.registerFromElements(c.Children()...)
			continue
		}
		if it, ok := e.(Interactive); ok {
			m.register(it)
		}
	}
}

// AddInteraction registers it and adds it to the root container.
func (m *Manager) AddInteraction(it Interactive) {
	m.register(it)
	m.root.AddChildren(it)
}

// GetInteraction returns the registered interaction called name.
func (m *Manager) GetInteraction(name string) Interactive {
	return m.interactions[name]
}

// Interactions returns every registered interaction, ordered by name.
func (m *Manager) Interactions() []Interactive {
	out := make([]Interactive, 0, len(m.interactions))
	for _, name := range m.InteractionNames() {
		out = append(out, m.interactions[name])
	}
	return out
}

// InteractionNames returns the registered interaction names, sorted.
func (m *Manager) InteractionNames() []string {
	names := make([]string, 0, len(m.interactions))
	for name := range m.interactions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CoerceCommand sets a command's value locally. It reports false when no
// such command is registered.
func (m *Manager) CoerceCommand(name string, value any, critical bool) bool {
	it := m.interactions[name]
	if it == nil {
		m.logger.Info("tried to coerce unknown command", "name", name)
		return false
	}
	it.Control().Coerce(value, critical)
	return true
}

// GetElement finds an element anywhere in the tree.
func (m *Manager) GetElement(name string) Element {
	return m.root.GetElement(name)
}

// UpdateVariable sets a variable's value. It reports false when no variable
// with that name exists.
func (m *Manager) UpdateVariable(name string, value any, critical bool) bool {
	v, ok := m.root.GetElement(name).(*Variable)
	if !ok {
		return false
	}
	if critical && !Equal(v.CurrentValue(), normalizeValue(value)) {
		m.criticalPending = true
	}
	v.Update(value)
	return true
}

// AddCmdsUpdateSubscription registers fn to run on every inbound commands
// update, before values are dispatched.
func (m *Manager) AddCmdsUpdateSubscription(fn func()) {
	m.cmdsSubscriptions = append(m.cmdsSubscriptions, fn)
}

// RecordCriticalValue forces a push when value changes.
//
// Deprecated: pass critical to CoerceCommand or UpdateVariable instead.
func (m *Manager) RecordCriticalValue(name string, value any) {
	m.logger.Warn("RecordCriticalValue is deprecated; use the critical flag of CoerceCommand or UpdateVariable")
	if old, ok := m.criticalValues[name]; ok && Equal(old, value) {
		return
	}
	m.criticalValues[name] = value
	m.criticalPending = true
}

// CriticalPending reports whether a critical change is waiting to be pushed.
func (m *Manager) CriticalPending() bool { return m.criticalPending }

// ShouldPushUpdate applies the push rate limits.
func (m *Manager) ShouldPushUpdate() PushDecision {
	if m.criticalPending || m.lastPushed.IsZero() {
		return PushAndLog
	}
	since := m.now().Sub(m.lastPushed)
	if since > m.minUIUpdatePeriod {
		return PushAndLog
	}
	if m.IsBeingObserved() && since > m.minObservedUpdatePeriod {
		return PushOnly
	}
	return DoNothing
}

// HandleComms pushes if the rate limits allow it. forceLog pushes and logs
// regardless.
func (m *Manager) HandleComms(ctx context.Context, forceLog bool) (bool, error) {
	decision := m.ShouldPushUpdate()
	if !forceLog && decision == DoNothing {
		return false, nil
	}
	return m.Push(ctx, PushRecordLog(forceLog || decision == PushAndLog), pushDecision(decision))
}

// Pull fetches both ui aggregates and applies any inbound command changes.
func (m *Manager) Pull(ctx context.Context) (err error) {
	if m.transport == nil {
		return ErrNoTransport
	}
	ctx, done := m.track(ctx, "ui.pull")
	defer func() { done(err) }()

	cmds, err := m.transport.FetchAggregate(ctx, ChannelCommands)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ChannelCommands, err)
	}
	state, err := m.transport.FetchAggregate(ctx, ChannelState)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ChannelState, err)
	}
	m.setNewUIState(state)
	m.OnCommandUpdate(ChannelCommands, cmds)
	return nil
}

type pushConfig struct {
	recordLog   bool
	remove      bool
	timestamp   *time.Time
	evenIfEmpty bool
	decision    PushDecision
}

// PushOption configures a single push.
type PushOption func(*pushConfig)

// PushRecordLog sets whether the state message is kept in the channel log.
// Defaults to true.
func PushRecordLog(v bool) PushOption { return func(c *pushConfig) { c.recordLog = v } }

// PushRemove sets whether keys missing locally are deleted remotely.
// Defaults to true.
func PushRemove(v bool) PushOption { return func(c *pushConfig) { c.remove = v } }

// PushTimestamp stamps the published messages with t.
func PushTimestamp(t time.Time) PushOption { return func(c *pushConfig) { c.timestamp = &t } }

// PushEvenIfEmpty publishes an empty state message when nothing changed.
func PushEvenIfEmpty() PushOption { return func(c *pushConfig) { c.evenIfEmpty = true } }

func pushDecision(d PushDecision) PushOption { return func(c *pushConfig) { c.decision = d } }

// Push publishes the commands diff and then the state diff. It returns false
// without error when a session transport is not ready to push yet.
func (m *Manager) Push(ctx context.Context, opts ...PushOption) (pushed bool, err error) {
	cfg := pushConfig{recordLog: true, remove: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if m.transport == nil {
		return false, ErrNoTransport
	}

	if m.persistent() {
		switch {
		case !m.isConnReady(false):
			m.logger.Warn("attempted to push without a ready session")
			return false, nil
		case !m.session.HasBeenOnline():
			m.logger.Warn("attempted to push before the session was ever online")
			return false, nil
		case m.lastUIStateUpdate.IsZero():
			m.logger.Warn("waiting for ui state before pushing")
			return false, nil
		case m.lastUICmdsUpdate.IsZero():
			m.logger.Warn("waiting for ui commands before pushing")
			return false, nil
		}
	} else if err := m.Pull(ctx); err != nil {
		return false, err
	}

	ctx, done := m.track(ctx, "ui.push", attribute.Bool("record_log", cfg.recordLog))
	defer func() { done(err) }()
	if cfg.decision != 0 {
		observability.AddSpanEvent(ctx, "push_decision",
			observability.AttrPushDecision.String(cfg.decision.String()))
	}

	if cmds := m.CommandsUpdate(); cmds != nil {
		err := m.transport.Publish(ctx, ChannelCommands, Document{"cmds": cmds},
			PublishOptions{RecordLog: true, Timestamp: cfg.timestamp})
		if err != nil {
			return false, fmt.Errorf("publish %s: %w", ChannelCommands, err)
		}
		observability.AddSpanEvent(ctx, "published", observability.AttrChannel.String(ChannelCommands))
	}

	publishOpts := PublishOptions{RecordLog: cfg.recordLog, Timestamp: cfg.timestamp}
	if state := m.StateUpdate(cfg.remove); state != nil {
		if err := m.transport.Publish(ctx, ChannelState, state, publishOpts); err != nil {
			return false, fmt.Errorf("publish %s: %w", ChannelState, err)
		}
		observability.AddSpanEvent(ctx, "published", observability.AttrChannel.String(ChannelState))
	} else if cfg.evenIfEmpty {
		m.logger.Debug("pushing empty ui state")
		if err := m.transport.Publish(ctx, ChannelState, Document{}, publishOpts); err != nil {
			return false, fmt.Errorf("publish %s: %w", ChannelState, err)
		}
	} else {
		m.logger.Debug("ui state unchanged, not pushing")
	}

	m.lastPushed = m.now()
	m.criticalPending = false
	return true, nil
}

// ClearUI wipes the remote ui state.
func (m *Manager) ClearUI(ctx context.Context) error {
	if m.transport == nil {
		return ErrNoTransport
	}
	m.logger.Info("clearing ui")
	return m.transport.Publish(ctx, ChannelState, Document{"state": nil}, PublishOptions{RecordLog: true})
}

// CommandsUpdate diffs local interaction values against the last remote
// commands. Remote commands with no local interaction map to nil. It returns
// nil when nothing differs.
func (m *Manager) CommandsUpdate() Document {
	result := Document{}
	for name, it := range m.interactions {
		v := it.Control().Value()
		if !v.IsSet() {
			continue
		}
		if Equal(m.lastUICmds[name], v.Get()) {
			continue
		}
		result[name] = v.Get()
	}
	for name := range m.lastUICmds {
		if _, ok := m.interactions[name]; !ok {
			result[name] = nil
		}
	}
	m.logger.Debug("commands update", "last", m.lastUICmds, "update", result)
	if len(result) == 0 {
		return nil
	}
	return result
}

// StateUpdate diffs the tree against the last remote state, wrapped as
// {"state": diff}. It returns nil when nothing differs.
func (m *Manager) StateUpdate(remove bool) Document {
	cloud := m.lastUIState
	if cloud == nil {
		cloud = Document{}
	}
	diff := m.root.GetDiff(cloud, remove)
	m.logger.Debug("ui state update", "update", diff)
	if len(diff) == 0 {
		return nil
	}
	return Document{"state": diff}
}

// AddChildren adds elements to the root container and registers every
// interaction found beneath them.
func (m *Manager) AddChildren(children ...Element) {
	m.registerFromElements(children...)
	m.root.AddChildren(children...)
}

// SetChildren replaces the root container's children.
func (m *Manager) SetChildren(children ...Element) {
	m.registerFromElements(children...)
	m.root.SetChildren(children...)
}

// RemoveChildren detaches elements from their parents and unregisters their
// interactions.
func (m *Manager) RemoveChildren(children ...Element) error {
	for _, e := range children {
		if e == nil {
			continue
		}
		if e.Metadata() == m.root.Metadata() {
			return ErrRemoveRoot
		}
		m.unregister(e)
		if parent := e.Metadata().Parent(); parent != nil {
			parent.RemoveChildren(e)
		}
	}
	return nil
}

// SetStatusIcon sets the root status icon.
func (m *Manager) SetStatusIcon(icon string, critical bool) {
	if icon == m.root.StatusIcon {
		return
	}
	if critical {
		m.criticalPending = true
	}
	m.root.StatusIcon = icon
}

// SetDisplayName sets the root display name.
func (m *Manager) SetDisplayName(name string, critical bool) {
	if name == m.root.DisplayName {
		return
	}
	if critical {
		m.criticalPending = true
	}
	m.root.DisplayName = name
}

func (m *Manager) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if m.tracker == nil {
		return ctx, func(error) {}
	}
	attrs = append(attrs, observability.ChannelOperation(m.agentID, "")...)
	return m.tracker.TrackOperation(ctx, name, attrs...)
}
