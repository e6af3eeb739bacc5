package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/getdoover/doover-go/pkg/observability"
)

type published struct {
	channel string
	payload any
	opts    PublishOptions
}

// fakeTransport merges published payloads into its aggregates the way the
// channels API does.
type fakeTransport struct {
	aggregates map[string]Document
	published  []published
	fetches    []string
	fetchErr   error
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{aggregates: map[string]Document{}}
}

func (f *fakeTransport) FetchAggregate(_ context.Context, channel string) (Document, error) {
	f.fetches = append(f.fetches, channel)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return cloneDocument(f.aggregates[channel]), nil
}

func (f *fakeTransport) Publish(_ context.Context, channel string, payload any, opts PublishOptions) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{channel, payload, opts})
	if doc, ok := payload.(Document); ok {
		f.aggregates[channel] = ApplyDiff(f.aggregates[channel], doc)
	}
	return nil
}

type fakeSession struct {
	*fakeTransport
	subs          map[string]AggregateHandler
	online        bool
	hasBeenOnline bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{fakeTransport: newFakeTransport(), subs: map[string]AggregateHandler{}}
}

func (s *fakeSession) Subscribe(channel string, h AggregateHandler) error {
	s.subs[channel] = h
	return nil
}

func (s *fakeSession) IsOnline() bool      { return s.online }
func (s *fakeSession) HasBeenOnline() bool { return s.hasBeenOnline }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *fakeTransport, *fakeClock) {
	t.Helper()
	ft := newFakeTransport()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	opts = append([]ManagerOption{WithRequestTransport(ft), WithClock(clock.now)}, opts...)
	return NewManager("agent-1", opts...), ft, clock
}

// TestShouldPushUpdate verifies the rate limiting rules in priority order.
func TestShouldPushUpdate(t *testing.T) {
	m, _, clock := newTestManager(t)
	assert.Equal(t, PushAndLog, m.ShouldPushUpdate(), "never pushed")

	m.lastPushed = clock.now()
	clock.advance(3 * time.Second)
	assert.Equal(t, DoNothing, m.ShouldPushUpdate())

	m.OnStateConnectionsUpdate(ChannelConnections, Document{"connections": map[string]any{"me": true, "viewer": true}})
	assert.True(t, m.IsBeingObserved())
	assert.Equal(t, DoNothing, m.ShouldPushUpdate(), "observed but within 4s")

	clock.advance(2 * time.Second)
	assert.Equal(t, PushOnly, m.ShouldPushUpdate())

	clock.advance(600 * time.Second)
	assert.Equal(t, PushAndLog, m.ShouldPushUpdate())
}

func TestIsBeingObservedCountsActiveConnections(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.False(t, m.IsBeingObserved(), "no connections payload")

	m.OnStateConnectionsUpdate(ChannelConnections, Document{"connections": map[string]any{"me": true, "gone": false}})
	assert.False(t, m.IsBeingObserved())

	m.OnStateConnectionsUpdate(ChannelConnections, Document{"connections": map[string]any{"me": true, "gone": false, "viewer": true}})
	assert.True(t, m.IsBeingObserved())
}

func TestShouldPushUpdateObservedWithinWindow(t *testing.T) {
	m, _, clock := newTestManager(t, WithMinObservedUpdatePeriod(2*time.Second))
	m.OnStateConnectionsUpdate(ChannelConnections, Document{"connections": map[string]any{"a": true, "b": true}})
	m.lastPushed = clock.now()
	clock.advance(3 * time.Second)
	assert.Equal(t, PushOnly, m.ShouldPushUpdate())

	m.OnStateConnectionsUpdate(ChannelConnections, Document{"connections": map[string]any{"a": true}})
	assert.False(t, m.IsBeingObserved())
	assert.Equal(t, DoNothing, m.ShouldPushUpdate())
}

func TestCriticalCoerceBypassesRateLimit(t *testing.T) {
	m, _, clock := newTestManager(t)
	action := NewAction("pump", "Pump", WithValue(false))
	m.AddInteraction(action)
	m.lastPushed = clock.now()

	action.Coerce(false, true)
	assert.Equal(t, DoNothing, m.ShouldPushUpdate(), "unchanged value is not critical")

	action.Coerce(true, true)
	assert.Equal(t, PushAndLog, m.ShouldPushUpdate())
}

func TestCommandsUpdate(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.AddInteraction(NewSlimCommand("a", "", WithValue(1)))
	m.AddInteraction(NewSlimCommand("b", "", WithValue(2)))
	m.AddInteraction(NewSlimCommand("unset", ""))
	m.lastUICmds = Document{"a": 1, "c": 3}

	assert.Equal(t, Document{"b": 2, "c": nil}, m.CommandsUpdate())
}

func TestPushOverRequestTransport(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.aggregates[ChannelCommands] = Document{"cmds": Document{"stale": 1}}
	temp := NewNumericVariable("temp", "Temp", WithValue(20))
	m.AddChildren(NewContainer("tank", "Tank", WithChildren(temp)))
	m.AddInteraction(NewAction("go", "Go", WithValue(true)))

	pushed, err := m.Push(context.Background())
	require.NoError(t, err)
	require.True(t, pushed)

	assert.Equal(t, []string{ChannelCommands, ChannelState}, ft.fetches, "pull happens before push")
	require.Len(t, ft.published, 2)
	assert.Equal(t, ChannelCommands, ft.published[0].channel, "commands go first")
	assert.Equal(t, ChannelState, ft.published[1].channel)
	assert.True(t, ft.published[1].opts.RecordLog)

	state := ft.aggregates[ChannelState]["state"].(Document)
	assert.True(t, Equal(m.Root().ToDict(), state))
	assert.Equal(t, true, ft.aggregates[ChannelCommands]["cmds"].(Document)["go"])

	// Nothing changed: the second push publishes no state.
	ft.published = nil
	pushed, err = m.Push(context.Background())
	require.NoError(t, err)
	assert.True(t, pushed)
	assert.Empty(t, ft.published)

	temp.Update(21)
	_, err = m.Push(context.Background(), PushRecordLog(false))
	require.NoError(t, err)
	require.Len(t, ft.published, 1)
	assert.False(t, ft.published[0].opts.RecordLog)
	assert.Equal(t,
		Document{"state": Document{"children": Document{"tank": Document{"children": Document{"temp": Document{"currentValue": 21}}}}}},
		ft.published[0].payload)
}

func TestPushEvenIfEmpty(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.aggregates[ChannelState] = Document{"state": m.Root().ToDict()}

	at := time.Unix(1_600_000_000, 0)
	_, err := m.Push(context.Background(), PushEvenIfEmpty(), PushTimestamp(at))
	require.NoError(t, err)
	require.Len(t, ft.published, 1)
	assert.Equal(t, Document{}, ft.published[0].payload)
	assert.Equal(t, at, *ft.published[0].opts.Timestamp)
}

func TestPushPropagatesTransportErrors(t *testing.T) {
	m, ft, _ := newTestManager(t)
	m.AddChildren(NewTextVariable("a", "A", WithValue("x")))

	boom := errors.New("boom")
	ft.fetchErr = boom
	pushed, err := m.Push(context.Background())
	assert.False(t, pushed)
	assert.ErrorIs(t, err, boom)

	ft.fetchErr = nil
	ft.publishErr = boom
	pushed, err = m.Push(context.Background())
	assert.False(t, pushed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, m.lastPushed.IsZero(), "failed push leaves the timestamp alone")
}

func TestPushClearsCriticalPending(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := NewAction("a", "A")
	m.AddInteraction(a)
	a.Coerce(true, true)
	require.True(t, m.CriticalPending())

	_, err := m.Push(context.Background())
	require.NoError(t, err)
	assert.False(t, m.CriticalPending())
	assert.False(t, m.lastPushed.IsZero())
}

func TestPushWithoutTransport(t *testing.T) {
	m := NewManager("agent")
	_, err := m.Push(context.Background())
	assert.ErrorIs(t, err, ErrNoTransport)
	assert.ErrorIs(t, m.Pull(context.Background()), ErrNoTransport)
}

func TestPushOverSessionTransport(t *testing.T) {
	s := newFakeSession()
	m := NewManager("agent", WithSessionTransport(s))
	m.AddChildren(NewTextVariable("a", "A", WithValue("x")))

	pushed, err := m.Push(context.Background())
	require.NoError(t, err)
	assert.False(t, pushed, "subscriptions not set up")

	require.NoError(t, m.StartComms())
	assert.Len(t, s.subs, 3)
	pushed, _ = m.Push(context.Background())
	assert.False(t, pushed, "never online")

	s.hasBeenOnline, s.online = true, true
	assert.True(t, m.IsConnected())
	pushed, _ = m.Push(context.Background())
	assert.False(t, pushed, "state not received")

	s.subs[ChannelState](ChannelState, Document{"state": Document{}})
	pushed, _ = m.Push(context.Background())
	assert.False(t, pushed, "commands not received")

	s.subs[ChannelCommands](ChannelCommands, Document{"cmds": Document{}})
	pushed, err = m.Push(context.Background())
	require.NoError(t, err)
	assert.True(t, pushed)
	assert.Empty(t, s.fetches, "session transport does not pull before pushing")
	require.Len(t, s.published, 1)
	assert.Equal(t, ChannelState, s.published[0].channel)
}

func TestStartCommsRequiresSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.ErrorIs(t, m.StartComms(), ErrNotPersistent)
}

func TestOnCommandUpdate(t *testing.T) {
	m, _, _ := newTestManager(t)
	var order []string
	var got []any
	pump := NewAction("pump", "Pump", OnChange(func(v any) error {
		order = append(order, "callback")
		got = append(got, v)
		return nil
	}))
	m.AddInteraction(pump)
	m.AddCmdsUpdateSubscription(func() { order = append(order, "subscription") })

	m.OnCommandUpdate(ChannelCommands, Document{"cmds": Document{"pump": true, "remote_only": 5}})

	assert.Equal(t, []string{"subscription", "callback"}, order)
	assert.Equal(t, []any{true}, got)
	assert.Equal(t, true, pump.CurrentValue())

	placeholder := m.GetInteraction("remote_only")
	require.NotNil(t, placeholder)
	assert.Equal(t, 5, placeholder.Control().CurrentValue())
	assert.Nil(t, m.GetElement("remote_only"), "placeholders are not added to the tree")

	// Unchanged values do not fire callbacks again.
	m.OnCommandUpdate(ChannelCommands, Document{"cmds": Document{"pump": true, "remote_only": 5}})
	assert.Len(t, got, 1)
}

func TestHandleNewValueTransformAndCallbackFailures(t *testing.T) {
	calls := 0
	p := NewNumericParameter("limit", "Limit",
		WithValue(1),
		WithTransform(func(v any) (any, error) {
			f, ok := asNumber(v)
			if !ok || f < 0 {
				return nil, errors.New("must be a positive number")
			}
			return f, nil
		}),
		OnChange(func(any) error {
			calls++
			if calls == 2 {
				panic("callback exploded")
			}
			return errors.New("callback failed")
		}),
	)

	p.handleNewValue(-1)
	assert.Equal(t, 1, p.CurrentValue(), "rejected value is not applied")
	assert.Zero(t, calls)

	p.handleNewValue(5)
	assert.Equal(t, 5.0, p.CurrentValue(), "value applied even when the callback fails")
	assert.Equal(t, 1, calls)

	assert.NotPanics(t, func() { p.handleNewValue(6) })
	assert.Equal(t, 6.0, p.CurrentValue())
}

func TestDefaultValue(t *testing.T) {
	p := NewTextParameter("mode", "Mode", WithDefault("auto"))
	assert.Equal(t, "auto", p.CurrentValue(), "unset value coerced to default")

	p.handleNewValue(nil)
	assert.Equal(t, "auto", p.CurrentValue(), "null replaced by default")

	h := NewHiddenValue("h")
	h.handleNewValue(nil)
	assert.True(t, h.Value().IsNull())
	assert.NotContains(t, h.Interaction.ToDict(), "currentValue")
}

func TestPullUnwrapsPayloads(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.aggregates[ChannelState] = Document{"state": Document{"name": "x"}}
	ft.aggregates[ChannelCommands] = Document{"cmds": nil}

	require.NoError(t, m.Pull(context.Background()))
	assert.Equal(t, Document{"name": "x"}, m.LastUIState())
	assert.Equal(t, Document{}, m.LastUICmds())
	assert.True(t, m.HasBeenConnected())

	m.OnStateUpdate(ChannelState, Document{"name": "bare"})
	assert.Equal(t, Document{"name": "bare"}, m.LastUIState())
	m.OnStateUpdate(ChannelState, nil)
	assert.Equal(t, Document{}, m.LastUIState())
}

func TestRemoveChildrenUnregisters(t *testing.T) {
	m, _, _ := newTestManager(t)
	action := NewAction("go", "Go")
	sub := NewSubmodule("sub", "Sub", WithChildren(action))
	m.AddChildren(sub)
	require.NotNil(t, m.GetInteraction("go"))

	require.NoError(t, m.RemoveChildren(sub))
	assert.Nil(t, m.GetInteraction("go"))
	assert.Nil(t, m.GetElement("sub"))

	assert.ErrorIs(t, m.RemoveChildren(m.Root()), ErrRemoveRoot)
}

func TestDuplicateInteractionReplaces(t *testing.T) {
	m, _, _ := newTestManager(t)
	first := NewAction("go", "First")
	second := NewAction("go", "Second")
	m.AddInteraction(first)
	m.AddInteraction(second)
	assert.Same(t, second, m.GetInteraction("go").(*Action))
	assert.Equal(t, []string{"go"}, m.InteractionNames())
}

func TestUpdateVariableAndCoerceCommand(t *testing.T) {
	m, _, clock := newTestManager(t)
	m.AddChildren(NewNumericVariable("temp", "Temp", WithValue(1)))
	m.AddInteraction(NewSlimCommand("cmd", ""))
	m.lastPushed = clock.now()

	assert.False(t, m.UpdateVariable("missing", 1, true))
	assert.True(t, m.UpdateVariable("temp", 1, true))
	assert.False(t, m.CriticalPending())
	assert.True(t, m.UpdateVariable("temp", 2, true))
	assert.True(t, m.CriticalPending())

	assert.False(t, m.CoerceCommand("missing", 1, false))
	assert.True(t, m.CoerceCommand("cmd", "x", false))
	assert.Equal(t, "x", m.GetInteraction("cmd").Control().CurrentValue())
}

func TestRootSetters(t *testing.T) {
	m, _, clock := newTestManager(t)
	m.lastPushed = clock.now()

	m.SetStatusIcon("ok", false)
	assert.False(t, m.CriticalPending())
	m.SetDisplayName("Tank", true)
	assert.True(t, m.CriticalPending())
	assert.Equal(t, "ok", m.Root().ToDict()["statusIcon"])
	assert.Equal(t, "Tank", m.Root().ToDict()["displayString"])

	m.criticalPending = false
	m.RecordCriticalValue("level", 3)
	assert.True(t, m.CriticalPending())
	m.criticalPending = false
	m.RecordCriticalValue("level", 3)
	assert.False(t, m.CriticalPending())
}

func TestHandleComms(t *testing.T) {
	m, ft, clock := newTestManager(t)
	m.AddChildren(NewTextVariable("a", "A", WithValue("x")))

	pushed, err := m.HandleComms(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, pushed)

	clock.advance(time.Second)
	ft.published = nil
	pushed, err = m.HandleComms(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, pushed)

	pushed, err = m.HandleComms(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, pushed)
}

func TestHandleCommsTracksPushDecision(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider, err := observability.NewWithProviders(nil,
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	require.NoError(t, err)

	m, _, _ := newTestManager(t, WithTracker(provider))
	m.AddChildren(NewStateCommand("mode", "Mode", nil, WithValue("auto")))

	pushed, err := m.HandleComms(context.Background(), false)
	require.NoError(t, err)
	require.True(t, pushed)

	var push sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "ui.push" {
			push = s
		}
	}
	require.NotNil(t, push)
	assert.Contains(t, push.Attributes(), observability.AttrAgentID.String("agent-1"))

	var events []string
	for _, e := range push.Events() {
		events = append(events, e.Name)
	}
	assert.Equal(t, []string{"push_decision", "published", "published"}, events)
	assert.Contains(t, push.Events()[0].Attributes, observability.AttrPushDecision.String("push_and_log"))
	assert.Contains(t, push.Events()[1].Attributes, observability.AttrChannel.String(ChannelCommands))
	assert.Contains(t, push.Events()[2].Attributes, observability.AttrChannel.String(ChannelState))
}

func TestClearUI(t *testing.T) {
	m, ft, _ := newTestManager(t)
	ft.aggregates[ChannelState] = Document{"state": Document{"name": "x"}}
	require.NoError(t, m.ClearUI(context.Background()))
	assert.Equal(t, Document{"state": nil}, ft.published[0].payload)
	assert.Equal(t, Document{}, ft.aggregates[ChannelState])
}
