package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the SDK packages.
const (
	AttrOperation    = attribute.Key("doover.operation")
	AttrAgentID      = attribute.Key("doover.agent.id")
	AttrChannel      = attribute.Key("doover.channel")
	AttrTaskID       = attribute.Key("doover.task.id")
	AttrPushDecision = attribute.Key("doover.ui.push_decision")
	AttrErrorType    = attribute.Key("error.type")
	AttrHTTPMethod   = attribute.Key("http.request.method")
	AttrHTTPRoute    = attribute.Key("http.route")
)

// ChannelOperation returns the attributes for an operation on an agent's
// channel. Empty values are left out.
func ChannelOperation(agentID, channel string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if agentID != "" {
		attrs = append(attrs, AttrAgentID.String(agentID))
	}
	if channel != "" {
		attrs = append(attrs, AttrChannel.String(channel))
	}
	return attrs
}

// HTTPRequest returns the attributes for an outbound REST call.
func HTTPRequest(method, route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(route),
	}
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
