// Package observability traces and counts Doover SDK operations with
// OpenTelemetry.
//
// Build one provider per process and hand it to the clients that should
// report through it:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "doover-cli",
//		OTLPEndpoint: "otel-collector:4317",
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
//	client, err := cloud.New(baseURL, cloud.WithTelemetry(p))
//	manager := ui.NewManager(agentID, ui.WithTracker(p))
//
// REST calls, channel fetches and publishes, UI pushes and pulls and
// processor runs each become a span and a sample in the doover.operations.*
// instruments. UI pushes carry push_decision and published span events.
package observability
