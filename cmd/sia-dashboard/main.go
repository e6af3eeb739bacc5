// Command sia-dashboard is the processor that installs the storages
// dashboard on an agent.
//
// When the package config carries message_type DEPLOY, it takes the
// RemoteComponent the agent's application left in ui_state and republishes
// it as GwStoragesDashboard, renaming its containers to children.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/getdoover/doover-go/pkg/cloud"
	"github.com/getdoover/doover-go/pkg/processor"
	"github.com/getdoover/doover-go/pkg/ui"
)

const (
	messageDeploy = "DEPLOY"

	remoteComponentKey = "RemoteComponent"
	dashboardKey       = "GwStoragesDashboard"
)

type dashboardTask struct {
	uiState *cloud.Channel
}

func (t *dashboardTask) Setup(ctx context.Context, env *processor.Env) error {
	ch, err := env.API.CreateChannel(ctx, env.AgentID, ui.ChannelState)
	if err != nil {
		return fmt.Errorf("ui_state channel: %w", err)
	}
	t.uiState = ch
	return nil
}

func (t *dashboardTask) Process(ctx context.Context, env *processor.Env) error {
	if env.PackageConfig["message_type"] != messageDeploy {
		return nil
	}
	return t.onDeploy(ctx, env)
}

func (t *dashboardTask) Close(context.Context, *processor.Env) error { return nil }

func (t *dashboardTask) onDeploy(ctx context.Context, env *processor.Env) error {
	agg, err := t.uiState.FetchAggregate(ctx)
	if err != nil {
		return fmt.Errorf("fetch ui_state: %w", err)
	}

	component := remoteComponent(agg)
	if component == nil {
		env.Logger.ErrorContext(ctx, "RemoteComponent not found in ui_state")
		return nil
	}

	update := ui.Document{
		"state": map[string]any{
			"children": map[string]any{
				remoteComponentKey: nil,
				dashboardKey:       component,
			},
		},
	}
	if _, err := t.uiState.Publish(ctx, update, cloud.PublishOptions{}); err != nil {
		return fmt.Errorf("publish dashboard: %w", err)
	}
	env.Logger.InfoContext(ctx, "dashboard deployed", "element", dashboardKey)
	return nil
}

// remoteComponent returns a copy of the first RemoteComponent object in a
// ui_state aggregate with containers renamed to children, or nil.
func remoteComponent(agg any) ui.Document {
	doc, ok := agg.(map[string]any)
	if !ok || len(doc) == 0 {
		return nil
	}
	found, ok := ui.FindKey(doc, remoteComponentKey)
	if !ok {
		return nil
	}
	obj, ok := found.(map[string]any)
	if !ok {
		return nil
	}
	out := make(ui.Document, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	if containers, ok := out["containers"]; ok {
		out["children"] = containers
		delete(out, "containers")
	}
	return out
}

func main() {
	os.Exit(processor.Main(&dashboardTask{}))
}
