package cloud

import (
	"context"
	"encoding/json"
)

// Agent is a device, user or organisation that owns channels.
type Agent struct {
	ID       string
	Type     string
	Name     string
	OwnerOrg string
	// DeploymentConfig is the agent's settings.deployment_config, when set.
	DeploymentConfig map[string]any
	Channels         []*Channel

	client *Client
}

type agentJSON struct {
	Agent    string     `json:"agent"`
	Type     string     `json:"type"`
	Name     string     `json:"name"`
	OwnerOrg string     `json:"owner_org"`
	Channels []*Channel `json:"channels"`
	Settings struct {
		DeploymentConfig map[string]any `json:"deployment_config"`
	} `json:"settings"`
}

func (a *Agent) UnmarshalJSON(b []byte) error {
	var raw agentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Agent{
		ID:               raw.Agent,
		Type:             raw.Type,
		Name:             raw.Name,
		OwnerOrg:         raw.OwnerOrg,
		DeploymentConfig: raw.Settings.DeploymentConfig,
		Channels:         raw.Channels,
		client:           a.client,
	}
	return nil
}

func (a *Agent) bind(c *Client) {
	a.client = c
	for _, ch := range a.Channels {
		ch.client = c
		if ch.AgentID == "" {
			ch.AgentID = a.ID
		}
	}
}

// Refresh reloads the agent from the API.
func (a *Agent) Refresh(ctx context.Context) error {
	fresh, err := a.client.GetAgent(ctx, a.ID)
	if err != nil {
		return err
	}
	*a = *fresh
	return nil
}

// Channel returns the agent's channel with the given name, or nil.
func (a *Agent) Channel(name string) *Channel {
	for _, ch := range a.Channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}
