package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/getdoover/doover-go/pkg/cloud"
	"github.com/getdoover/doover-go/pkg/config"
	"github.com/getdoover/doover-go/pkg/observability"
	"github.com/getdoover/doover-go/pkg/ratelimit"
)

var errNoAgent = errors.New("no agent selected: pass --agent or configure a default agent")

// globalFlags are accepted by every command that talks to the API.
type globalFlags struct {
	profile string
	agent   string
	baseURL string
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.profile, "profile", "", "Profile to use (default: current profile)")
	fs.StringVar(&g.agent, "agent", "", "Agent id or name (default: the profile's agent)")
	fs.StringVar(&g.baseURL, "base-url", "", "Override the Doover API URL")
	return g
}

// session is an authenticated API client for one CLI invocation.
type session struct {
	cfg       *config.Config
	profiles  *config.ProfileStore
	profile   *config.Profile
	client    *cloud.Client
	agentID   string
	logger    *slog.Logger
	telemetry *observability.Provider
}

func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func openSession(ctx context.Context, g *globalFlags, stderr io.Writer) (*session, error) {
	cfg := config.Load()
	logger := newLogger(cfg, stderr)

	profiles, err := config.LoadProfiles(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	var profile *config.Profile
	if g.profile != "" {
		profile, err = profiles.Get(g.profile)
		if err != nil {
			return nil, err
		}
	} else {
		profile = profiles.Current()
	}
	if profile == nil {
		return nil, fmt.Errorf("no profile configured: run `doover configure` first")
	}

	baseURL := g.baseURL
	if baseURL == "" {
		baseURL = profile.BaseURL
	}
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceName = "doover-cli"
	otelCfg.ServiceVersion = Version
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	limiter := ratelimit.NewStore(ratelimit.Options{RedisAddr: cfg.RedisAddr})
	policy := ratelimit.Policy{PerSecond: cfg.PublishRPS, Burst: cfg.PublishBurst}

	opts := []cloud.Option{
		cloud.WithTimeout(cfg.RequestTimeout),
		cloud.WithLogger(logger.With("component", "cloud")),
		cloud.WithTelemetry(telemetry),
		cloud.WithPublishLimiter(limiter, policy),
		cloud.WithAgentID(profile.AgentID),
		cloud.WithLoginCallback(func(token string, expires time.Time, agentID string) {
			profile.Token = token
			profile.TokenExpires = expires
			if profile.AgentID == "" {
				profile.AgentID = agentID
			}
			if err := profiles.Save(); err != nil {
				logger.Warn("failed to save refreshed token", "profile", profile.Name, "error", err)
			}
		}),
	}
	if profile.Token != "" {
		opts = append(opts, cloud.WithToken(profile.Token, profile.TokenExpires))
	}
	if profile.Username != "" && profile.Password != "" {
		opts = append(opts, cloud.WithCredentials(profile.Username, profile.Password))
	}
	client, err := cloud.New(baseURL, opts...)
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	s := &session{
		cfg:       cfg,
		profiles:  profiles,
		profile:   profile,
		client:    client,
		logger:    logger,
		telemetry: telemetry,
	}
	s.agentID, err = resolveAgent(ctx, client, g.agent)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

// resolveAgent accepts an agent id or name. Anything that is not a UUID is
// looked up by name. An empty value falls back to the client's agent.
func resolveAgent(ctx context.Context, client *cloud.Client, value string) (string, error) {
	if value == "" {
		return client.AgentID(), nil
	}
	if _, err := uuid.Parse(value); err == nil {
		return value, nil
	}
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve agent %q: %w", value, err)
	}
	for _, a := range agents {
		if a.Name == value {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("no agent named %q", value)
}

func (s *session) requireAgent() error {
	if s.agentID == "" {
		return errNoAgent
	}
	return nil
}

func (s *session) close(ctx context.Context) {
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown failed", "error", err)
	}
}
