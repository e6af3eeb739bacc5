package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/getdoover/doover-go/pkg/artifacts"
	"github.com/getdoover/doover-go/pkg/cloud"
)

// API is the subset of the cloud client a deployment needs.
type API interface {
	CreateChannel(ctx context.Context, agentID, name string) (*cloud.Channel, error)
	CreateProcessor(ctx context.Context, agentID, name string) (*cloud.Channel, error)
	CreateTask(ctx context.Context, agentID, name, processorID string) (*cloud.Channel, error)
	GetChannelNamed(ctx context.Context, agentID, name string) (*cloud.Channel, error)
}

// Result summarises what Apply changed.
type Result struct {
	Processors   []string
	Tasks        []string
	Subscribed   []string
	Unsubscribed []string
	Files        []string
	Messages     []string
	// Packages maps processor names to archived package record ids.
	Packages map[string]string
}

// Option configures Apply.
type Option func(*applier)

// WithRegistry archives every processor package before it is published.
func WithRegistry(r *artifacts.Registry) Option {
	return func(a *applier) { a.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *applier) { a.logger = l }
}

type applier struct {
	api      API
	agentID  string
	baseDir  string
	registry *artifacts.Registry
	logger   *slog.Logger
}

// Apply deploys cfg to agentID. Relative paths in cfg resolve against
// baseDir, normally the directory holding the config file. Apply stops at
// the first failure; the returned Result lists what completed before it.
func Apply(ctx context.Context, api API, agentID, baseDir string, cfg *Config, opts ...Option) (*Result, error) {
	a := &applier{
		api:     api,
		agentID: agentID,
		baseDir: baseDir,
		logger:  slog.Default().With("component", "deploy"),
	}
	for _, opt := range opts {
		opt(a)
	}
	res := &Result{Packages: map[string]string{}}
	if cfg == nil {
		return res, nil
	}

	if pd := cfg.ProcessorDeployments; pd != nil {
		for _, p := range pd.Processors {
			if err := a.processor(ctx, p, res); err != nil {
				return res, err
			}
		}
		for _, t := range pd.Tasks {
			if err := a.task(ctx, t, res); err != nil {
				return res, err
			}
		}
	}

	if fd := cfg.FileDeployments; fd != nil {
		for _, f := range fd.Files {
			ch, err := a.api.CreateChannel(ctx, agentID, f.Name)
			if err != nil {
				return res, fmt.Errorf("file %s: %w", f.Name, err)
			}
			if err := ch.PublishFile(ctx, a.path(f.Path), f.MimeType); err != nil {
				return res, fmt.Errorf("file %s: %w", f.Name, err)
			}
			a.logger.InfoContext(ctx, "published file", "channel", ch.Name)
			res.Files = append(res.Files, ch.Name)
		}
	}

	for _, m := range cfg.ChannelMessages {
		ch, err := a.api.CreateChannel(ctx, agentID, m.ChannelName)
		if err != nil {
			return res, fmt.Errorf("message %s: %w", m.ChannelName, err)
		}
		if _, err := ch.Publish(ctx, m.Message, cloud.PublishOptions{RecordLog: true}); err != nil {
			return res, fmt.Errorf("message %s: %w", m.ChannelName, err)
		}
		a.logger.InfoContext(ctx, "published message", "channel", ch.Name)
		res.Messages = append(res.Messages, ch.Name)
	}
	return res, nil
}

func (a *applier) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.baseDir, p)
}

func (a *applier) processor(ctx context.Context, p Processor, res *Result) error {
	ch, err := a.api.CreateProcessor(ctx, a.agentID, p.Name)
	if err != nil {
		return fmt.Errorf("processor %s: %w", p.Name, err)
	}

	dir := a.path(p.PackageDir)
	var archive []byte
	if a.registry != nil {
		var recID string
		recID, _, archive, err = a.registry.ArchivePackage(ctx, ch.Name, a.agentID, dir)
		if err != nil {
			return fmt.Errorf("processor %s: %w", p.Name, err)
		}
		res.Packages[ch.Name] = recID
	} else {
		archive, _, err = artifacts.ZipDir(dir)
		if err != nil {
			return fmt.Errorf("processor %s: %w", p.Name, err)
		}
	}

	if err := ch.PublishPackage(ctx, archive); err != nil {
		return fmt.Errorf("processor %s: %w", p.Name, err)
	}
	if err := ch.Refresh(ctx); err != nil {
		return fmt.Errorf("processor %s: %w", p.Name, err)
	}
	a.logger.InfoContext(ctx, "deployed processor", "processor", ch.Name, "package_bytes", len(archive))
	res.Processors = append(res.Processors, ch.Name)
	return nil
}

func (a *applier) task(ctx context.Context, t Task, res *Result) error {
	proc, err := a.api.GetChannelNamed(ctx, a.agentID, cloud.ProcessorName(t.ProcessorName))
	if err != nil {
		return fmt.Errorf("task %s: processor %s: %w", t.Name, t.ProcessorName, err)
	}
	task, err := a.api.CreateTask(ctx, a.agentID, t.Name, proc.ID)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	if t.Config != nil {
		if _, err := task.Publish(ctx, t.Config, cloud.PublishOptions{RecordLog: true}); err != nil {
			return fmt.Errorf("task %s config: %w", t.Name, err)
		}
	}
	a.logger.InfoContext(ctx, "deployed task", "task", task.Name, "processor", proc.Name)
	res.Tasks = append(res.Tasks, task.Name)

	for _, sub := range t.Subscriptions {
		ch, err := a.api.CreateChannel(ctx, a.agentID, sub.ChannelName)
		if err != nil {
			return fmt.Errorf("task %s subscription %s: %w", t.Name, sub.ChannelName, err)
		}
		if sub.IsActive {
			if err := task.SubscribeTo(ctx, ch.ID); err != nil {
				return fmt.Errorf("task %s subscribe %s: %w", t.Name, ch.Name, err)
			}
			res.Subscribed = append(res.Subscribed, task.Name+"<-"+ch.Name)
		} else {
			if err := task.UnsubscribeFrom(ctx, ch.ID); err != nil {
				return fmt.Errorf("task %s unsubscribe %s: %w", t.Name, ch.Name, err)
			}
			res.Unsubscribed = append(res.Unsubscribed, task.Name+"<-"+ch.Name)
		}
		a.logger.InfoContext(ctx, "updated subscription", "task", task.Name, "channel", ch.Name, "active", sub.IsActive)
	}
	return nil
}
