// Package processor runs user tasks triggered by channel messages.
//
// The platform invokes a processor with a JSON Invocation. Execute builds a
// cloud client, a UI manager and an Env from it, then runs the task's
// Setup, Process and Close steps. Step failures are logged, never returned:
// a task invocation always completes, and everything it logged is
// published to the invocation's log channel.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/getdoover/doover-go/pkg/cloud"
	"github.com/getdoover/doover-go/pkg/observability"
	"github.com/getdoover/doover-go/pkg/ui"
)

// ErrInvalidInvocation is returned when an invocation lacks the fields
// needed to reach the API.
var ErrInvalidInvocation = errors.New("invalid invocation")

// Invocation is the payload the platform runs a processor with.
type Invocation struct {
	AgentID       string          `json:"agent_id"`
	AccessToken   string          `json:"access_token"`
	APIEndpoint   string          `json:"api_endpoint"`
	PackageConfig map[string]any  `json:"package_config"`
	Message       json.RawMessage `json:"msg_obj"`
	TaskID        string          `json:"task_id"`
	LogChannel    string          `json:"log_channel"`
	AgentSettings AgentSettings   `json:"agent_settings"`
}

// AgentSettings carries the invoking agent's settings.
type AgentSettings struct {
	DeploymentConfig map[string]any `json:"deployment_config"`
}

// Validate reports missing required fields.
func (inv *Invocation) Validate() error {
	switch {
	case inv.AgentID == "":
		return fmt.Errorf("%w: agent_id is required", ErrInvalidInvocation)
	case inv.AccessToken == "":
		return fmt.Errorf("%w: access_token is required", ErrInvalidInvocation)
	}
	return nil
}

// ReadInvocation decodes an invocation from r.
func ReadInvocation(r io.Reader) (*Invocation, error) {
	var inv Invocation
	if err := json.NewDecoder(r).Decode(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvocation, err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Env is what a task sees of its invocation.
type Env struct {
	InvocationID string
	AgentID      string
	TaskID       string
	API          *cloud.Client
	UI           *ui.Manager
	// Message is the message that triggered the task, or nil.
	Message       *cloud.Message
	PackageConfig map[string]any
	Logger        *slog.Logger

	deploymentConfig map[string]any
}

// AgentConfig returns the agent's deployment config, or one key of it when
// key is not empty.
func (e *Env) AgentConfig(key string) any {
	if key == "" {
		return e.deploymentConfig
	}
	return e.deploymentConfig[key]
}

// FetchChannel loads a channel by id.
func (e *Env) FetchChannel(ctx context.Context, channelID string) (*cloud.Channel, error) {
	return e.API.GetChannel(ctx, channelID)
}

// FetchChannelNamed loads one of the invoking agent's channels by name.
func (e *Env) FetchChannelNamed(ctx context.Context, name string) (*cloud.Channel, error) {
	return e.API.GetChannelNamed(ctx, e.AgentID, name)
}

// Task is user code run by a processor.
type Task interface {
	Setup(ctx context.Context, env *Env) error
	Process(ctx context.Context, env *Env) error
	Close(ctx context.Context, env *Env) error
}

// ProcessFunc adapts a function to a Task with no setup or teardown.
type ProcessFunc func(ctx context.Context, env *Env) error

func (f ProcessFunc) Setup(context.Context, *Env) error           { return nil }
func (f ProcessFunc) Process(ctx context.Context, env *Env) error { return f(ctx, env) }
func (f ProcessFunc) Close(context.Context, *Env) error           { return nil }

// Report describes one execution.
type Report struct {
	InvocationID string
	Started      time.Time
	Duration     time.Duration
	SetupErr     error
	ProcessErr   error
	CloseErr     error
	// Logs is the captured log text published to the log channel.
	Logs          string
	LogsPublished bool
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	return r.SetupErr != nil || r.ProcessErr != nil || r.CloseErr != nil
}

// Option configures Execute.
type Option func(*runner)

// WithConsole sets the handler records are mirrored to besides the log
// sink. Defaults to slog.Default's handler.
func WithConsole(h slog.Handler) Option {
	return func(r *runner) { r.console = h }
}

// WithLogLevel sets the lowest level captured for the log channel.
func WithLogLevel(level slog.Leveler) Option {
	return func(r *runner) { r.level = level }
}

// WithClientOptions passes options to the cloud client.
func WithClientOptions(opts ...cloud.Option) Option {
	return func(r *runner) { r.clientOpts = append(r.clientOpts, opts...) }
}

// WithManagerOptions passes options to the UI manager.
func WithManagerOptions(opts ...ui.ManagerOption) Option {
	return func(r *runner) { r.managerOpts = append(r.managerOpts, opts...) }
}

// WithTelemetry traces each execution and its API calls.
func WithTelemetry(p *observability.Provider) Option {
	return func(r *runner) { r.telemetry = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *runner) { r.now = now }
}

type runner struct {
	console     slog.Handler
	level       slog.Leveler
	clientOpts  []cloud.Option
	managerOpts []ui.ManagerOption
	telemetry   *observability.Provider
	now         func() time.Time
}

// Execute runs task for inv. The returned error is non-nil only when the
// invocation cannot reach the API; task failures are recorded in the
// Report.
func Execute(ctx context.Context, inv *Invocation, task Task, opts ...Option) (*Report, error) {
	r := &runner{
		console: slog.Default().Handler(),
		level:   slog.LevelInfo,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	report := &Report{InvocationID: uuid.NewString(), Started: r.now()}
	sink := NewLogSink(r.level)
	logger := slog.New(fanout{sink, r.console}).With(
		"component", "processor",
		"invocation_id", report.InvocationID,
	)

	clientOpts := append([]cloud.Option{
		cloud.WithToken(inv.AccessToken, time.Time{}),
		cloud.WithAgentID(inv.AgentID),
		cloud.WithLogger(logger),
		cloud.WithTelemetry(r.telemetry),
	}, r.clientOpts...)
	api, err := cloud.New(inv.APIEndpoint, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("processor client: %w", err)
	}

	managerOpts := append([]ui.ManagerOption{
		ui.WithRequestTransport(cloud.NewTransport(api, inv.AgentID)),
		ui.WithLogger(logger),
		ui.WithClock(r.now),
	}, r.managerOpts...)
	if r.telemetry != nil {
		managerOpts = append(managerOpts, ui.WithTracker(r.telemetry))
	}

	env := &Env{
		InvocationID:     report.InvocationID,
		AgentID:          inv.AgentID,
		TaskID:           inv.TaskID,
		API:              api,
		UI:               ui.NewManager(inv.AgentID, managerOpts...),
		PackageConfig:    inv.PackageConfig,
		Logger:           logger,
		deploymentConfig: inv.AgentSettings.DeploymentConfig,
	}
	if env.PackageConfig == nil {
		env.PackageConfig = map[string]any{}
	}
	if env.deploymentConfig == nil {
		env.deploymentConfig = map[string]any{}
	}
	if len(inv.Message) > 0 && string(inv.Message) != "null" {
		msg, err := api.DecodeMessage(inv.Message)
		if err != nil {
			logger.WarnContext(ctx, "ignoring undecodable trigger message", "error", err)
		} else {
			env.Message = msg
		}
	}

	ctx, done := r.telemetry.TrackOperation(ctx, "processor.execute",
		observability.AttrAgentID.String(inv.AgentID),
		observability.AttrTaskID.String(inv.TaskID),
	)

	logger.InfoContext(ctx, "initialising processor task", "task_id", inv.TaskID)
	logger.InfoContext(ctx, "started", "at", report.Started.Format(time.RFC3339Nano))

	report.SetupErr = runStep(ctx, logger, "initialise", task.Setup, env)
	if report.SetupErr == nil {
		report.ProcessErr = runStep(ctx, logger, "process", task.Process, env)
	}
	report.CloseErr = runStep(ctx, logger, "close", task.Close, env)

	finished := r.now()
	report.Duration = finished.Sub(report.Started)
	logger.InfoContext(ctx, "finished",
		"at", finished.Format(time.RFC3339Nano),
		"duration", report.Duration,
	)

	report.Logs = sink.Logs()
	if report.Logs != "" && inv.LogChannel != "" {
		if _, err := api.PublishToChannel(ctx, inv.LogChannel, report.Logs, cloud.PublishOptions{}); err != nil {
			slog.New(r.console).ErrorContext(ctx, "failed to publish processor logs",
				"component", "processor",
				"log_channel", inv.LogChannel,
				"error", err,
			)
		} else {
			report.LogsPublished = true
		}
	}

	switch {
	case report.SetupErr != nil:
		done(report.SetupErr)
	case report.ProcessErr != nil:
		done(report.ProcessErr)
	default:
		done(report.CloseErr)
	}
	return report, nil
}

func runStep(ctx context.Context, logger *slog.Logger, name string, step func(context.Context, *Env) error, env *Env) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			logger.ErrorContext(ctx, "processor step failed", "step", name, "error", err)
		}
	}()
	return step(ctx, env)
}

// Main reads an invocation from stdin, executes task and returns the
// process exit code. Task failures still exit 0; only an unusable
// invocation does not.
func Main(task Task, opts ...Option) int {
	return run(context.Background(), os.Stdin, task, opts...)
}

func run(ctx context.Context, in io.Reader, task Task, opts ...Option) int {
	inv, err := ReadInvocation(in)
	if err != nil {
		slog.Error("cannot read invocation", "component", "processor", "error", err)
		return 2
	}
	if _, err := Execute(ctx, inv, task, opts...); err != nil {
		slog.Error("cannot execute processor", "component", "processor", "error", err)
		return 1
	}
	return 0
}
