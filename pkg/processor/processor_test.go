package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getdoover/doover-go/pkg/cloud"
)

type published struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func (p *published) get(channel string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[channel]
}

func newAPI(t *testing.T) (*published, string) {
	t.Helper()
	pub := &published{msgs: map[string][]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ch/v1/agent/agent-1/greetings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"channel":"greet-1","name":"greetings","owner":"agent-1"}`))
	})
	mux.HandleFunc("POST /ch/v1/channel/{id}/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		pub.mu.Lock()
		pub.msgs[r.PathValue("id")] = append(pub.msgs[r.PathValue("id")], body["msg"])
		pub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return pub, srv.URL
}

func invocation(endpoint string) *Invocation {
	return &Invocation{
		AgentID:       "agent-1",
		AccessToken:   "temp-token",
		APIEndpoint:   endpoint,
		PackageConfig: map[string]any{"greeting": "hello"},
		Message:       json.RawMessage(`{"message":"m-1","channel":"trigger","payload":{"level":3}}`),
		TaskID:        "task-1",
		LogChannel:    "logs-1",
		AgentSettings: AgentSettings{DeploymentConfig: map[string]any{"site": "north"}},
	}
}

var quiet = WithConsole(slog.NewTextHandler(io.Discard, nil))

type recordingTask struct {
	steps      []string
	setupErr   error
	processErr error
	closeErr   error
	panicIn    string
}

func (r *recordingTask) step(name string, err error) error {
	r.steps = append(r.steps, name)
	if r.panicIn == name {
		panic(name + " exploded")
	}
	return err
}

func (r *recordingTask) Setup(context.Context, *Env) error   { return r.step("setup", r.setupErr) }
func (r *recordingTask) Process(context.Context, *Env) error { return r.step("process", r.processErr) }
func (r *recordingTask) Close(context.Context, *Env) error   { return r.step("close", r.closeErr) }

func TestExecuteRunsTaskAndPublishesLogs(t *testing.T) {
	pub, endpoint := newAPI(t)

	task := ProcessFunc(func(ctx context.Context, env *Env) error {
		assert.Equal(t, "agent-1", env.AgentID)
		assert.Equal(t, "task-1", env.TaskID)
		assert.Equal(t, "north", env.AgentConfig("site"))
		assert.Equal(t, map[string]any{"site": "north"}, env.AgentConfig(""))
		assert.Equal(t, "hello", env.PackageConfig["greeting"])
		require.NotNil(t, env.Message)
		assert.Equal(t, "m-1", env.Message.ID)
		assert.Equal(t, map[string]any{"level": float64(3)}, env.Message.Payload)
		assert.Equal(t, "agent-1", env.UI.AgentID())

		ch, err := env.FetchChannelNamed(ctx, "greetings")
		if err != nil {
			return err
		}
		env.Logger.InfoContext(ctx, "greeting", "to", ch.Name)
		_, err = ch.Publish(ctx, "Hello World", cloud.PublishOptions{})
		return err
	})

	report, err := Execute(context.Background(), invocation(endpoint), task, quiet)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.NotEmpty(t, report.InvocationID)

	assert.Equal(t, []any{"Hello World"}, pub.get("greet-1"))
	logs := pub.get("logs-1")
	require.Len(t, logs, 1)
	assert.Equal(t, report.Logs, logs[0])
	assert.True(t, report.LogsPublished)
	assert.Contains(t, report.Logs, "initialising processor task")
	assert.Contains(t, report.Logs, "msg=greeting")
	assert.Contains(t, report.Logs, "to=greetings")
	assert.Contains(t, report.Logs, "msg=finished")
	assert.Contains(t, report.Logs, "invocation_id="+report.InvocationID)
}

func TestExecuteSetupFailureSkipsProcess(t *testing.T) {
	_, endpoint := newAPI(t)
	task := &recordingTask{setupErr: errors.New("no sensor")}

	report, err := Execute(context.Background(), invocation(endpoint), task, quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "close"}, task.steps)
	assert.EqualError(t, report.SetupErr, "no sensor")
	assert.NoError(t, report.ProcessErr)
	assert.True(t, report.Failed())
	assert.Contains(t, report.Logs, "step=initialise")
	assert.Contains(t, report.Logs, "no sensor")
}

func TestExecuteRecoversPanics(t *testing.T) {
	_, endpoint := newAPI(t)
	task := &recordingTask{panicIn: "process", closeErr: errors.New("close failed")}

	report, err := Execute(context.Background(), invocation(endpoint), task, quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "process", "close"}, task.steps)
	require.Error(t, report.ProcessErr)
	assert.Contains(t, report.ProcessErr.Error(), "process exploded")
	assert.EqualError(t, report.CloseErr, "close failed")
}

func TestExecuteWithoutLogChannel(t *testing.T) {
	pub, endpoint := newAPI(t)
	inv := invocation(endpoint)
	inv.LogChannel = ""
	inv.Message = nil

	report, err := Execute(context.Background(), inv, ProcessFunc(func(ctx context.Context, env *Env) error {
		assert.Nil(t, env.Message)
		return nil
	}), quiet)
	require.NoError(t, err)
	assert.False(t, report.LogsPublished)
	assert.NotEmpty(t, report.Logs)
	assert.Empty(t, pub.get("logs-1"))
}

func TestExecuteLogPublishFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	report, err := Execute(context.Background(), invocation(srv.URL), &recordingTask{}, quiet)
	require.NoError(t, err)
	assert.False(t, report.LogsPublished)
	assert.False(t, report.Failed())
}

func TestExecuteTiming(t *testing.T) {
	_, endpoint := newAPI(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(1500 * time.Millisecond)
	}

	report, err := Execute(context.Background(), invocation(endpoint), &recordingTask{}, quiet, WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, start, report.Started)
	assert.Equal(t, 1500*time.Millisecond, report.Duration)
	assert.Contains(t, report.Logs, "duration=1.5s")
}

func TestExecuteRejectsInvalidInvocation(t *testing.T) {
	inv := invocation("http://127.0.0.1:1")
	inv.AccessToken = ""
	_, err := Execute(context.Background(), inv, &recordingTask{}, quiet)
	require.ErrorIs(t, err, ErrInvalidInvocation)
}

func TestRunExitCodes(t *testing.T) {
	_, endpoint := newAPI(t)
	raw, err := json.Marshal(invocation(endpoint))
	require.NoError(t, err)

	assert.Equal(t, 0, run(context.Background(), strings.NewReader(string(raw)), &recordingTask{}, quiet))
	assert.Equal(t, 2, run(context.Background(), strings.NewReader("{"), &recordingTask{}, quiet))
	assert.Equal(t, 2, run(context.Background(), strings.NewReader(`{"agent_id":"a"}`), &recordingTask{}, quiet))
}

func TestReadInvocation(t *testing.T) {
	inv, err := ReadInvocation(strings.NewReader(`{
		"agent_id": "9fb5", "access_token": "tok", "api_endpoint": "https://my.d.doover.dev",
		"package_config": {}, "msg_obj": {}, "task_id": "t", "log_channel": "l",
		"agent_settings": {"deployment_config": {"pumps": 2}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "9fb5", inv.AgentID)
	assert.Equal(t, float64(2), inv.AgentSettings.DeploymentConfig["pumps"])
	assert.JSONEq(t, `{}`, string(inv.Message))
}
