package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getdoover/doover-go/pkg/artifacts"
	"github.com/getdoover/doover-go/pkg/cloud"
)

// platform is a stateful stand-in for the channel API.
type platform struct {
	mu        sync.Mutex
	next      int
	byName    map[string]string
	names     map[string]string
	processor map[string]string
	published map[string][]any
	subs      []string
	log       []string
}

func newPlatform(t *testing.T) (*platform, *cloud.Client) {
	t.Helper()
	p := &platform{
		byName:    map[string]string{},
		names:     map[string]string{},
		processor: map[string]string{},
		published: map[string][]any{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ch/v1/agent/{agent}/{name}", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		id, ok := p.byName[r.PathValue("name")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		p.writeChannel(w, id)
	})
	mux.HandleFunc("POST /ch/v1/agent/{agent}/{name}/", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		p.mu.Lock()
		defer p.mu.Unlock()
		name := r.PathValue("name")
		id := p.ensure(name)
		if body != nil {
			if pid, ok := body["processor_id"].(string); ok {
				p.processor[id] = pid
			}
		}
		p.log = append(p.log, "create "+name)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ch/v1/channel/{id}", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.writeChannel(w, r.PathValue("id"))
	})
	mux.HandleFunc("POST /ch/v1/channel/{id}/{$}", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		p.mu.Lock()
		defer p.mu.Unlock()
		id := r.PathValue("id")
		p.published[id] = append(p.published[id], body["msg"])
		p.log = append(p.log, "publish "+p.names[id])
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /ch/v1/channel/{task}/subscribe/", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		p.mu.Lock()
		defer p.mu.Unlock()
		entry := fmt.Sprintf("%s %s %v", p.names[r.PathValue("task")], p.names[body["channel_id"].(string)], body["subscribe"])
		p.subs = append(p.subs, entry)
		p.log = append(p.log, "subscribe "+entry)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := cloud.New(srv.URL, cloud.WithToken("tok", time.Time{}))
	require.NoError(t, err)
	return p, c
}

func readBody(r *http.Request) map[string]any {
	b, _ := io.ReadAll(r.Body)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func (p *platform) ensure(name string) string {
	if id, ok := p.byName[name]; ok {
		return id
	}
	p.next++
	id := fmt.Sprintf("ch-%d", p.next)
	p.byName[name] = id
	p.names[id] = name
	return id
}

func (p *platform) writeChannel(w http.ResponseWriter, id string) {
	name, ok := p.names[id]
	if !ok {
		http.Error(w, "missing", http.StatusNotFound)
		return
	}
	out := map[string]any{"channel": id, "name": name, "owner": "agent-1"}
	if pid := p.processor[id]; pid != "" {
		out["processor"] = pid
	}
	if msgs := p.published[id]; len(msgs) > 0 {
		out["aggregate"] = map[string]any{"payload": msgs[len(msgs)-1]}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const sampleConfig = `{
  "processor_deployments": {
    "processors": [{"name": "pump_control", "processor_package_dir": "pump"}],
    "tasks": [{
      "name": "pump_task",
      "processor_name": "pump_control",
      "task_config": {"threshold": 4},
      "subscriptions": [
        {"channel_name": "tank_level", "is_active": true},
        {"channel_name": "old_trigger", "is_active": false}
      ]
    }]
  },
  "file_deployments": {
    "files": [{"name": "site_map", "file_dir": "files/map.svg", "mime_type": "image/svg+xml"}]
  },
  "deployment_channel_messages": [
    {"channel_name": "ui_cmds", "channel_message": {"cmds": {}}}
  ]
}`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.NotNil(t, cfg.ProcessorDeployments)
	assert.Equal(t, []Processor{{Name: "pump_control", PackageDir: "pump"}}, cfg.ProcessorDeployments.Processors)
	require.Len(t, cfg.ProcessorDeployments.Tasks, 1)
	task := cfg.ProcessorDeployments.Tasks[0]
	assert.Equal(t, map[string]any{"threshold": float64(4)}, task.Config)
	assert.Equal(t, []Subscription{{"tank_level", true}, {"old_trigger", false}}, task.Subscriptions)
	assert.Equal(t, "image/svg+xml", cfg.FileDeployments.Files[0].MimeType)
	assert.Equal(t, "ui_cmds", cfg.ChannelMessages[0].ChannelName)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"not json":              `{`,
		"processor without dir": `{"processor_deployments": {"processors": [{"name": "p"}]}}`,
		"subscription flag":     `{"processor_deployments": {"tasks": [{"name": "t", "processor_name": "p", "subscriptions": [{"channel_name": "c", "is_active": "yes"}]}]}}`,
		"message without name":  `{"deployment_channel_messages": [{"channel_message": 1}]}`,
		"files not a list":      `{"file_deployments": {"files": {}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "doover_config.json"))
	require.Error(t, err)
}

func TestApplyRunsDeploySequence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pump", "target.py"), "def target(**kw): pass")
	writeFile(t, filepath.Join(dir, "files", "map.svg"), "<svg/>")
	writeFile(t, filepath.Join(dir, "doover_config.json"), sampleConfig)

	cfg, err := Load(filepath.Join(dir, "doover_config.json"))
	require.NoError(t, err)

	p, client := newPlatform(t)
	store, err := artifacts.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	registry := artifacts.NewRegistry(store)

	res, err := Apply(context.Background(), client, "agent-1", dir, cfg, WithRegistry(registry))
	require.NoError(t, err)

	assert.Equal(t, []string{"#pump_control"}, res.Processors)
	assert.Equal(t, []string{"!pump_task"}, res.Tasks)
	assert.Equal(t, []string{"!pump_task<-tank_level"}, res.Subscribed)
	assert.Equal(t, []string{"!pump_task<-old_trigger"}, res.Unsubscribed)
	assert.Equal(t, []string{"site_map"}, res.Files)
	assert.Equal(t, []string{"ui_cmds"}, res.Messages)

	assert.Equal(t, []string{
		"create #pump_control",
		"publish #pump_control",
		"create !pump_task",
		"publish !pump_task",
		"create tank_level",
		"subscribe !pump_task tank_level true",
		"create old_trigger",
		"subscribe !pump_task old_trigger false",
		"create site_map",
		"publish site_map",
		"create ui_cmds",
		"publish ui_cmds",
	}, p.log)

	procID := p.byName["#pump_control"]
	assert.Equal(t, procID, p.processor[p.byName["!pump_task"]])

	// The published package matches the archived one.
	recID := res.Packages["#pump_control"]
	require.NotEmpty(t, recID)
	rec, err := registry.Record(context.Background(), recID)
	require.NoError(t, err)
	archive, err := registry.Package(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(archive), p.published[procID][0])
	assert.Equal(t, []string{"target.py"}, rec.Files)

	file := p.published[p.byName["site_map"]][0].(map[string]any)
	assert.Equal(t, "image/svg+xml", file["output_type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("<svg/>")), file["output"])

	assert.Equal(t, map[string]any{"threshold": float64(4)}, p.published[p.byName["!pump_task"]][0])
}

func TestApplyWithoutRegistryStillPublishesPackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pkg", "target.py"), "pass")
	cfg := &Config{ProcessorDeployments: &ProcessorDeployments{
		Processors: []Processor{{Name: "#proc", PackageDir: "pkg"}},
	}}

	p, client := newPlatform(t)
	res, err := Apply(context.Background(), client, "agent-1", dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"#proc"}, res.Processors)
	assert.Empty(t, res.Packages)
	require.Len(t, p.published[p.byName["#proc"]], 1)
}

func TestApplyStopsOnMissingProcessor(t *testing.T) {
	cfg := &Config{ProcessorDeployments: &ProcessorDeployments{
		Tasks: []Task{{Name: "orphan", ProcessorName: "nope"}},
	}}
	_, client := newPlatform(t)

	res, err := Apply(context.Background(), client, "agent-1", t.TempDir(), cfg)
	require.ErrorIs(t, err, cloud.ErrNotFound)
	assert.Empty(t, res.Tasks)
}

func TestApplyNilConfig(t *testing.T) {
	res, err := Apply(context.Background(), nil, "agent-1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Processors)
}
