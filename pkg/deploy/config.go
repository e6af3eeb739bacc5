// Package deploy applies a doover_config.json deployment to an agent:
// processors and their packages, tasks with their subscriptions, static
// files and seed channel messages.
package deploy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://schemas.doover.com/deploy/doover_config.schema.json"

// Config is the decoded form of a doover_config.json file.
type Config struct {
	ProcessorDeployments *ProcessorDeployments `json:"processor_deployments,omitempty"`
	FileDeployments      *FileDeployments      `json:"file_deployments,omitempty"`
	ChannelMessages      []ChannelMessage      `json:"deployment_channel_messages,omitempty"`
}

// ProcessorDeployments lists processors to upload and tasks to configure.
type ProcessorDeployments struct {
	Processors []Processor `json:"processors,omitempty"`
	Tasks      []Task      `json:"tasks,omitempty"`
}

// Processor is a processor channel and the directory holding its package.
type Processor struct {
	Name       string `json:"name"`
	PackageDir string `json:"processor_package_dir"`
}

// Task binds a processor to its config and trigger channels.
type Task struct {
	Name          string         `json:"name"`
	ProcessorName string         `json:"processor_name"`
	Config        any            `json:"task_config,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
}

// Subscription toggles whether a task runs on a channel's messages.
type Subscription struct {
	ChannelName string `json:"channel_name"`
	IsActive    bool   `json:"is_active"`
}

// FileDeployments lists files published to channels.
type FileDeployments struct {
	Files []File `json:"files,omitempty"`
}

// File is published base64 encoded to the named channel.
type File struct {
	Name     string `json:"name"`
	Path     string `json:"file_dir"`
	MimeType string `json:"mime_type,omitempty"`
}

// ChannelMessage seeds a channel with one message.
type ChannelMessage struct {
	ChannelName string `json:"channel_name"`
	Message     any    `json:"channel_message"`
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("deploy schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("deploy schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Validate checks raw JSON against the deployment config schema.
func Validate(data []byte) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid deployment config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("deployment config schema validation failed: %w", err)
	}
	return nil
}

// Parse validates and decodes a deployment config.
func Parse(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode deployment config: %w", err)
	}
	return &cfg, nil
}

// Load reads, validates and decodes the deployment config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment config: %w", err)
	}
	return Parse(data)
}
