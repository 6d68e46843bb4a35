package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Defaults are applied to every AgentConfig that omits a field, in the
// style of tarsy's loader.go defaults-merge step.
var Defaults = AgentConfig{
	AIEnabled: false,
	FanIn:     false,
	MaxSteps:  10,
}

// Document is the on-disk shape of agents.yaml (spec.md §6.3).
type Document struct {
	Agents map[string]*AgentConfig `yaml:"agents"`
}

// Config is the fully-loaded, ready-to-use configuration.
type Config struct {
	Agents       *AgentRegistry
	QueueConfig  QueueConfig
	ProgressTTL  time.Duration
	HeartbeatTTL time.Duration
}

// QueueConfig holds the queue's runtime tunables (spec.md §4.1/§5).
type QueueConfig struct {
	LeaseTimeout    time.Duration `yaml:"lease_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	EmptyPollDelay  time.Duration `yaml:"empty_poll_delay"`
}

// DefaultQueueConfig matches spec.md §4.2/§5's stated defaults (10 min
// lease, 5s empty-pop sleep, 1s-or-better sweep tick).
var DefaultQueueConfig = QueueConfig{
	LeaseTimeout:   10 * time.Minute,
	SweepInterval:  1 * time.Second,
	EmptyPollDelay: 5 * time.Second,
}

// Load reads and parses path into a Document, applying Defaults to every
// agent that omits fields.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for name, cfg := range doc.Agents {
		merged := Defaults
		if err := mergo.Merge(&merged, *cfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge defaults for agent %q: %w", name, err)
		}
		doc.Agents[name] = &merged
	}
	return &doc, nil
}

// Initialize loads path and builds a ready-to-use Config, the primary
// entry point cmd/scout-worker and cmd/scout-api call at startup.
func Initialize(path string) (*Config, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Config{
		Agents:      NewAgentRegistry(doc.Agents),
		QueueConfig: DefaultQueueConfig,
	}, nil
}
