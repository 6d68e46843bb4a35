// Package config implements the static agent-name → {labels, prompt,
// ai_enabled, fan_in} registry (spec.md §6.3, C9), YAML-loaded with
// default merging in the style of tarsy's configuration layer.
package config

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAgentNotFound is returned by AgentRegistry.Get for an unknown name.
var ErrAgentNotFound = errors.New("config: agent not found")

// AgentConfig is one agent's static declaration (spec.md §6.3).
type AgentConfig struct {
	Labels       []string `yaml:"labels"`
	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	AIEnabled    bool     `yaml:"ai_enabled"`
	FanIn        bool     `yaml:"fan_in"`
	Model        string   `yaml:"model,omitempty"`
	MaxSteps     int      `yaml:"max_steps,omitempty"`
}

// AgentRegistry stores agent configurations in memory with thread-safe
// access, modeled on tarsy's map-backed AgentRegistry.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig
}

// NewAgentRegistry builds a registry from a defensive copy of agents.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{agents: copied}
}

// Get retrieves an agent's configuration by name.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return cfg, nil
}

// Names returns every configured agent name.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	return out
}

// All returns a defensive copy of the full registry.
func (r *AgentRegistry) All() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		out[k] = v
	}
	return out
}
