package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
agents:
  analyst:
    labels: [analyst:analyze, analyst:summarize]
    system_prompt: "investigate and summarize"
    ai_enabled: true
    fan_in: true
  crawler-x:
    labels: [crawler:x]
`

func writeSample(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadAppliesDefaultsToOmittedFields(t *testing.T) {
	doc, err := Load(writeSample(t))
	require.NoError(t, err)

	analyst := doc.Agents["analyst"]
	assert.True(t, analyst.AIEnabled)
	assert.True(t, analyst.FanIn)
	assert.Equal(t, 10, analyst.MaxSteps, "max_steps default must fill in when omitted")

	crawler := doc.Agents["crawler-x"]
	assert.False(t, crawler.AIEnabled, "ai_enabled default is false")
	assert.False(t, crawler.FanIn)
	assert.Equal(t, []string{"crawler:x"}, crawler.Labels)
}

func TestAgentRegistryGetUnknown(t *testing.T) {
	reg := NewAgentRegistry(nil)
	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestInitializeBuildsRegistry(t *testing.T) {
	cfg, err := Initialize(writeSample(t))
	require.NoError(t, err)

	agent, err := cfg.Agents.Get("analyst")
	require.NoError(t, err)
	assert.True(t, agent.AIEnabled)
	assert.Equal(t, DefaultQueueConfig, cfg.QueueConfig)
}
