package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9090"
voice:
  default_assistant: chef
  finalize_timeout: 2s
  dispatch_workers: 4
  playback_timeout: 45s
coach:
  goal: lose weight
  allergies: [peanuts, shellfish]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("VOICE_TTS_COMMAND", "espeak -s 160")

	c := loadConfig()

	assert.Equal(t, "9090", c.Server.Port)
	assert.Equal(t, "chef", c.Voice.DefaultAssistant)
	assert.Equal(t, 2*time.Second, c.Voice.FinalizeTimeout)
	assert.Equal(t, 30*time.Second, c.Voice.MaxCaptureDuration, "未配置的字段应保留默认值")
	assert.Equal(t, 4, c.Voice.DispatchWorkers)
	assert.Equal(t, 45*time.Second, c.Voice.PlaybackTimeout)
	assert.Equal(t, 10*time.Second, c.Voice.PlaybackStartTimeout)
	assert.Equal(t, "sk-env", c.LLM.APIKey)
	assert.Equal(t, "espeak", c.Voice.TTSCommand)
	assert.Equal(t, []string{"-s", "160"}, c.Voice.TTSArgs)
	assert.Equal(t, "lose weight", c.Coach.Goal)
	assert.Equal(t, []string{"peanuts", "shellfish"}, c.Coach.Allergies)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VOICE_DEFAULT_ASSISTANT", "CHEF")

	c := loadConfig()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, "sqlite", c.Database.Type)
	assert.Equal(t, "chef", c.Voice.DefaultAssistant)
	assert.Equal(t, 60*time.Second, c.Voice.DispatchTimeout)
	assert.Equal(t, 2*time.Minute, c.Voice.PlaybackTimeout)
}
