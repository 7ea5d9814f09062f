package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/internal/config"
)

func TestValidate_SearchMinScoreOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
oracle:
  name: openai
search:
  min_score: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_score")
}

func TestValidate_SearchMaxResultsMustBePositive(t *testing.T) {
	t.Parallel()
	yaml := `
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
oracle:
  name: openai
search:
  max_results: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_results")
}

func TestValidate_NarrativeEnabledRequiresCommand(t *testing.T) {
	t.Parallel()
	yaml := `
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
oracle:
  name: openai
narrative:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrative.command")
}

func TestValidate_MultipleErrorsAreJoined(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	require.Error(t, err)
	errStr := err.Error()
	assert.Contains(t, errStr, "transport.bot_token")
	assert.Contains(t, errStr, "oracle.name")
}

func TestValidate_UnknownYAMLFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
transport:
  bot_token: x
  name: telegram
  nonexistent_field: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
}
