package configutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key", "voice_id"}, Optional: []string{"model_id"}}

	require.NoError(t, ValidateSettings(map[string]any{"API-Key": "k", "voiceId": "v", "model_id": "m"}, schema))

	err := ValidateSettings(map[string]any{"api_key": "  ", "speed": 1.2}, schema)
	var serr *SettingsError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, []string{"api_key", "voice_id"}, serr.Missing)
	assert.Equal(t, []string{"speed"}, serr.Unknown)
	assert.Equal(t, "missing: api_key, voice_id; unknown: speed", err.Error())

	schema.AllowUnknown = true
	require.NoError(t, ValidateSettings(map[string]any{"api_key": "k", "voice_id": "v", "speed": 1.2}, schema))
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		APIKey   string        `mapstructure:"api_key"`
		Timeout  time.Duration `mapstructure:"timeout"`
		Origins  []string      `mapstructure:"allowed_origins"`
		Retries  int           `mapstructure:"retries"`
		Breaker  *bool         `mapstructure:"use_circuit_breaker"`
		Untagged string
	}
	err := DecodeSettings(map[string]any{
		"API_KEY":             "k",
		"timeout":             "1500ms",
		"allowed-origins":     "a.example,b.example",
		"retries":             "3",
		"use_circuit_breaker": "false",
		"untagged":            "x",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "k", out.APIKey)
	assert.Equal(t, 1500*time.Millisecond, out.Timeout)
	assert.Equal(t, []string{"a.example", "b.example"}, out.Origins)
	assert.Equal(t, 3, out.Retries)
	assert.False(t, BoolValue(out.Breaker, true))
	assert.Equal(t, "x", out.Untagged)

	require.NoError(t, DecodeSettings(nil, &out))
	assert.Error(t, DecodeSettings(map[string]any{"retries": "three"}, &out))
}

func TestRequireString(t *testing.T) {
	assert.NoError(t, RequireString("x", "a.b"))
	assert.EqualError(t, RequireString(" ", "a.b"), "a.b is required")
	assert.True(t, BoolValue(nil, true))
}
