package periscope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSessionFile(t *testing.T, content string) string {
	t.Helper()
	var path = filepath.Join(t.TempDir(), "session.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSessionConfig(t *testing.T) {
	var path = writeSessionFile(t, `
input: capture.csv
output: clock.csv
filter: clock-recovery
data_channel: CH1
gate_channel: CH2
symbol_rate: 1.25e9
threshold: 0.4
times_in_seconds: false
`)

	var cfg, err = LoadSessionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "capture.csv", cfg.Input)
	assert.Equal(t, "clock.csv", cfg.Output)
	assert.Equal(t, "clock-recovery", cfg.Filter)
	assert.Equal(t, "CH1", cfg.DataChannel)
	assert.Equal(t, "CH2", cfg.GateChannel)
	assert.Equal(t, 1.25e9, cfg.SymbolRate)
	assert.Equal(t, 0.4, cfg.Threshold)
	assert.False(t, cfg.SecondsTimestamps())
}

func TestSessionConfigDefaults(t *testing.T) {
	var cfg, err = LoadSessionConfig(writeSessionFile(t, `input: capture.csv`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Filter)
	assert.Zero(t, cfg.SymbolRate)
	assert.True(t, cfg.SecondsTimestamps(), "timestamps default to seconds")
}

func TestSessionConfigValidation(t *testing.T) {
	var cases = []struct {
		name string
		yaml string
		want string
	}{
		{"bad filter", `filter: fft`, "unknown filter"},
		{"bad area mode", `area_mode: sometimes`, "unknown area mode"},
		{"bad area kind", `area_kind: imaginary`, "unknown area kind"},
		{"negative rate", `symbol_rate: -1e9`, "negative symbol rate"},
		{"not yaml", "\t{", "parsing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var _, err = LoadSessionConfig(writeSessionFile(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSessionConfigMissingFile(t *testing.T) {
	var _, err = LoadSessionConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
