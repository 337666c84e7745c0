package periscope

/*------------------------------------------------------------------
 *
 * Purpose:   	Session configuration for the offline tools.
 *
 * Description:	A session file describes one filter run: where the
 *		capture comes from, which channels feed the filter,
 *		the filter parameters, and where the result goes.
 *		Command line flags override anything set here.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SessionConfig is one filter run loaded from a YAML session file.
type SessionConfig struct {
	// Input capture CSV and output CSV paths.
	Input  string `yaml:"input"`
	Output string `yaml:"output"`

	// Filter selects what to run: "clock-recovery" or "area".
	Filter string `yaml:"filter"`

	// DataChannel and GateChannel name the CSV columns feeding the
	// filter. Empty DataChannel means the first channel; empty
	// GateChannel means no gating.
	DataChannel string `yaml:"data_channel"`
	GateChannel string `yaml:"gate_channel"`

	// Clock recovery parameters.
	SymbolRate float64 `yaml:"symbol_rate"` // Hz
	Threshold  float64 `yaml:"threshold"`   // volts

	// Area measurement parameters.
	AreaMode string `yaml:"area_mode"` // "full-record" or "per-cycle"
	AreaKind string `yaml:"area_kind"` // "true" or "absolute"

	// TimesInSeconds controls how the CSV timestamp column is read
	// and written: fractional seconds (default) or femtoseconds.
	TimesInSeconds *bool `yaml:"times_in_seconds"`
}

// LoadSessionConfig reads and validates a session file.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var cfg SessionConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session file %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the cross-field rules a zero value can't express.
func (c *SessionConfig) Validate() error {
	switch c.Filter {
	case "", "clock-recovery", "area":
	default:
		return fmt.Errorf("unknown filter %q", c.Filter)
	}
	switch c.AreaMode {
	case "", "full-record", "per-cycle":
	default:
		return fmt.Errorf("unknown area mode %q", c.AreaMode)
	}
	switch c.AreaKind {
	case "", "true", "absolute":
	default:
		return fmt.Errorf("unknown area kind %q", c.AreaKind)
	}
	if c.SymbolRate < 0 {
		return fmt.Errorf("negative symbol rate %g", c.SymbolRate)
	}
	return nil
}

// SecondsTimestamps returns the effective timestamp unit choice.
func (c *SessionConfig) SecondsTimestamps() bool {
	if c.TimesInSeconds == nil {
		return true
	}
	return *c.TimesInSeconds
}
