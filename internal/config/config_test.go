// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() ShowConfig {
	cfg := Default()
	cfg.Rows = []RowConfig{
		{
			Label: "Rhythm", Type: "beat",
			Options: [OptionsPerRow]OptionConfig{
				{ID: "r0", Clip: "clip-r0"}, {ID: "r1", Clip: "clip-r1"},
				{ID: "r2", Clip: "clip-r2"}, {ID: "r3", Clip: "clip-r3"},
			},
		},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ShowConfig)
		wantErr string
	}{
		{"valid", func(c *ShowConfig) {}, ""},
		{"no rows", func(c *ShowConfig) { c.Rows = nil }, "at least one row"},
		{"empty show id", func(c *ShowConfig) { c.ShowID = " " }, "showId"},
		{"empty option id", func(c *ShowConfig) { c.Rows[0].Options[2].ID = "" }, "options[2]"},
		{"duplicate option id", func(c *ShowConfig) { c.Rows[0].Options[1].ID = "r0" }, "already used"},
		{"bad threshold", func(c *ShowConfig) { c.Coup.Threshold = 1.5 }, "coup.threshold"},
		{"zero loops", func(c *ShowConfig) { c.Timing.AuditionLoopsPerRow = 0 }, "auditionLoopsPerRow"},
		{"zero miss limit", func(c *ShowConfig) { c.Heartbeat.MissLimit = 0 }, "missLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTimingOverrideApply(t *testing.T) {
	timing := Default().Timing
	loops := 3
	window := Duration(45 * time.Second)
	TimingOverride{
		AuditionLoopsPerRow: &loops,
		VotingWindow:        &window,
	}.Apply(&timing)

	if timing.AuditionLoopsPerRow != 3 {
		t.Errorf("AuditionLoopsPerRow = %d, want 3", timing.AuditionLoopsPerRow)
	}
	if timing.VotingWindow.Std() != 45*time.Second {
		t.Errorf("VotingWindow = %v, want 45s", timing.VotingWindow)
	}
	// Untouched fields keep their defaults.
	if timing.RevealDuration != Default().Timing.RevealDuration {
		t.Errorf("RevealDuration changed unexpectedly: %v", timing.RevealDuration)
	}
}

func TestLoaderPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "show.yaml")
	file := `
showId: file-show
rows:
  - label: Rhythm
    type: beat
    options:
      - {id: r0, clip: c0}
      - {id: r1, clip: c1}
      - {id: r2, clip: c2}
      - {id: r3, clip: c3}
timing:
  votingWindow: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(file), 0o600))

	t.Setenv("YGG_SHOW_ID", "env-show")
	t.Setenv("YGG_COUP_THRESHOLD", "0.75")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	// ENV beats file, file beats default.
	require.Equal(t, "env-show", cfg.ShowID)
	require.Equal(t, Duration(20*time.Second), cfg.Timing.VotingWindow)
	require.Equal(t, 0.75, cfg.Coup.Threshold)
	require.Equal(t, Default().Timing.RevealDuration, cfg.Timing.RevealDuration)
}

func TestEnvParseFailureFallsBack(t *testing.T) {
	t.Setenv("YGG_TEST_INT", "not-a-number")
	t.Setenv("YGG_TEST_BOOL", "maybe")
	t.Setenv("YGG_TEST_DUR", "soon")
	t.Setenv("YGG_TEST_FLOAT", "half")

	require.Equal(t, 42, ParseInt("YGG_TEST_INT", 42))
	require.True(t, ParseBool("YGG_TEST_BOOL", true))
	require.Equal(t, 3*time.Second, ParseDuration("YGG_TEST_DUR", 3*time.Second))
	require.Equal(t, 0.5, ParseFloat("YGG_TEST_FLOAT", 0.5))
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rows: []\n"), 0o600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one row")
}
