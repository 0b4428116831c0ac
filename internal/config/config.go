// SPDX-License-Identifier: MIT

// Package config provides the show configuration schema, the YAML/env loader,
// and validation. The loaded ShowConfig is the only configuration artifact the
// coordination core consumes.
package config

import (
	"fmt"
	"strings"
	"time"
)

// OptionsPerRow is fixed by the show format: every row offers four options.
const OptionsPerRow = 4

// FactionCount is fixed by the show format: the audience splits four ways.
const FactionCount = 4

// OptionConfig describes one selectable option within a row.
type OptionConfig struct {
	ID            string `yaml:"id" json:"id"`
	Clip          string `yaml:"clip" json:"clip"`
	HarmonicGroup string `yaml:"harmonicGroup,omitempty" json:"harmonicGroup,omitempty"`
}

// RowConfig describes one row of the song.
type RowConfig struct {
	Label   string                      `yaml:"label" json:"label"`
	Type    string                      `yaml:"type" json:"type"`
	Options [OptionsPerRow]OptionConfig `yaml:"options" json:"options"`
}

// FactionConfig describes one of the four audience factions.
type FactionConfig struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
}

// TimingConfig holds every scheduling window the timing engine uses.
type TimingConfig struct {
	AuditionPerOption   Duration `yaml:"auditionPerOption" json:"auditionPerOption"`
	AuditionLoopsPerRow int      `yaml:"auditionLoopsPerRow" json:"auditionLoopsPerRow"`
	VotingWindow        Duration `yaml:"votingWindow" json:"votingWindow"`
	RevealDuration      Duration `yaml:"revealDuration" json:"revealDuration"`
	CoupWindow          Duration `yaml:"coupWindow" json:"coupWindow"`
	MasterLoopBeats     int      `yaml:"masterLoopBeats" json:"masterLoopBeats"`
	UseExternalClock    bool     `yaml:"useExternalClock" json:"useExternalClock"`
}

// TimingOverride is a partial TimingConfig; nil fields are left untouched by
// a SET_TIMING merge.
type TimingOverride struct {
	AuditionPerOption   *Duration `json:"auditionPerOption,omitempty"`
	AuditionLoopsPerRow *int      `json:"auditionLoopsPerRow,omitempty"`
	VotingWindow        *Duration `json:"votingWindow,omitempty"`
	RevealDuration      *Duration `json:"revealDuration,omitempty"`
	CoupWindow          *Duration `json:"coupWindow,omitempty"`
	MasterLoopBeats     *int      `json:"masterLoopBeats,omitempty"`
	UseExternalClock    *bool     `json:"useExternalClock,omitempty"`
}

// Apply merges the override into t, field by field.
func (o TimingOverride) Apply(t *TimingConfig) {
	if o.AuditionPerOption != nil {
		t.AuditionPerOption = *o.AuditionPerOption
	}
	if o.AuditionLoopsPerRow != nil {
		t.AuditionLoopsPerRow = *o.AuditionLoopsPerRow
	}
	if o.VotingWindow != nil {
		t.VotingWindow = *o.VotingWindow
	}
	if o.RevealDuration != nil {
		t.RevealDuration = *o.RevealDuration
	}
	if o.CoupWindow != nil {
		t.CoupWindow = *o.CoupWindow
	}
	if o.MasterLoopBeats != nil {
		t.MasterLoopBeats = *o.MasterLoopBeats
	}
	if o.UseExternalClock != nil {
		t.UseExternalClock = *o.UseExternalClock
	}
}

// CoupConfig holds the faction-coup policy knobs.
type CoupConfig struct {
	Threshold       float64 `yaml:"threshold" json:"threshold"`
	MultiplierBonus float64 `yaml:"multiplierBonus" json:"multiplierBonus"`
}

// VotingConfig selects between the combined audition-and-vote flow and the
// strict separate flow.
type VotingConfig struct {
	AllowDuringAudition bool `yaml:"allowDuringAudition" json:"allowDuringAudition"`
}

// HeartbeatConfig holds the transport liveness policy.
type HeartbeatConfig struct {
	Interval    Duration `yaml:"interval" json:"interval"`
	PongTimeout Duration `yaml:"pongTimeout" json:"pongTimeout"`
	MissLimit   int      `yaml:"missLimit" json:"missLimit"`
}

// SeatsConfig carries the optional seat adjacency relation used by faction
// assignment. An empty map is a valid (null) relation.
type SeatsConfig struct {
	Adjacency map[string][]string `yaml:"adjacency,omitempty" json:"adjacency,omitempty"`
}

// ServerConfig holds the client-facing listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
}

// DAWConfig holds the outbound audio bridge settings.
type DAWConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	SendPort int    `yaml:"sendPort" json:"sendPort"`
	RecvPort int    `yaml:"recvPort" json:"recvPort"`
}

// PersistenceConfig holds the embedded store settings.
type PersistenceConfig struct {
	DBPath string `yaml:"dbPath" json:"dbPath"`
}

// BackupConfig holds the file backup settings.
type BackupConfig struct {
	Dir      string   `yaml:"dir" json:"dir"`
	Prefix   string   `yaml:"prefix" json:"prefix"`
	Interval Duration `yaml:"interval" json:"interval"`
	MaxFiles int      `yaml:"maxFiles" json:"maxFiles"`
}

// ShowConfig is the validated configuration consumed by the core.
type ShowConfig struct {
	ShowID      string                       `yaml:"showId" json:"showId"`
	Rows        []RowConfig                  `yaml:"rows" json:"rows"`
	Factions    [FactionCount]FactionConfig  `yaml:"factions" json:"factions"`
	Timing      TimingConfig                 `yaml:"timing" json:"timing"`
	Coup        CoupConfig                   `yaml:"coup" json:"coup"`
	Voting      VotingConfig                 `yaml:"voting" json:"voting"`
	Heartbeat   HeartbeatConfig              `yaml:"heartbeat" json:"heartbeat"`
	Seats       SeatsConfig                  `yaml:"seats" json:"seats"`
	Server      ServerConfig                 `yaml:"server" json:"server"`
	DAW         DAWConfig                    `yaml:"daw" json:"daw"`
	Persistence PersistenceConfig            `yaml:"persistence" json:"persistence"`
	Backup      BackupConfig                 `yaml:"backup" json:"backup"`
}

// Default returns the built-in configuration. Every numeric policy knob has a
// default here; the core never assumes them.
func Default() ShowConfig {
	return ShowConfig{
		ShowID: "yggdrasil",
		Factions: [FactionCount]FactionConfig{
			{Name: "North", Color: "#4f9da6"},
			{Name: "East", Color: "#f2a154"},
			{Name: "South", Color: "#b83b5e"},
			{Name: "West", Color: "#7a9d54"},
		},
		Timing: TimingConfig{
			AuditionPerOption:   Duration(8 * time.Second),
			AuditionLoopsPerRow: 1,
			VotingWindow:        Duration(30 * time.Second),
			RevealDuration:      Duration(10 * time.Second),
			CoupWindow:          Duration(15 * time.Second),
			MasterLoopBeats:     16,
		},
		Coup:   CoupConfig{Threshold: 0.5, MultiplierBonus: 0.5},
		Voting: VotingConfig{AllowDuringAudition: true},
		Heartbeat: HeartbeatConfig{
			Interval:    Duration(15 * time.Second),
			PongTimeout: Duration(5 * time.Second),
			MissLimit:   2,
		},
		Server:      ServerConfig{ListenAddr: ":8090"},
		DAW:         DAWConfig{Enabled: false, Host: "127.0.0.1", SendPort: 11000, RecvPort: 11001},
		Persistence: PersistenceConfig{DBPath: "yggdrasil.db"},
		Backup: BackupConfig{
			Dir:      "backups",
			Prefix:   "show",
			Interval: 0, // periodic backups off unless configured
			MaxFiles: 10,
		},
	}
}

// Validate checks the configuration and returns all problems at once.
func (c *ShowConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ShowID) == "" {
		problems = append(problems, "showId must not be empty")
	}
	if len(c.Rows) == 0 {
		problems = append(problems, "at least one row is required")
	}
	seen := map[string]int{}
	for i, row := range c.Rows {
		for j, opt := range row.Options {
			if opt.ID == "" {
				problems = append(problems, fmt.Sprintf("rows[%d].options[%d]: id must not be empty", i, j))
				continue
			}
			if prev, dup := seen[opt.ID]; dup {
				problems = append(problems, fmt.Sprintf("rows[%d].options[%d]: id %q already used in row %d", i, j, opt.ID, prev))
			}
			seen[opt.ID] = i
		}
	}
	if c.Coup.Threshold <= 0 || c.Coup.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("coup.threshold must be in (0,1], got %v", c.Coup.Threshold))
	}
	if c.Coup.MultiplierBonus < 0 {
		problems = append(problems, fmt.Sprintf("coup.multiplierBonus must be >= 0, got %v", c.Coup.MultiplierBonus))
	}
	if c.Timing.AuditionLoopsPerRow < 1 {
		problems = append(problems, "timing.auditionLoopsPerRow must be >= 1")
	}
	if c.Timing.MasterLoopBeats < 1 {
		problems = append(problems, "timing.masterLoopBeats must be >= 1")
	}
	if c.Heartbeat.MissLimit < 1 {
		problems = append(problems, "heartbeat.missLimit must be >= 1")
	}
	if c.Backup.MaxFiles < 1 {
		problems = append(problems, "backup.maxFiles must be >= 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
