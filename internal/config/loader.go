// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a configuration loader. An empty path skips the file
// layer.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load builds the effective ShowConfig and validates it.
func (l *Loader) Load() (ShowConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return ShowConfig{}, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ShowConfig{}, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return ShowConfig{}, err
	}
	return cfg, nil
}

// applyEnv overlays YGG_* environment variables onto the configuration.
func (l *Loader) applyEnv(cfg *ShowConfig) {
	cfg.ShowID = ParseString("YGG_SHOW_ID", cfg.ShowID)
	cfg.Server.ListenAddr = ParseString("YGG_LISTEN_ADDR", cfg.Server.ListenAddr)

	cfg.DAW.Enabled = ParseBool("YGG_DAW_ENABLED", cfg.DAW.Enabled)
	cfg.DAW.Host = ParseString("YGG_DAW_HOST", cfg.DAW.Host)
	cfg.DAW.SendPort = ParseInt("YGG_DAW_SEND_PORT", cfg.DAW.SendPort)
	cfg.DAW.RecvPort = ParseInt("YGG_DAW_RECV_PORT", cfg.DAW.RecvPort)

	cfg.Persistence.DBPath = ParseString("YGG_DB_PATH", cfg.Persistence.DBPath)

	cfg.Backup.Dir = ParseString("YGG_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Interval = Duration(ParseDuration("YGG_BACKUP_INTERVAL", cfg.Backup.Interval.Std()))
	cfg.Backup.MaxFiles = ParseInt("YGG_BACKUP_MAX_FILES", cfg.Backup.MaxFiles)

	cfg.Timing.AuditionPerOption = Duration(ParseDuration("YGG_AUDITION_PER_OPTION", cfg.Timing.AuditionPerOption.Std()))
	cfg.Timing.AuditionLoopsPerRow = ParseInt("YGG_AUDITION_LOOPS_PER_ROW", cfg.Timing.AuditionLoopsPerRow)
	cfg.Timing.VotingWindow = Duration(ParseDuration("YGG_VOTING_WINDOW", cfg.Timing.VotingWindow.Std()))
	cfg.Timing.RevealDuration = Duration(ParseDuration("YGG_REVEAL_DURATION", cfg.Timing.RevealDuration.Std()))
	cfg.Timing.CoupWindow = Duration(ParseDuration("YGG_COUP_WINDOW", cfg.Timing.CoupWindow.Std()))
	cfg.Timing.MasterLoopBeats = ParseInt("YGG_MASTER_LOOP_BEATS", cfg.Timing.MasterLoopBeats)
	cfg.Timing.UseExternalClock = ParseBool("YGG_USE_EXTERNAL_CLOCK", cfg.Timing.UseExternalClock)

	cfg.Coup.Threshold = ParseFloat("YGG_COUP_THRESHOLD", cfg.Coup.Threshold)
	cfg.Coup.MultiplierBonus = ParseFloat("YGG_COUP_MULTIPLIER_BONUS", cfg.Coup.MultiplierBonus)

	cfg.Voting.AllowDuringAudition = ParseBool("YGG_ALLOW_VOTE_DURING_AUDITION", cfg.Voting.AllowDuringAudition)

	cfg.Heartbeat.Interval = Duration(ParseDuration("YGG_HEARTBEAT_INTERVAL", cfg.Heartbeat.Interval.Std()))
	cfg.Heartbeat.PongTimeout = Duration(ParseDuration("YGG_HEARTBEAT_PONG_TIMEOUT", cfg.Heartbeat.PongTimeout.Std()))
	cfg.Heartbeat.MissLimit = ParseInt("YGG_HEARTBEAT_MISS_LIMIT", cfg.Heartbeat.MissLimit)
}
