// SPDX-License-Identifier: MIT

// Package engine is the single-writer serialiser around the conductor.
// Every command from every source (sockets, timers, the controller) funnels
// through Submit; state mutation happens under one lock, and all blocking
// fan-out (persistence, broadcast, DAW, timers) runs on a detached snapshot
// after the version has advanced.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/metrics"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Broadcaster fans state out to connected clients.
type Broadcaster interface {
	Broadcast(state *show.ShowState)
	ForceReconnectAll()
}

// Persister stores state snapshots.
type Persister interface {
	SaveSnapshot(ctx context.Context, state *show.ShowState) error
}

// BackupSink writes recovery files.
type BackupSink interface {
	Write(state *show.ShowState) (string, error)
}

// Observer watches post-command state for timer scheduling.
type Observer interface {
	Observe(state *show.ShowState)
	Cancel()
}

// AudioSink consumes the events of a processed command.
type AudioSink interface {
	Apply(state *show.ShowState, events []conductor.Event)
}

// Options carries the engine's optional edges; any of them may be nil.
type Options struct {
	Broadcaster Broadcaster
	Persister   Persister
	Backups     BackupSink
	Observer    Observer
	Audio       AudioSink
}

// Engine owns the authoritative state.
type Engine struct {
	cond *conductor.Conductor
	log  zerolog.Logger
	opts Options

	mu    sync.Mutex
	state *show.ShowState

	// fanMu serialises fan-out in commit order. Acquiring it before mu is
	// released guarantees a later command's effects can never overtake an
	// earlier one's.
	fanMu sync.Mutex
}

// New builds an Engine around an existing state (fresh or recovered).
func New(cond *conductor.Conductor, state *show.ShowState, opts Options, log zerolog.Logger) *Engine {
	return &Engine{cond: cond, log: log, opts: opts, state: state}
}

// Submit runs one command through the state machine and fans its effects
// out. It returns the conductor's rejection, if any.
func (e *Engine) Submit(cmd conductor.Command) error {
	return e.submit(cmd, nil)
}

// SubmitAdvance is the timer entry point: the advance only applies if the
// state version still matches the one the timer was scheduled under.
func (e *Engine) SubmitAdvance(version int) {
	err := e.submit(conductor.Command{Type: conductor.CmdAdvancePhase}, &version)
	if err != nil {
		e.log.Warn().
			Str("event", "engine.timed_advance_rejected").
			Err(err).
			Msg("timed advance rejected")
	}
}

func (e *Engine) submit(cmd conductor.Command, ifVersion *int) error {
	start := time.Now()

	e.mu.Lock()
	if ifVersion != nil && e.state.Version != *ifVersion {
		e.mu.Unlock()
		metrics.TimerFiresTotal.WithLabelValues("stale").Inc()
		return nil
	}
	if ifVersion != nil {
		metrics.TimerFiresTotal.WithLabelValues("applied").Inc()
	}

	events, err := e.cond.Process(e.state, cmd)
	if err != nil {
		e.mu.Unlock()
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "rejected").Inc()
		return err
	}
	if events == nil {
		e.mu.Unlock()
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "noop").Inc()
		return nil
	}

	snapshot, cloneErr := show.Clone(e.state)
	if cloneErr != nil {
		e.mu.Unlock()
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "accepted").Inc()
		// The mutation is already committed; all we can do is skip fan-out.
		e.log.Error().Str("event", "engine.clone_failed").Err(cloneErr).Msg("state clone failed")
		return nil
	}
	e.fanMu.Lock()
	e.mu.Unlock()
	defer e.fanMu.Unlock()

	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "accepted").Inc()
	metrics.CommandDuration.Observe(time.Since(start).Seconds())

	e.fanOut(cmd, snapshot, events)
	return nil
}

// fanOut pushes one command's effects to the edges. Order matters: timers
// re-arm first so a slow disk cannot widen a voting window, then audio,
// then clients, then persistence.
func (e *Engine) fanOut(cmd conductor.Command, snapshot *show.ShowState, events []conductor.Event) {
	if e.opts.Observer != nil {
		e.opts.Observer.Observe(snapshot)
	}
	if e.opts.Audio != nil {
		e.opts.Audio.Apply(snapshot, events)
	}

	forceReconnect := false
	boundary := false
	for _, ev := range events {
		switch ev.Type {
		case conductor.EvForceReconnect:
			forceReconnect = true
		case conductor.EvShowPhaseChanged:
			phase := ev.Payload.(conductor.PhasePayload).Phase
			if phase == show.PhaseRunning || phase == show.PhaseFinale {
				boundary = true
			}
		}
	}

	if e.opts.Broadcaster != nil {
		if forceReconnect {
			e.opts.Broadcaster.ForceReconnectAll()
		}
		e.opts.Broadcaster.Broadcast(snapshot)
	}

	if e.opts.Persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.opts.Persister.SaveSnapshot(ctx, snapshot); err != nil {
			metrics.SnapshotsTotal.WithLabelValues("error").Inc()
			e.log.Error().Str("event", "engine.snapshot_failed").Err(err).Msg("snapshot failed")
		} else {
			metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		}
		cancel()
	}

	// Phase boundaries get an extra recovery point on disk.
	if boundary {
		e.backup(snapshot)
	}

	e.log.Debug().
		Str("event", "engine.command_processed").
		Str("command", string(cmd.Type)).
		Int("version", snapshot.Version).
		Int("events", len(events)).
		Msg("command processed")
}

func (e *Engine) backup(snapshot *show.ShowState) {
	if e.opts.Backups == nil {
		return
	}
	if _, err := e.opts.Backups.Write(snapshot); err != nil {
		metrics.BackupsTotal.WithLabelValues("error").Inc()
		e.log.Error().Str("event", "engine.backup_failed").Err(err).Msg("backup failed")
		return
	}
	metrics.BackupsTotal.WithLabelValues("ok").Inc()
}

// BackupNow writes one backup of the current state; the periodic backup
// ticker and shutdown both use it.
func (e *Engine) BackupNow() {
	e.mu.Lock()
	snapshot, err := show.Clone(e.state)
	if err != nil {
		e.mu.Unlock()
		e.log.Error().Str("event", "engine.clone_failed").Err(err).Msg("state clone failed")
		return
	}
	e.fanMu.Lock()
	e.mu.Unlock()
	defer e.fanMu.Unlock()
	e.backup(snapshot)
}

// State returns a detached copy of the current state.
func (e *Engine) State() (*show.ShowState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return show.Clone(e.state)
}

// Version returns the current state version.
func (e *Engine) Version() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Version
}

// Shutdown stops timers and writes a final recovery point.
func (e *Engine) Shutdown() {
	if e.opts.Observer != nil {
		e.opts.Observer.Cancel()
	}
	e.BackupNow()
}
