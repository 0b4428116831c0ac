// SPDX-License-Identifier: MIT

// Package timing schedules automatic phase advancement. It observes the
// authoritative state after every command and keeps at most one pending
// timer; every scheduled fire carries the version it was scheduled under so
// a manual command in the meantime makes the fire a no-op.
package timing

import (
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/daw"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Submitter feeds version-stamped commands back into the serialiser.
type Submitter interface {
	SubmitAdvance(version int)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(version int)

func (f SubmitterFunc) SubmitAdvance(version int) { f(version) }

// Scheduler drives timed phase transitions. Auditioning can run on the
// DAW's beat counter instead of wall-clock timers; all other phases always
// use wall-clock windows.
type Scheduler struct {
	submit Submitter
	log    zerolog.Logger

	mu       sync.Mutex
	timing   config.TimingConfig
	timer    *time.Timer
	armedFor int // version the pending timer was scheduled under, -1 if none

	// External-clock audition tracking.
	beatMode    bool
	beatArmed   bool
	beatStart   float64
	beatStarted bool
	beatVersion int
}

// NewScheduler builds a Scheduler. Wire the beat intake with BindBridge
// when an external clock is in use.
func NewScheduler(timing config.TimingConfig, submit Submitter, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		submit:   submit,
		log:      log,
		timing:   timing,
		armedFor: -1,
		beatMode: timing.UseExternalClock,
	}
}

// SetTiming swaps the timing configuration directly. Observe also refreshes
// it from the state, which carries any SET_TIMING overrides.
func (s *Scheduler) SetTiming(timing config.TimingConfig) {
	s.mu.Lock()
	s.timing = timing
	s.beatMode = timing.UseExternalClock
	s.mu.Unlock()
}

// BindBridge subscribes the scheduler to the DAW beat counter and to the
// external clock contract. Beats drive audition advancement; tempo and ready
// are advisory and only logged.
func (s *Scheduler) BindBridge(bridge daw.Bridge) {
	onBeat := func(msg *osc.Message) {
		if len(msg.Arguments) == 0 {
			return
		}
		switch v := msg.Arguments[0].(type) {
		case int32:
			s.OnBeat(float64(v))
		case float32:
			s.OnBeat(float64(v))
		case float64:
			s.OnBeat(v)
		}
	}
	bridge.Handle(daw.AddrGetBeat, onBeat)
	bridge.Handle(daw.AddrClockBeat, onBeat)
	bridge.Handle(daw.AddrClockTempo, func(msg *osc.Message) {
		if len(msg.Arguments) == 0 {
			return
		}
		s.log.Debug().Str("event", "timing.tempo").Interface("bpm", msg.Arguments[0]).Msg("external clock tempo")
	})
	bridge.Handle(daw.AddrClockReady, func(*osc.Message) {
		s.log.Info().Str("event", "timing.clock_ready").Msg("external clock ready")
	})
}

// Observe inspects the state after a command and (re)schedules the next
// automatic advance. Pausing cancels; resuming lands here again and
// re-arms. Timing comes from the state itself, so SET_TIMING overrides take
// effect on the next transition.
func (s *Scheduler) Observe(state *show.ShowState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timing = state.Config.Timing
	s.beatMode = s.timing.UseExternalClock
	s.cancelLocked()

	if state.Phase != show.PhaseRunning {
		return
	}
	row := state.CurrentRow()
	if row == nil {
		return
	}

	var window time.Duration
	switch row.Phase {
	case show.RowAuditioning:
		if s.beatMode {
			s.beatArmed = true
			s.beatStarted = false
			s.beatVersion = state.Version
			return
		}
		window = s.timing.AuditionPerOption.Std()
	case show.RowVoting:
		window = s.timing.VotingWindow.Std()
	case show.RowRevealing:
		window = s.timing.RevealDuration.Std()
	case show.RowCoupWindow:
		window = s.timing.CoupWindow.Std()
	default:
		return // pending and committed have no timer
	}
	if window <= 0 {
		return
	}

	version := state.Version
	s.armedFor = version
	s.timer = time.AfterFunc(window, func() {
		s.fire(version)
	})
	s.log.Debug().
		Str("event", "timing.armed").
		Str("row_phase", string(row.Phase)).
		Dur("window", window).
		Int("version", version).
		Msg("phase timer armed")
}

// OnBeat consumes one beat-counter tick from the DAW. Only auditioning in
// external-clock mode reacts; the first observed beat anchors the loop.
func (s *Scheduler) OnBeat(beat float64) {
	s.mu.Lock()
	if !s.beatArmed {
		s.mu.Unlock()
		return
	}
	if !s.beatStarted {
		s.beatStarted = true
		s.beatStart = beat
		s.mu.Unlock()
		return
	}
	elapsed := beat - s.beatStart
	if elapsed < float64(s.timing.MasterLoopBeats) {
		s.mu.Unlock()
		return
	}
	version := s.beatVersion
	s.beatArmed = false
	s.mu.Unlock()

	s.fire(version)
}

// Cancel drops any pending timer and beat watch.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armedFor = -1
	s.beatArmed = false
	s.beatStarted = false
}

// fire hands the advance to the serialiser. Staleness is decided there,
// against the live version; this side only reports the attempt.
func (s *Scheduler) fire(version int) {
	s.mu.Lock()
	if s.armedFor == version {
		s.armedFor = -1
		s.timer = nil
	}
	s.mu.Unlock()

	s.submit.SubmitAdvance(version)
}
