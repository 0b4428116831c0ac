// SPDX-License-Identifier: MIT

// Package audio maps show events onto DAW commands. The router is the only
// subsystem that emits outbound audio traffic. The DAW session is modelled
// as one track per option, rows laid out in blocks of four, with every clip
// at slot 0. Transitions mute and unmute rather than stop and refire so the
// loops stay phase-locked.
package audio

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/daw"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Outbound addresses on the DAW surface.
const (
	addrTrackMute = "/live/track/set/mute"
	addrClipFire  = "/live/clip/fire"
	addrClipStop  = "/live/clip/stop"
	addrPlay      = "/live/song/start_playing"
	addrStop      = "/live/song/stop_playing"
	addrContinue  = "/live/song/continue_playing"
	addrSongTime  = "/live/song/set/current_song_time"
)

// Router translates audio cues into OSC sends.
type Router struct {
	bridge daw.Bridge
	log    zerolog.Logger

	mu      sync.Mutex
	fired   map[int]struct{} // tracks whose clip has been fired this show
	unmuted map[int]struct{} // currently audible tracks
	started bool
	playing bool
}

// NewRouter builds a Router over the given bridge.
func NewRouter(bridge daw.Bridge, log zerolog.Logger) *Router {
	return &Router{
		bridge:  bridge,
		log:     log,
		fired:   map[int]struct{}{},
		unmuted: map[int]struct{}{},
	}
}

// trackIndex maps (row, option index) onto the DAW track grid.
func trackIndex(row, option int) int {
	return row*config.OptionsPerRow + option
}

// optionIndex resolves an option id within a row, defaulting to 0 when the
// id is unknown so a bad cue degrades to the first clip rather than silence.
func optionIndex(r *show.Row, id show.OptionID) int {
	for i, opt := range r.Options {
		if opt.ID == id {
			return i
		}
	}
	return 0
}

// Apply reacts to the events of one processed command. State is the
// post-command snapshot; it resolves option ids to track positions.
func (r *Router) Apply(state *show.ShowState, events []conductor.Event) {
	for _, ev := range events {
		switch ev.Type {
		case conductor.EvAudioCue:
			r.applyCue(state, ev.Payload.(conductor.Cue))
		case conductor.EvShowPhaseChanged:
			r.applyPhase(ev.Payload.(conductor.PhasePayload).Phase)
		case conductor.EvShowReset:
			r.Reset()
		}
	}
}

func (r *Router) applyCue(state *show.ShowState, cue conductor.Cue) {
	switch cue.Kind {
	case conductor.CuePlayOption:
		r.playOption(state, cue)
	case conductor.CueStopOption:
		r.stopOption(state, cue)
	case conductor.CueCommitLayer:
		r.commitLayer(state, cue)
	case conductor.CueUncommitLayer:
		r.uncommitLayer(cue.Row)
	case conductor.CuePlayTimeline:
		r.playTimeline(state, cue)
	}
}

// rowTracks returns the four track indices of a row.
func rowTracks(rowIndex int) [config.OptionsPerRow]int {
	var tracks [config.OptionsPerRow]int
	for i := range tracks {
		tracks[i] = trackIndex(rowIndex, i)
	}
	return tracks
}

// playOption makes exactly one option of the row audible. The first
// audition of a row fires all four clips in sync, muted, then opens the
// active one; later auditions only move the mute.
func (r *Router) playOption(state *show.ShowState, cue conductor.Cue) {
	if cue.Row < 0 || cue.Row >= len(state.Rows) {
		return
	}
	row := state.Rows[cue.Row]
	active := trackIndex(cue.Row, optionIndex(row, cue.Option))
	tracks := rowTracks(cue.Row)

	r.mu.Lock()
	_, rowFired := r.fired[tracks[0]]
	var toMute []int
	if rowFired {
		for _, t := range tracks {
			if _, on := r.unmuted[t]; on && t != active {
				toMute = append(toMute, t)
				delete(r.unmuted, t)
			}
		}
	} else {
		for _, t := range tracks {
			r.fired[t] = struct{}{}
			delete(r.unmuted, t)
		}
	}
	r.unmuted[active] = struct{}{}
	r.mu.Unlock()

	if !rowFired {
		for _, t := range tracks {
			r.send(addrTrackMute, t, 1)
		}
		for _, t := range tracks {
			r.send(addrClipFire, t, 0)
		}
	} else {
		for _, t := range toMute {
			r.send(addrTrackMute, t, 1)
		}
	}
	r.send(addrTrackMute, active, 0)
}

// stopOption mutes the named option's track.
func (r *Router) stopOption(state *show.ShowState, cue conductor.Cue) {
	if cue.Row < 0 || cue.Row >= len(state.Rows) {
		return
	}
	row := state.Rows[cue.Row]
	track := trackIndex(cue.Row, optionIndex(row, cue.Option))

	r.mu.Lock()
	delete(r.unmuted, track)
	r.mu.Unlock()
	r.send(addrTrackMute, track, 1)
}

// commitLayer opens the winner's track and closes the other three. Other
// rows' committed layers are untouched.
func (r *Router) commitLayer(state *show.ShowState, cue conductor.Cue) {
	if cue.Row < 0 || cue.Row >= len(state.Rows) {
		return
	}
	row := state.Rows[cue.Row]
	winner := trackIndex(cue.Row, optionIndex(row, cue.Option))

	r.mu.Lock()
	for _, t := range rowTracks(cue.Row) {
		if t == winner {
			r.unmuted[t] = struct{}{}
		} else {
			delete(r.unmuted, t)
		}
	}
	r.mu.Unlock()

	for _, t := range rowTracks(cue.Row) {
		if t == winner {
			r.send(addrTrackMute, t, 0)
		} else {
			r.send(addrTrackMute, t, 1)
		}
	}
}

// uncommitLayer silences the whole row and stops its clips so the next
// audition re-fires them from the top.
func (r *Router) uncommitLayer(rowIndex int) {
	tracks := rowTracks(rowIndex)

	r.mu.Lock()
	for _, t := range tracks {
		delete(r.unmuted, t)
		delete(r.fired, t)
	}
	r.mu.Unlock()

	for _, t := range tracks {
		r.send(addrTrackMute, t, 1)
	}
	for _, t := range tracks {
		r.send(addrClipStop, t, 0)
	}
}

// playTimeline silences the room and replays a path from the top: every
// layer of the path fires (if needed) and opens in row order.
func (r *Router) playTimeline(state *show.ShowState, cue conductor.Cue) {
	r.mu.Lock()
	var open []int
	for t := range r.unmuted {
		open = append(open, t)
	}
	r.unmuted = map[int]struct{}{}
	r.mu.Unlock()

	sort.Ints(open)
	for _, t := range open {
		r.send(addrTrackMute, t, 1)
	}

	r.send(addrSongTime, 0.0)
	for rowIndex, optID := range cue.Path {
		if rowIndex >= len(state.Rows) {
			break
		}
		row := state.Rows[rowIndex]
		track := trackIndex(rowIndex, optionIndex(row, optID))

		r.mu.Lock()
		_, alreadyFired := r.fired[track]
		r.fired[track] = struct{}{}
		r.unmuted[track] = struct{}{}
		r.mu.Unlock()

		if !alreadyFired {
			r.send(addrClipFire, track, 0)
		}
		r.send(addrTrackMute, track, 0)
	}
}

// applyPhase maps show-level transitions onto the DAW transport.
func (r *Router) applyPhase(phase show.ShowPhase) {
	switch phase {
	case show.PhasePaused:
		r.mu.Lock()
		r.playing = false
		r.mu.Unlock()
		r.send(addrStop)
	case show.PhaseRunning:
		r.mu.Lock()
		wasPlaying := r.playing
		resumed := r.started
		r.playing = true
		r.started = true
		r.mu.Unlock()
		if wasPlaying {
			return
		}
		// First entry starts the transport; later entries are resumes.
		if resumed {
			r.send(addrContinue)
		} else {
			r.send(addrPlay)
		}
	case show.PhaseEnded:
		r.send(addrStop)
	}
}

// Reset mutes everything, stops all clips and rewinds the transport.
// SHOW_RESET and process shutdown both land here.
func (r *Router) Reset() {
	r.mu.Lock()
	var tracks []int
	for t := range r.fired {
		tracks = append(tracks, t)
	}
	for t := range r.unmuted {
		if _, ok := r.fired[t]; !ok {
			tracks = append(tracks, t)
		}
	}
	r.fired = map[int]struct{}{}
	r.unmuted = map[int]struct{}{}
	r.playing = false
	r.started = false
	r.mu.Unlock()

	sort.Ints(tracks)
	for _, t := range tracks {
		r.send(addrTrackMute, t, 1)
	}
	for _, t := range tracks {
		r.send(addrClipStop, t, 0)
	}
	r.send(addrStop)
	r.send(addrSongTime, 0.0)
}

func (r *Router) send(addr string, args ...any) {
	if err := r.bridge.Send(addr, args...); err != nil {
		r.log.Warn().Str("event", "audio.send_failed").Str("address", addr).Err(err).Msg("DAW send failed")
	}
}
