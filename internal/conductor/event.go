// SPDX-License-Identifier: MIT

package conductor

import (
	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// EventType identifies an event emitted by the conductor. Events are in
// causal order within a command.
type EventType string

const (
	EvUserJoined           EventType = "USER_JOINED"
	EvUserLeft             EventType = "USER_LEFT"
	EvUserReconnected      EventType = "USER_RECONNECTED"
	EvStateSync            EventType = "STATE_SYNC"
	EvShowPhaseChanged     EventType = "SHOW_PHASE_CHANGED"
	EvFactionsAssigned     EventType = "FACTIONS_ASSIGNED"
	EvFactionAssigned      EventType = "FACTION_ASSIGNED"
	EvRowPhaseChanged      EventType = "ROW_PHASE_CHANGED"
	EvAuditionOptionChange EventType = "AUDITION_OPTION_CHANGED"
	EvVoteReceived         EventType = "VOTE_RECEIVED"
	EvReveal               EventType = "REVEAL"
	EvTieDetected          EventType = "TIE_DETECTED"
	EvTieResolved          EventType = "TIE_RESOLVED"
	EvPathsUpdated         EventType = "PATHS_UPDATED"
	EvCoupMeterUpdate      EventType = "COUP_METER_UPDATE"
	EvCoupTriggered        EventType = "COUP_TRIGGERED"
	EvFinalePopularSong    EventType = "FINALE_POPULAR_SONG"
	EvShowReset            EventType = "SHOW_RESET"
	EvForceReconnect       EventType = "FORCE_RECONNECT"
	EvAudioCue             EventType = "AUDIO_CUE"
)

// Event is one observable effect of a command. Payload is one of the typed
// payload structs below (or nil).
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// UserPayload accompanies user lifecycle events.
type UserPayload struct {
	UserID  show.UserID     `json:"userId"`
	Faction *show.FactionID `json:"faction,omitempty"`
}

// PhasePayload accompanies SHOW_PHASE_CHANGED.
type PhasePayload struct {
	Phase       show.ShowPhase  `json:"phase"`
	PausedPhase *show.ShowPhase `json:"pausedPhase,omitempty"`
}

// RowPhasePayload accompanies ROW_PHASE_CHANGED.
type RowPhasePayload struct {
	RowIndex int           `json:"rowIndex"`
	Phase    show.RowPhase `json:"phase"`
	Attempts int           `json:"attempts"`
}

// AuditionPayload accompanies AUDITION_OPTION_CHANGED.
type AuditionPayload struct {
	RowIndex      int           `json:"rowIndex"`
	AuditionIndex int           `json:"auditionIndex"`
	OptionIndex   int           `json:"optionIndex"`
	OptionID      show.OptionID `json:"optionId"`
}

// VotePayload accompanies VOTE_RECEIVED.
type VotePayload struct {
	UserID   show.UserID `json:"userId"`
	RowIndex int         `json:"rowIndex"`
	Attempt  int         `json:"attempt"`
}

// FactionResult is one faction's standing in a reveal.
type FactionResult struct {
	FactionID         show.FactionID `json:"factionId"`
	RawCoherence      float64        `json:"rawCoherence"`
	WeightedCoherence float64        `json:"weightedCoherence"`
	BlocOption        show.OptionID  `json:"blocOption,omitempty"`
	VoteCount         int            `json:"voteCount"`
}

// PopularResult summarises the cross-faction personal vote.
type PopularResult struct {
	OptionID            show.OptionID `json:"optionId"`
	Count               int           `json:"count"`
	DivergedFromFaction bool          `json:"divergedFromFaction"`
}

// RevealPayload is the compound REVEAL event body.
type RevealPayload struct {
	RowIndex         int                                `json:"rowIndex"`
	Attempt          int                                `json:"attempt"`
	FactionResults   [config.FactionCount]FactionResult `json:"factionResults"`
	Tie              bool                               `json:"tie"`
	TiedFactions     []show.FactionID                   `json:"tiedFactions,omitempty"`
	WinningFactionID show.FactionID                     `json:"winningFactionId"`
	WinningOptionID  show.OptionID                      `json:"winningOptionId"`
	PopularVote      PopularResult                      `json:"popularVote"`
}

// TiePayload accompanies TIE_DETECTED and TIE_RESOLVED.
type TiePayload struct {
	RowIndex     int              `json:"rowIndex"`
	TiedFactions []show.FactionID `json:"tiedFactions"`
	Winner       *show.FactionID  `json:"winner,omitempty"`
}

// PathsPayload accompanies PATHS_UPDATED.
type PathsPayload struct {
	FactionPath []show.OptionID `json:"factionPath"`
	PopularPath []show.OptionID `json:"popularPath"`
}

// CoupMeterPayload accompanies COUP_METER_UPDATE.
type CoupMeterPayload struct {
	FactionID show.FactionID `json:"factionId"`
	Progress  float64        `json:"progress"`
	Votes     int            `json:"votes"`
	Members   int            `json:"members"`
}

// CoupPayload accompanies COUP_TRIGGERED.
type CoupPayload struct {
	FactionID  show.FactionID `json:"factionId"`
	RowIndex   int            `json:"rowIndex"`
	Attempts   int            `json:"attempts"`
	Multiplier float64        `json:"multiplier"`
}

// FinalePayload accompanies FINALE_POPULAR_SONG.
type FinalePayload struct {
	PopularPath []show.OptionID `json:"popularPath"`
}

// CueKind identifies an abstract audio cue.
type CueKind string

const (
	CuePlayOption    CueKind = "play_option"
	CueStopOption    CueKind = "stop_option"
	CueCommitLayer   CueKind = "commit_layer"
	CueUncommitLayer CueKind = "uncommit_layer"
	CuePlayTimeline  CueKind = "play_timeline"
)

// Cue is the payload of an AUDIO_CUE event, translated to DAW wire messages
// by the audio router.
type Cue struct {
	Kind   CueKind         `json:"kind"`
	Row    int             `json:"row,omitempty"`
	Option show.OptionID   `json:"option,omitempty"`
	Path   []show.OptionID `json:"path,omitempty"`
	UserID *show.UserID    `json:"userId,omitempty"`
}

func event(t EventType, payload any) Event { return Event{Type: t, Payload: payload} }

func audioCue(c Cue) Event { return Event{Type: EvAudioCue, Payload: c} }
