// SPDX-License-Identifier: MIT

package conductor

import (
	"encoding/json"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// CommandType identifies a conductor command.
type CommandType string

const (
	CmdUserConnect           CommandType = "USER_CONNECT"
	CmdUserDisconnect        CommandType = "USER_DISCONNECT"
	CmdUserReconnect         CommandType = "USER_RECONNECT"
	CmdSubmitFigTreeResponse CommandType = "SUBMIT_FIG_TREE_RESPONSE"
	CmdAssignFactions        CommandType = "ASSIGN_FACTIONS"
	CmdStartShow             CommandType = "START_SHOW"
	CmdAdvancePhase          CommandType = "ADVANCE_PHASE"
	CmdSubmitVote            CommandType = "SUBMIT_VOTE"
	CmdSubmitCoupVote        CommandType = "SUBMIT_COUP_VOTE"
	CmdPause                 CommandType = "PAUSE"
	CmdResume                CommandType = "RESUME"
	CmdSkipRow               CommandType = "SKIP_ROW"
	CmdRestartRow            CommandType = "RESTART_ROW"
	CmdTriggerCoup           CommandType = "TRIGGER_COUP"
	CmdSetTiming             CommandType = "SET_TIMING"
	CmdForceFinale           CommandType = "FORCE_FINALE"
	CmdResetToLobby          CommandType = "RESET_TO_LOBBY"
	CmdImportState           CommandType = "IMPORT_STATE"
	CmdForceReconnectAll     CommandType = "FORCE_RECONNECT_ALL"
	CmdPlayTimeline          CommandType = "PLAY_TIMELINE"
)

// IsValid reports whether t is a recognised command type.
func (t CommandType) IsValid() bool {
	switch t {
	case CmdUserConnect, CmdUserDisconnect, CmdUserReconnect,
		CmdSubmitFigTreeResponse, CmdAssignFactions, CmdStartShow,
		CmdAdvancePhase, CmdSubmitVote, CmdSubmitCoupVote,
		CmdPause, CmdResume, CmdSkipRow, CmdRestartRow, CmdTriggerCoup,
		CmdSetTiming, CmdForceFinale, CmdResetToLobby, CmdImportState,
		CmdForceReconnectAll, CmdPlayTimeline:
		return true
	default:
		return false
	}
}

// Command is the wire and in-process form of a conductor command. Fields
// beyond Type are populated per command type; unused fields stay zero.
type Command struct {
	Type CommandType `json:"type"`

	UserID          show.UserID            `json:"userId,omitempty"`
	SeatID          *show.SeatID           `json:"seatId,omitempty"`
	ExistingFaction *show.FactionID        `json:"existingFaction,omitempty"`
	LastVersion     int                    `json:"lastVersion,omitempty"`
	Text            string                 `json:"text,omitempty"`
	FactionVote     show.OptionID          `json:"factionVote,omitempty"`
	PersonalVote    show.OptionID          `json:"personalVote,omitempty"`
	FactionID       *show.FactionID        `json:"factionId,omitempty"`
	Timing          *config.TimingOverride `json:"timing,omitempty"`
	PreserveUsers   bool                   `json:"preserveUsers,omitempty"`
	State           json.RawMessage        `json:"state,omitempty"`
	TimelineUser    *show.UserID           `json:"timelineUser,omitempty"`
}
