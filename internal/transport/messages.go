// SPDX-License-Identifier: MIT

package transport

import (
	"encoding/json"

	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Inbound message types.
const (
	MsgJoin            = "join"
	MsgReconnectUser   = "reconnect_user"
	MsgVote            = "vote"
	MsgCoupVote        = "coup_vote"
	MsgFigTreeResponse = "fig_tree_response"
	MsgCommand         = "command"
	MsgPong            = "pong"
)

// Outbound message types.
const (
	MsgStateSync      = "state_sync"
	MsgIdentity       = "identity"
	MsgError          = "error"
	MsgPing           = "ping"
	MsgForceReconnect = "force_reconnect"
)

// Inbound is the envelope for every client message. Fields are a union over
// the message types; the type tag decides which ones are read.
type Inbound struct {
	Type string `json:"type"`

	// join / reconnect_user
	Role            string          `json:"role,omitempty"`
	UserID          show.UserID     `json:"userId,omitempty"`
	SeatID          *show.SeatID    `json:"seatId,omitempty"`
	ExistingFaction *show.FactionID `json:"existingFaction,omitempty"`
	LastVersion     *int            `json:"lastVersion,omitempty"`

	// vote
	FactionVote  show.OptionID `json:"factionVote,omitempty"`
	PersonalVote show.OptionID `json:"personalVote,omitempty"`

	// fig_tree_response
	Text string `json:"text,omitempty"`

	// command (controller only)
	Command *conductor.Command `json:"command,omitempty"`
}

// Outbound is the server-to-client envelope.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload reports a rejected message back to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// IdentityPayload tells a client which user it is bound to.
type IdentityPayload struct {
	UserID show.UserID `json:"userId"`
}

func encodeOutbound(msg Outbound) ([]byte, error) {
	return json.Marshal(msg)
}
