// SPDX-License-Identifier: MIT

// Package projection derives the per-role views broadcast to clients. Every
// projection is a pure function of the state (plus the user id for audience
// views); a single snapshot produces all three views deterministically.
package projection

import (
	"sort"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Role names the three client classes.
type Role string

const (
	RoleController Role = "controller"
	RoleProjector  Role = "projector"
	RoleAudience   Role = "audience"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleController, RoleProjector, RoleAudience:
		return true
	default:
		return false
	}
}

// ControllerView is the full state in an ordering-stable transport form.
type ControllerView struct {
	State *show.ShowState `json:"state"`
}

// ProjectorFaction is the public slice of a faction.
type ProjectorFaction struct {
	ID    show.FactionID `json:"id"`
	Name  string         `json:"name"`
	Color string         `json:"color"`
}

// ProjectorView is the public display state: no private coup meters, no vote
// logs.
type ProjectorView struct {
	Phase           show.ShowPhase                               `json:"phase"`
	CurrentRowIndex int                                          `json:"currentRowIndex"`
	Rows            []*show.Row                                  `json:"rows"`
	Factions        [config.FactionCount]ProjectorFaction        `json:"factions"`
	Paths           show.DualPaths                               `json:"paths"`
	ConnectedCount  int                                          `json:"connectedCount"`
	FinaleCursor    int                                          `json:"finaleCursor"`
}

// AudienceVote is the audience member's own current vote.
type AudienceVote struct {
	FactionVote  show.OptionID `json:"factionVote"`
	PersonalVote show.OptionID `json:"personalVote"`
}

// CoupMeter is the private per-faction coup progress, visible only to that
// faction's members during the coup window.
type CoupMeter struct {
	Progress float64 `json:"progress"`
	Votes    int     `json:"votes"`
	Members  int     `json:"members"`
}

// AudienceView is one user's private slice of the show.
type AudienceView struct {
	UserID               show.UserID     `json:"userId"`
	Seat                 *show.SeatID    `json:"seat,omitempty"`
	Faction              *show.FactionID `json:"faction,omitempty"`
	FactionName          string          `json:"factionName,omitempty"`
	FactionColor         string          `json:"factionColor,omitempty"`
	Phase                show.ShowPhase  `json:"phase"`
	RowPhase             show.RowPhase   `json:"rowPhase,omitempty"`
	CurrentRowIndex      int             `json:"currentRowIndex"`
	RowOptions           []show.Option   `json:"rowOptions,omitempty"`
	CurrentAuditionIndex *int            `json:"currentAuditionIndex,omitempty"`
	Attempt              int             `json:"attempt"`
	OwnVote              *AudienceVote   `json:"ownVote,omitempty"`
	FigTreeSubmitted     bool            `json:"figTreeSubmitted"`
	CoupMeter            *CoupMeter      `json:"coupMeter,omitempty"`
	CanCoup              bool            `json:"canCoup"`
}

// ForController returns the full-state controller view on a value copy.
func ForController(s *show.ShowState) (ControllerView, error) {
	clone, err := show.Clone(s)
	if err != nil {
		return ControllerView{}, err
	}
	return ControllerView{State: clone}, nil
}

// ForProjector returns the public display view.
func ForProjector(s *show.ShowState) ProjectorView {
	view := ProjectorView{
		Phase:           s.Phase,
		CurrentRowIndex: s.CurrentRowIndex,
		Paths: show.DualPaths{
			FactionPath: append([]show.OptionID{}, s.Paths.FactionPath...),
			PopularPath: append([]show.OptionID{}, s.Paths.PopularPath...),
		},
		FinaleCursor: len(s.Paths.FactionPath),
	}
	for _, row := range s.Rows {
		copied := *row
		if row.CommittedOption != nil {
			opt := *row.CommittedOption
			copied.CommittedOption = &opt
		}
		if row.CurrentAuditionIndex != nil {
			idx := *row.CurrentAuditionIndex
			copied.CurrentAuditionIndex = &idx
		}
		view.Rows = append(view.Rows, &copied)
	}
	for i, f := range s.Factions {
		view.Factions[i] = ProjectorFaction{ID: f.ID, Name: f.Name, Color: f.Color}
	}
	for _, u := range s.Users {
		if u.Connected {
			view.ConnectedCount++
		}
	}
	return view
}

// ForAudience returns the private view for one user. Unknown users get the
// public skeleton with no identity fields, which the client treats as a
// prompt to rejoin.
func ForAudience(s *show.ShowState, userID show.UserID) AudienceView {
	view := AudienceView{
		UserID:          userID,
		Phase:           s.Phase,
		CurrentRowIndex: s.CurrentRowIndex,
	}

	u, known := s.Users[userID]
	if known {
		if u.Seat != nil {
			seat := *u.Seat
			view.Seat = &seat
		}
		if u.Faction != nil {
			f := *u.Faction
			view.Faction = &f
			view.FactionName = s.Factions[f].Name
			view.FactionColor = s.Factions[f].Color
		}
	}
	if tree, ok := s.PersonalTrees[userID]; ok {
		view.FigTreeSubmitted = tree.FigTreeResponse != ""
	}

	row := s.CurrentRow()
	if row == nil || (s.Phase != show.PhaseRunning && s.Phase != show.PhasePaused) {
		return view
	}

	view.RowPhase = row.Phase
	view.Attempt = row.Attempts
	view.RowOptions = append([]show.Option{}, row.Options[:]...)
	if row.CurrentAuditionIndex != nil {
		idx := *row.CurrentAuditionIndex
		view.CurrentAuditionIndex = &idx
	}

	if i := s.FindVote(userID, row.Index, row.Attempts); i >= 0 {
		view.OwnVote = &AudienceVote{
			FactionVote:  s.Votes[i].FactionVote,
			PersonalVote: s.Votes[i].PersonalVote,
		}
	}

	if view.Faction != nil && row.Phase == show.RowCoupWindow {
		faction := s.Factions[*view.Faction]
		view.CanCoup = !faction.CoupUsed
		if view.CanCoup {
			members := s.ConnectedFactionMembers(faction.ID)
			progress := 0.0
			if members > 0 {
				progress = float64(len(faction.CurrentRowCoupVotes)) / float64(members)
			}
			view.CoupMeter = &CoupMeter{
				Progress: progress,
				Votes:    len(faction.CurrentRowCoupVotes),
				Members:  members,
			}
		}
	}
	return view
}

// AudienceUserIDs lists the known users in a stable order; the transport
// fan-out iterates this when emitting per-user syncs.
func AudienceUserIDs(s *show.ShowState) []show.UserID {
	ids := make([]show.UserID, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
