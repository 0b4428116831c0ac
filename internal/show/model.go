// SPDX-License-Identifier: MIT

// Package show defines the authoritative show state model: the single
// ShowState root and every entity it owns. All cross-references between
// entities use identifiers; there are no back-pointers.
package show

import (
	"fmt"
	"time"

	"github.com/jwhector/yggdrasil/internal/config"
)

// Opaque identifiers.
type (
	UserID   string
	OptionID string
	ShowID   string
	SeatID   string
)

// FactionID indexes one of the four factions (0..3).
type FactionID int

// IsValid reports whether f is a recognised faction id.
func (f FactionID) IsValid() bool {
	return f >= 0 && f < config.FactionCount
}

// ShowPhase is the top-level show lifecycle phase.
type ShowPhase string

const (
	PhaseLobby     ShowPhase = "lobby"
	PhaseAssigning ShowPhase = "assigning"
	PhaseRunning   ShowPhase = "running"
	PhaseFinale    ShowPhase = "finale"
	PhaseEnded     ShowPhase = "ended"

	// PhasePaused is an orthogonal wrapper; the underlying phase is kept in
	// ShowState.PausedPhase while paused.
	PhasePaused ShowPhase = "paused"
)

// IsValid reports whether p is a recognised show phase.
func (p ShowPhase) IsValid() bool {
	switch p {
	case PhaseLobby, PhaseAssigning, PhaseRunning, PhaseFinale, PhaseEnded, PhasePaused:
		return true
	default:
		return false
	}
}

// RowPhase is the per-row sub-state machine phase.
type RowPhase string

const (
	RowPending     RowPhase = "pending"
	RowAuditioning RowPhase = "auditioning"
	RowVoting      RowPhase = "voting"
	RowRevealing   RowPhase = "revealing"
	RowCoupWindow  RowPhase = "coup_window"
	RowCommitted   RowPhase = "committed"
)

// IsValid reports whether p is a recognised row phase.
func (p RowPhase) IsValid() bool {
	switch p {
	case RowPending, RowAuditioning, RowVoting, RowRevealing, RowCoupWindow, RowCommitted:
		return true
	default:
		return false
	}
}

// User is one audience member. Users are never destroyed within a show; a
// disconnect only flips Connected.
type User struct {
	ID        UserID     `json:"id"`
	Seat      *SeatID    `json:"seat,omitempty"`
	Faction   *FactionID `json:"faction,omitempty"`
	Connected bool       `json:"connected"`
	JoinedAt  int64      `json:"joinedAt"`
}

// Faction is one of the four audience blocs. CoupUsed is monotonic within a
// show: once true it stays true until RESET_TO_LOBBY.
type Faction struct {
	ID                  FactionID `json:"id"`
	Name                string    `json:"name"`
	Color               string    `json:"color"`
	CoupUsed            bool      `json:"coupUsed"`
	CoupMultiplier      float64   `json:"coupMultiplier"`
	CurrentRowCoupVotes UserSet   `json:"currentRowCoupVotes"`
}

// Option is one of the four alternatives a row offers. Immutable after
// configuration.
type Option struct {
	ID            OptionID `json:"id"`
	Index         int      `json:"index"`
	Clip          string   `json:"clip"`
	HarmonicGroup string   `json:"harmonicGroup,omitempty"`
}

// Row is one step of the song. CurrentAuditionIndex counts audition steps
// monotonically; its value mod 4 is the option currently playing, so a
// multi-loop audition keeps track of which cycle it is on.
type Row struct {
	Index                int                            `json:"index"`
	Label                string                         `json:"label"`
	Type                 string                         `json:"type"`
	Options              [config.OptionsPerRow]Option   `json:"options"`
	Phase                RowPhase                       `json:"phase"`
	CommittedOption      *OptionID                      `json:"committedOption,omitempty"`
	Attempts             int                            `json:"attempts"`
	CurrentAuditionIndex *int                           `json:"currentAuditionIndex,omitempty"`
}

// OptionByID returns the row option with the given id, or nil.
func (r *Row) OptionByID(id OptionID) *Option {
	for i := range r.Options {
		if r.Options[i].ID == id {
			return &r.Options[i]
		}
	}
	return nil
}

// HasOption reports whether id names one of the row's four options.
func (r *Row) HasOption(id OptionID) bool {
	return r.OptionByID(id) != nil
}

// Vote is one user's submission for one (row, attempt). FactionVote feeds
// coherence; PersonalVote feeds the popular path.
type Vote struct {
	UserID       UserID   `json:"userId"`
	RowIndex     int      `json:"rowIndex"`
	FactionVote  OptionID `json:"factionVote"`
	PersonalVote OptionID `json:"personalVote"`
	Timestamp    int64    `json:"timestamp"`
	Attempt      int      `json:"attempt"`
}

// PersonalTree is one user's personal path through the committed rows, plus
// the optional lobby prompt response.
type PersonalTree struct {
	Path            []OptionID `json:"path"`
	FigTreeResponse string     `json:"figTreeResponse,omitempty"`
}

// DualPaths carries the two parallel option sequences aligned to row index.
type DualPaths struct {
	FactionPath []OptionID `json:"factionPath"`
	PopularPath []OptionID `json:"popularPath"`
}

// ShowState is the single authoritative state root. It exclusively owns all
// nested entities.
type ShowState struct {
	ID              ShowID            `json:"id"`
	Version         int               `json:"version"`
	LastUpdated     int64             `json:"lastUpdated"`
	Phase           ShowPhase         `json:"phase"`
	PausedPhase     *ShowPhase        `json:"pausedPhase,omitempty"`
	CurrentRowIndex int               `json:"currentRowIndex"`
	Rows            []*Row            `json:"rows"`
	Factions        [config.FactionCount]*Faction `json:"factions"`
	Users           UserMap           `json:"users"`
	Votes           []Vote            `json:"votes"`
	PersonalTrees   TreeMap           `json:"personalTrees"`
	Paths           DualPaths         `json:"paths"`
	Config          config.ShowConfig `json:"config"`
}

// New builds the initial lobby state from a validated configuration.
func New(cfg config.ShowConfig, now time.Time) *ShowState {
	s := &ShowState{
		ID:            ShowID(cfg.ShowID),
		Version:       0,
		LastUpdated:   now.UnixMilli(),
		Phase:         PhaseLobby,
		Users:         UserMap{},
		PersonalTrees: TreeMap{},
		Paths:         DualPaths{FactionPath: []OptionID{}, PopularPath: []OptionID{}},
		Config:        cfg,
	}
	for i, rc := range cfg.Rows {
		row := &Row{Index: i, Label: rc.Label, Type: rc.Type, Phase: RowPending}
		for j, oc := range rc.Options {
			row.Options[j] = Option{
				ID:            OptionID(oc.ID),
				Index:         j,
				Clip:          oc.Clip,
				HarmonicGroup: oc.HarmonicGroup,
			}
		}
		s.Rows = append(s.Rows, row)
	}
	for i := 0; i < config.FactionCount; i++ {
		s.Factions[i] = &Faction{
			ID:                  FactionID(i),
			Name:                cfg.Factions[i].Name,
			Color:               cfg.Factions[i].Color,
			CoupMultiplier:      1.0,
			CurrentRowCoupVotes: UserSet{},
		}
	}
	return s
}

// CurrentRow returns the active row, or nil outside running bounds.
func (s *ShowState) CurrentRow() *Row {
	if s.CurrentRowIndex < 0 || s.CurrentRowIndex >= len(s.Rows) {
		return nil
	}
	return s.Rows[s.CurrentRowIndex]
}

// Touch advances the version and update timestamp; called exactly once per
// accepted command.
func (s *ShowState) Touch(now time.Time) {
	s.Version++
	if ms := now.UnixMilli(); ms > s.LastUpdated {
		s.LastUpdated = ms
	}
}

// FindVote returns the index in the vote log for (user, row, attempt), or -1.
func (s *ShowState) FindVote(user UserID, row, attempt int) int {
	for i := range s.Votes {
		v := &s.Votes[i]
		if v.UserID == user && v.RowIndex == row && v.Attempt == attempt {
			return i
		}
	}
	return -1
}

// ConnectedFactionMembers counts connected users assigned to the faction.
func (s *ShowState) ConnectedFactionMembers(f FactionID) int {
	n := 0
	for _, u := range s.Users {
		if u.Connected && u.Faction != nil && *u.Faction == f {
			n++
		}
	}
	return n
}

// Check verifies the structural state invariants. Test helper and recovery
// guard; the conductor maintains these by construction.
func (s *ShowState) Check() error {
	for i, f := range s.Factions {
		if f == nil {
			return fmt.Errorf("faction %d is nil", i)
		}
		if f.ID != FactionID(i) {
			return fmt.Errorf("faction %d has id %d", i, f.ID)
		}
		for u := range f.CurrentRowCoupVotes {
			if _, ok := s.Users[u]; !ok {
				return fmt.Errorf("faction %d coup vote from unknown user %s", i, u)
			}
		}
	}

	if s.Phase == PhasePaused {
		if s.PausedPhase == nil {
			return fmt.Errorf("paused without pausedPhase")
		}
	} else if s.PausedPhase != nil {
		return fmt.Errorf("pausedPhase set while phase is %s", s.Phase)
	}

	committed := 0
	for _, row := range s.Rows {
		if row.CommittedOption != nil {
			if committed >= len(s.Paths.FactionPath) || s.Paths.FactionPath[row.Index] != *row.CommittedOption {
				return fmt.Errorf("row %d committed option not reflected in factionPath", row.Index)
			}
			committed++
		}
		auditioning := row.Phase == RowAuditioning
		if auditioning && row.CurrentAuditionIndex == nil {
			return fmt.Errorf("row %d auditioning without audition index", row.Index)
		}
		if !auditioning && row.CurrentAuditionIndex != nil {
			return fmt.Errorf("row %d carries audition index in phase %s", row.Index, row.Phase)
		}
	}
	if len(s.Paths.FactionPath) != len(s.Paths.PopularPath) {
		return fmt.Errorf("path lengths diverge: faction=%d popular=%d",
			len(s.Paths.FactionPath), len(s.Paths.PopularPath))
	}
	if len(s.Paths.FactionPath) != committed {
		return fmt.Errorf("factionPath length %d != committed rows %d", len(s.Paths.FactionPath), committed)
	}

	for i := range s.Votes {
		if _, ok := s.Users[s.Votes[i].UserID]; !ok {
			return fmt.Errorf("vote from unknown user %s", s.Votes[i].UserID)
		}
	}
	for u := range s.PersonalTrees {
		if _, ok := s.Users[u]; !ok {
			return fmt.Errorf("personal tree for unknown user %s", u)
		}
	}
	return nil
}
