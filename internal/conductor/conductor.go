// SPDX-License-Identifier: MIT

// Package conductor implements the pure (state, command) → events state
// machine at the heart of the show. Process mutates the supplied state in
// place as the sole contract of acceptance; the caller owns persistence and
// broadcast. Everything is deterministic except tie resolution, which draws
// from an injectable Rand.
package conductor

import (
	"math/rand"
	"time"

	"github.com/jwhector/yggdrasil/internal/show"
)

// Rand is the narrow randomness interface used for tie resolution. Tests
// inject a deterministic implementation.
type Rand interface {
	Intn(n int) int
}

// Conductor processes commands against a ShowState. It holds no show state
// of its own; the zero dependencies are a clock and an RNG.
type Conductor struct {
	now  func() time.Time
	rand Rand
}

// Option configures a Conductor.
type Option func(*Conductor)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Conductor) { c.now = now }
}

// WithRand overrides the tie-resolution RNG (tests).
func WithRand(r Rand) Option {
	return func(c *Conductor) { c.rand = r }
}

// New creates a Conductor with live clock and non-seeded randomness.
func New(opts ...Option) *Conductor {
	c := &Conductor{
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process applies one command to the state. Accepted commands mutate the
// state, advance its version by exactly one, and return their events.
// Rejected commands return a *CommandError and leave the state untouched.
// Stale or out-of-window submissions that must not punish clients return
// (nil, nil) without mutating anything.
func (c *Conductor) Process(s *show.ShowState, cmd Command) ([]Event, error) {
	if !cmd.Type.IsValid() {
		return nil, rejectf(ErrUnknownCommand, cmd.Type, "unrecognised command type %q", cmd.Type)
	}

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdUserConnect:
		events, err = c.userConnect(s, cmd)
	case CmdUserDisconnect:
		events, err = c.userDisconnect(s, cmd)
	case CmdUserReconnect:
		events, err = c.userReconnect(s, cmd)
	case CmdSubmitFigTreeResponse:
		events, err = c.submitFigTree(s, cmd)
	case CmdAssignFactions:
		events, err = c.assignFactions(s, cmd)
	case CmdStartShow:
		events, err = c.startShow(s, cmd)
	case CmdAdvancePhase:
		events, err = c.advancePhase(s, cmd)
	case CmdSubmitVote:
		events, err = c.submitVote(s, cmd)
	case CmdSubmitCoupVote:
		events, err = c.submitCoupVote(s, cmd)
	case CmdPause:
		events, err = c.pause(s, cmd)
	case CmdResume:
		events, err = c.resume(s, cmd)
	case CmdSkipRow:
		events, err = c.skipRow(s, cmd)
	case CmdRestartRow:
		events, err = c.restartRow(s, cmd)
	case CmdTriggerCoup:
		events, err = c.triggerCoup(s, cmd)
	case CmdSetTiming:
		events, err = c.setTiming(s, cmd)
	case CmdForceFinale:
		events, err = c.forceFinale(s, cmd)
	case CmdResetToLobby:
		events, err = c.resetToLobby(s, cmd)
	case CmdImportState:
		events, err = c.importState(s, cmd)
	case CmdForceReconnectAll:
		// Pure transport directive; no state mutation, no version bump.
		return []Event{event(EvForceReconnect, nil)}, nil
	case CmdPlayTimeline:
		events, err = c.playTimeline(s, cmd)
	}
	if err != nil {
		return nil, err
	}
	if events == nil {
		// Silent no-op (stale client); nothing changed.
		return nil, nil
	}
	s.Touch(c.now())
	return events, nil
}

// accepted marks a command accepted even when it has no broadcast events.
var accepted = []Event{}

func (c *Conductor) userConnect(s *show.ShowState, cmd Command) ([]Event, error) {
	if cmd.UserID == "" {
		return nil, rejectf(ErrBadPayload, cmd.Type, "userId required")
	}

	u, known := s.Users[cmd.UserID]
	if !known {
		u = &show.User{
			ID:       cmd.UserID,
			JoinedAt: c.now().UnixMilli(),
		}
		s.Users[cmd.UserID] = u
	}
	u.Connected = true
	if cmd.SeatID != nil {
		u.Seat = cmd.SeatID
	}
	if _, ok := s.PersonalTrees[cmd.UserID]; !ok {
		s.PersonalTrees[cmd.UserID] = &show.PersonalTree{Path: []show.OptionID{}}
	}

	events := []Event{event(EvUserJoined, UserPayload{UserID: u.ID, Faction: u.Faction})}

	// Reconnecting clients may carry their prior faction through a server
	// restart; trust it only if it is a real faction id.
	if u.Faction == nil && cmd.ExistingFaction != nil && cmd.ExistingFaction.IsValid() {
		f := *cmd.ExistingFaction
		u.Faction = &f
		events = append(events, event(EvFactionAssigned, UserPayload{UserID: u.ID, Faction: u.Faction}))
	}

	// Latecomers joining after assignment get a faction immediately.
	if u.Faction == nil && s.Phase != show.PhaseLobby {
		f := c.assignLatecomer(s, u)
		u.Faction = &f
		events = append(events, event(EvFactionAssigned, UserPayload{UserID: u.ID, Faction: u.Faction}))
	}

	events = append(events, event(EvStateSync, UserPayload{UserID: u.ID}))
	return events, nil
}

func (c *Conductor) userDisconnect(s *show.ShowState, cmd Command) ([]Event, error) {
	u, ok := s.Users[cmd.UserID]
	if !ok {
		// Heartbeat-synthesised disconnects can race a reset; ignore.
		return nil, nil
	}
	if !u.Connected {
		return nil, nil
	}
	u.Connected = false
	return []Event{event(EvUserLeft, UserPayload{UserID: u.ID})}, nil
}

func (c *Conductor) userReconnect(s *show.ShowState, cmd Command) ([]Event, error) {
	u, ok := s.Users[cmd.UserID]
	if !ok {
		return nil, rejectf(ErrMissingUser, cmd.Type, "unknown user %s", cmd.UserID)
	}
	u.Connected = true
	return []Event{
		event(EvUserReconnected, UserPayload{UserID: u.ID, Faction: u.Faction}),
		event(EvStateSync, UserPayload{UserID: u.ID}),
	}, nil
}

func (c *Conductor) submitFigTree(s *show.ShowState, cmd Command) ([]Event, error) {
	if _, ok := s.Users[cmd.UserID]; !ok {
		return nil, rejectf(ErrMissingUser, cmd.Type, "unknown user %s", cmd.UserID)
	}
	tree, ok := s.PersonalTrees[cmd.UserID]
	if !ok {
		tree = &show.PersonalTree{Path: []show.OptionID{}}
		s.PersonalTrees[cmd.UserID] = tree
	}
	tree.FigTreeResponse = cmd.Text
	return accepted, nil
}

func (c *Conductor) assignFactions(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseLobby {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires lobby, currently %s", s.Phase)
	}
	assignments := assignAll(s)
	s.Phase = show.PhaseAssigning
	return []Event{
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase}),
		event(EvFactionsAssigned, assignments),
	}, nil
}

func (c *Conductor) startShow(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseAssigning {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires assigning, currently %s", s.Phase)
	}
	if len(s.Rows) == 0 {
		return nil, rejectf(ErrBadPayload, cmd.Type, "show has no rows")
	}
	s.Phase = show.PhaseRunning
	s.CurrentRowIndex = 0

	events := []Event{event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase})}
	events = append(events, c.enterAuditioning(s, s.Rows[0])...)
	return events, nil
}

// enterAuditioning puts a row into auditioning at step 0 and emits the row,
// audition, and audio events for the first option.
func (c *Conductor) enterAuditioning(s *show.ShowState, row *show.Row) []Event {
	idx := 0
	row.Phase = show.RowAuditioning
	row.CurrentAuditionIndex = &idx

	opt := row.Options[0]
	return []Event{
		event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
		event(EvAuditionOptionChange, AuditionPayload{
			RowIndex: row.Index, AuditionIndex: idx, OptionIndex: 0, OptionID: opt.ID,
		}),
		audioCue(Cue{Kind: CuePlayOption, Row: row.Index, Option: opt.ID}),
	}
}

func (c *Conductor) advancePhase(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseRunning {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires running, currently %s", s.Phase)
	}
	row := s.CurrentRow()
	if row == nil {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "no current row")
	}

	switch row.Phase {
	case show.RowPending:
		return c.enterAuditioning(s, row), nil

	case show.RowAuditioning:
		loops := s.Config.Timing.AuditionLoopsPerRow
		if loops < 1 {
			loops = 1
		}
		steps := len(row.Options) * loops
		next := *row.CurrentAuditionIndex + 1
		if next < steps {
			row.CurrentAuditionIndex = &next
			optIdx := next % len(row.Options)
			opt := row.Options[optIdx]
			return []Event{
				event(EvAuditionOptionChange, AuditionPayload{
					RowIndex: row.Index, AuditionIndex: next, OptionIndex: optIdx, OptionID: opt.ID,
				}),
				audioCue(Cue{Kind: CuePlayOption, Row: row.Index, Option: opt.ID}),
			}, nil
		}
		// Audition complete; the last option stops and voting opens.
		last := row.Options[*row.CurrentAuditionIndex%len(row.Options)]
		row.CurrentAuditionIndex = nil
		row.Phase = show.RowVoting
		return []Event{
			event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
			audioCue(Cue{Kind: CueStopOption, Row: row.Index, Option: last.ID}),
		}, nil

	case show.RowVoting:
		return c.reveal(s, row)

	case show.RowRevealing:
		row.Phase = show.RowCoupWindow
		return []Event{
			event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
		}, nil

	case show.RowCoupWindow:
		row.Phase = show.RowCommitted
		return []Event{
			event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
		}, nil

	case show.RowCommitted:
		if s.CurrentRowIndex == len(s.Rows)-1 {
			return c.enterFinale(s), nil
		}
		s.CurrentRowIndex++
		resetCoupMultipliers(s)
		clearCoupVotesForNewRow(s)
		return c.enterAuditioning(s, s.CurrentRow()), nil
	}
	return nil, rejectf(ErrInvalidPhase, cmd.Type, "row %d in unexpected phase %s", row.Index, row.Phase)
}

// resetCoupMultipliers returns every faction's multiplier to 1.0. The coup
// boost is row-scoped.
func resetCoupMultipliers(s *show.ShowState) {
	for _, f := range s.Factions {
		f.CoupMultiplier = 1.0
	}
}

// clearCoupVotesForNewRow empties every faction's coup-vote set.
func clearCoupVotesForNewRow(s *show.ShowState) {
	for _, f := range s.Factions {
		f.CurrentRowCoupVotes = show.UserSet{}
	}
}

func (c *Conductor) enterFinale(s *show.ShowState) []Event {
	s.Phase = show.PhaseFinale
	s.PausedPhase = nil
	popular := append([]show.OptionID(nil), s.Paths.PopularPath...)
	return []Event{
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase}),
		event(EvFinalePopularSong, FinalePayload{PopularPath: popular}),
		audioCue(Cue{Kind: CuePlayTimeline, Path: popular}),
	}
}

func (c *Conductor) submitVote(s *show.ShowState, cmd Command) ([]Event, error) {
	u, ok := s.Users[cmd.UserID]
	if !ok || u.Faction == nil {
		// Stale or unassigned clients lose the race quietly.
		return nil, nil
	}
	if s.Phase != show.PhaseRunning {
		return nil, nil
	}
	row := s.CurrentRow()
	if row == nil {
		return nil, nil
	}

	open := row.Phase == show.RowVoting ||
		(row.Phase == show.RowAuditioning && s.Config.Voting.AllowDuringAudition)
	if !open {
		return nil, nil
	}
	if !row.HasOption(cmd.FactionVote) || !row.HasOption(cmd.PersonalVote) {
		return nil, rejectf(ErrBadPayload, cmd.Type, "vote names options outside row %d", row.Index)
	}

	vote := show.Vote{
		UserID:       cmd.UserID,
		RowIndex:     row.Index,
		FactionVote:  cmd.FactionVote,
		PersonalVote: cmd.PersonalVote,
		Timestamp:    c.now().UnixMilli(),
		Attempt:      row.Attempts,
	}
	if i := s.FindVote(cmd.UserID, row.Index, row.Attempts); i >= 0 {
		s.Votes[i] = vote // re-submission replaces
	} else {
		s.Votes = append(s.Votes, vote)
	}

	tree, ok := s.PersonalTrees[cmd.UserID]
	if !ok {
		tree = &show.PersonalTree{Path: []show.OptionID{}}
		s.PersonalTrees[cmd.UserID] = tree
	}
	for len(tree.Path) <= row.Index {
		tree.Path = append(tree.Path, "")
	}
	tree.Path[row.Index] = cmd.PersonalVote

	return []Event{
		event(EvVoteReceived, VotePayload{UserID: cmd.UserID, RowIndex: row.Index, Attempt: row.Attempts}),
	}, nil
}

func (c *Conductor) pause(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase == show.PhasePaused {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "already paused")
	}
	prior := s.Phase
	s.PausedPhase = &prior
	s.Phase = show.PhasePaused
	return []Event{
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase, PausedPhase: s.PausedPhase}),
	}, nil
}

func (c *Conductor) resume(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhasePaused || s.PausedPhase == nil {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "not paused")
	}
	s.Phase = *s.PausedPhase
	s.PausedPhase = nil
	return []Event{
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase}),
	}, nil
}

func (c *Conductor) skipRow(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseRunning {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires running, currently %s", s.Phase)
	}
	row := s.CurrentRow()
	if row == nil {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "no current row")
	}

	forced := row.Options[0].ID
	row.Phase = show.RowCommitted
	row.CurrentAuditionIndex = nil
	commitRow(s, row, forced, forced)

	return []Event{
		event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
		event(EvPathsUpdated, PathsPayload{FactionPath: s.Paths.FactionPath, PopularPath: s.Paths.PopularPath}),
		audioCue(Cue{Kind: CueCommitLayer, Row: row.Index, Option: forced}),
	}, nil
}

// commitRow records the winning options for a row on both paths. Re-commits
// (skip after reveal) overwrite in place.
func commitRow(s *show.ShowState, row *show.Row, faction, popular show.OptionID) {
	row.CommittedOption = &faction
	for len(s.Paths.FactionPath) <= row.Index {
		s.Paths.FactionPath = append(s.Paths.FactionPath, "")
		s.Paths.PopularPath = append(s.Paths.PopularPath, "")
	}
	s.Paths.FactionPath[row.Index] = faction
	s.Paths.PopularPath[row.Index] = popular
}

// uncommitRow reverses a commit when a row restarts.
func uncommitRow(s *show.ShowState, row *show.Row) {
	row.CommittedOption = nil
	if len(s.Paths.FactionPath) > row.Index {
		s.Paths.FactionPath = s.Paths.FactionPath[:row.Index]
		s.Paths.PopularPath = s.Paths.PopularPath[:row.Index]
	}
}

func (c *Conductor) restartRow(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseRunning {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires running, currently %s", s.Phase)
	}
	row := s.CurrentRow()
	if row == nil {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "no current row")
	}

	var events []Event
	if row.CommittedOption != nil {
		uncommitRow(s, row)
		events = append(events, audioCue(Cue{Kind: CueUncommitLayer, Row: row.Index}))
	}
	row.Attempts++
	clearCoupVotesForNewRow(s)
	events = append(events, c.enterAuditioning(s, row)...)
	return events, nil
}

func (c *Conductor) setTiming(s *show.ShowState, cmd Command) ([]Event, error) {
	if cmd.Timing == nil {
		return nil, rejectf(ErrBadPayload, cmd.Type, "timing payload required")
	}
	cmd.Timing.Apply(&s.Config.Timing)
	return accepted, nil
}

func (c *Conductor) forceFinale(s *show.ShowState, cmd Command) ([]Event, error) {
	return c.enterFinale(s), nil
}

func (c *Conductor) resetToLobby(s *show.ShowState, cmd Command) ([]Event, error) {
	s.Phase = show.PhaseLobby
	s.PausedPhase = nil
	s.CurrentRowIndex = 0
	s.Votes = nil
	s.Paths = show.DualPaths{FactionPath: []show.OptionID{}, PopularPath: []show.OptionID{}}

	for _, row := range s.Rows {
		row.Phase = show.RowPending
		row.CommittedOption = nil
		row.Attempts = 0
		row.CurrentAuditionIndex = nil
	}
	for _, f := range s.Factions {
		f.CoupUsed = false
		f.CoupMultiplier = 1.0
		f.CurrentRowCoupVotes = show.UserSet{}
	}

	if cmd.PreserveUsers {
		for _, tree := range s.PersonalTrees {
			tree.Path = []show.OptionID{}
		}
		for _, u := range s.Users {
			u.Faction = nil
		}
	} else {
		s.Users = show.UserMap{}
		s.PersonalTrees = show.TreeMap{}
	}

	return []Event{
		event(EvShowReset, nil),
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase}),
	}, nil
}

func (c *Conductor) importState(s *show.ShowState, cmd Command) ([]Event, error) {
	if len(cmd.State) == 0 {
		return nil, rejectf(ErrBadPayload, cmd.Type, "state payload required")
	}
	imported, err := show.Decode(cmd.State)
	if err != nil {
		return nil, rejectf(ErrBadPayload, cmd.Type, "decode state: %v", err)
	}
	// Same gate as the snapshot and backup load paths: a structurally broken
	// state must never become authoritative.
	if err := imported.Check(); err != nil {
		return nil, rejectf(ErrBadPayload, cmd.Type, "state failed integrity check: %v", err)
	}
	*s = *imported
	return []Event{
		event(EvShowPhaseChanged, PhasePayload{Phase: s.Phase, PausedPhase: s.PausedPhase}),
	}, nil
}

func (c *Conductor) playTimeline(s *show.ShowState, cmd Command) ([]Event, error) {
	if s.Phase != show.PhaseFinale {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "requires finale, currently %s", s.Phase)
	}

	if cmd.TimelineUser == nil {
		popular := append([]show.OptionID(nil), s.Paths.PopularPath...)
		return []Event{audioCue(Cue{Kind: CuePlayTimeline, Path: popular})}, nil
	}

	tree, ok := s.PersonalTrees[*cmd.TimelineUser]
	if !ok {
		return nil, rejectf(ErrMissingUser, cmd.Type, "no personal tree for %s", *cmd.TimelineUser)
	}
	path := append([]show.OptionID(nil), tree.Path...)
	return []Event{audioCue(Cue{Kind: CuePlayTimeline, Path: path, UserID: cmd.TimelineUser})}, nil
}
