// SPDX-License-Identifier: MIT

package conductor

import "github.com/jwhector/yggdrasil/internal/show"

// submitCoupVote records one member's coup vote and fires the coup when the
// faction crosses the configured threshold of its connected members.
func (c *Conductor) submitCoupVote(s *show.ShowState, cmd Command) ([]Event, error) {
	u, ok := s.Users[cmd.UserID]
	if !ok {
		return nil, rejectf(ErrMissingUser, cmd.Type, "unknown user %s", cmd.UserID)
	}
	if u.Faction == nil {
		return nil, rejectf(ErrUserNoFaction, cmd.Type, "user %s has no faction", cmd.UserID)
	}
	faction := s.Factions[*u.Faction]

	// Stale submissions (coup already spent, or the window has closed) are
	// dropped quietly so slow clients are not punished.
	if faction.CoupUsed {
		return nil, nil
	}
	row := s.CurrentRow()
	if s.Phase != show.PhaseRunning || row == nil || row.Phase != show.RowCoupWindow {
		return nil, nil
	}
	if faction.CurrentRowCoupVotes.Has(cmd.UserID) {
		return nil, nil // idempotent
	}

	faction.CurrentRowCoupVotes.Add(cmd.UserID)

	members := s.ConnectedFactionMembers(faction.ID)
	progress := 0.0
	if members > 0 {
		progress = float64(len(faction.CurrentRowCoupVotes)) / float64(members)
	}

	if progress >= s.Config.Coup.Threshold {
		return c.fireCoup(s, row, faction), nil
	}

	return []Event{event(EvCoupMeterUpdate, CoupMeterPayload{
		FactionID: faction.ID,
		Progress:  progress,
		Votes:     len(faction.CurrentRowCoupVotes),
		Members:   members,
	})}, nil
}

// triggerCoup is the controller override: it bypasses the vote threshold and
// the coup_window phase check.
func (c *Conductor) triggerCoup(s *show.ShowState, cmd Command) ([]Event, error) {
	if cmd.FactionID == nil || !cmd.FactionID.IsValid() {
		return nil, rejectf(ErrBadPayload, cmd.Type, "valid factionId required")
	}
	faction := s.Factions[*cmd.FactionID]
	if faction.CoupUsed {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "faction %d already used its coup", faction.ID)
	}
	row := s.CurrentRow()
	if row == nil {
		return nil, rejectf(ErrInvalidPhase, cmd.Type, "no current row")
	}
	return c.fireCoup(s, row, faction), nil
}

// fireCoup applies the coup effects: one-shot flag, row-scoped multiplier
// boost, and a fresh audition attempt on the current row.
func (c *Conductor) fireCoup(s *show.ShowState, row *show.Row, faction *show.Faction) []Event {
	faction.CoupUsed = true
	faction.CoupMultiplier = 1 + s.Config.Coup.MultiplierBonus

	if row.CommittedOption != nil {
		uncommitRow(s, row)
	}
	row.Attempts++
	clearCoupVotesForNewRow(s)

	idx := 0
	row.Phase = show.RowAuditioning
	row.CurrentAuditionIndex = &idx
	first := row.Options[0]

	return []Event{
		event(EvCoupTriggered, CoupPayload{
			FactionID:  faction.ID,
			RowIndex:   row.Index,
			Attempts:   row.Attempts,
			Multiplier: faction.CoupMultiplier,
		}),
		event(EvRowPhaseChanged, RowPhasePayload{RowIndex: row.Index, Phase: row.Phase, Attempts: row.Attempts}),
		audioCue(Cue{Kind: CueUncommitLayer, Row: row.Index}),
		event(EvAuditionOptionChange, AuditionPayload{
			RowIndex: row.Index, AuditionIndex: idx, OptionIndex: 0, OptionID: first.ID,
		}),
		audioCue(Cue{Kind: CuePlayOption, Row: row.Index, Option: first.ID}),
	}
}
