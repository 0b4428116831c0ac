// SPDX-License-Identifier: MIT

package conductor

import (
	"sort"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// reveal executes the voting → revealing transition: coherence competition,
// popular vote, tie resolution, and the commit of both paths.
func (c *Conductor) reveal(s *show.ShowState, row *show.Row) ([]Event, error) {
	attempt := row.Attempts

	var results [config.FactionCount]FactionResult
	for f := 0; f < config.FactionCount; f++ {
		results[f] = factionResult(s, row, show.FactionID(f), attempt)
	}

	// Winner faction = argmax weighted coherence; ties resolve uniformly at
	// random (explicitly the only non-deterministic step).
	maxWeighted := -1.0
	for _, r := range results {
		if r.WeightedCoherence > maxWeighted {
			maxWeighted = r.WeightedCoherence
		}
	}
	var tied []show.FactionID
	for _, r := range results {
		if r.WeightedCoherence == maxWeighted {
			tied = append(tied, r.FactionID)
		}
	}

	var events []Event
	row.Phase = show.RowRevealing
	row.CurrentAuditionIndex = nil
	events = append(events, event(EvRowPhaseChanged, RowPhasePayload{
		RowIndex: row.Index, Phase: row.Phase, Attempts: attempt,
	}))

	winner := tied[0]
	isTie := len(tied) > 1
	if isTie {
		events = append(events, event(EvTieDetected, TiePayload{RowIndex: row.Index, TiedFactions: tied}))
		winner = tied[c.rand.Intn(len(tied))]
		w := winner
		events = append(events, event(EvTieResolved, TiePayload{RowIndex: row.Index, TiedFactions: tied, Winner: &w}))
	}

	winning := results[winner].BlocOption
	if winning == "" {
		// No votes anywhere: the row's first option wins.
		winning = row.Options[0].ID
	}

	popular := popularResult(s, row, attempt, winning)

	commitRow(s, row, winning, popular.OptionID)

	events = append(events,
		event(EvReveal, RevealPayload{
			RowIndex:         row.Index,
			Attempt:          attempt,
			FactionResults:   results,
			Tie:              isTie,
			TiedFactions:     tiedIfAny(tied),
			WinningFactionID: winner,
			WinningOptionID:  winning,
			PopularVote:      popular,
		}),
		event(EvPathsUpdated, PathsPayload{
			FactionPath: s.Paths.FactionPath,
			PopularPath: s.Paths.PopularPath,
		}),
		audioCue(Cue{Kind: CueCommitLayer, Row: row.Index, Option: winning}),
	)
	return events, nil
}

func tiedIfAny(tied []show.FactionID) []show.FactionID {
	if len(tied) > 1 {
		return tied
	}
	return nil
}

// factionResult computes one faction's coherence standing for (row, attempt).
func factionResult(s *show.ShowState, row *show.Row, f show.FactionID, attempt int) FactionResult {
	res := FactionResult{FactionID: f}

	counts := map[show.OptionID]int{}
	total := 0
	for i := range s.Votes {
		v := &s.Votes[i]
		if v.RowIndex != row.Index || v.Attempt != attempt {
			continue
		}
		u, ok := s.Users[v.UserID]
		if !ok || u.Faction == nil || *u.Faction != f {
			continue
		}
		counts[v.FactionVote]++
		total++
	}
	res.VoteCount = total
	if total == 0 {
		return res
	}

	res.BlocOption, res.RawCoherence = largestBloc(counts, total)
	res.WeightedCoherence = res.RawCoherence * s.Factions[f].CoupMultiplier
	return res
}

// largestBloc returns the option with the biggest count (lexicographic
// tie-break) and its share of the total.
func largestBloc(counts map[show.OptionID]int, total int) (show.OptionID, float64) {
	options := make([]show.OptionID, 0, len(counts))
	for opt := range counts {
		options = append(options, opt)
	}
	sort.Slice(options, func(i, j int) bool { return options[i] < options[j] })

	var best show.OptionID
	bestCount := 0
	for _, opt := range options {
		if counts[opt] > bestCount {
			best, bestCount = opt, counts[opt]
		}
	}
	return best, float64(bestCount) / float64(total)
}

// popularResult tallies personal votes across all factions for (row, attempt).
func popularResult(s *show.ShowState, row *show.Row, attempt int, factionWinner show.OptionID) PopularResult {
	counts := map[show.OptionID]int{}
	total := 0
	for i := range s.Votes {
		v := &s.Votes[i]
		if v.RowIndex != row.Index || v.Attempt != attempt {
			continue
		}
		if _, ok := s.Users[v.UserID]; !ok {
			continue
		}
		counts[v.PersonalVote]++
		total++
	}

	if total == 0 {
		// Mirror the faction fallback so both paths stay aligned.
		return PopularResult{OptionID: factionWinner, Count: 0, DivergedFromFaction: false}
	}

	winner, _ := largestBloc(counts, total)
	return PopularResult{
		OptionID:            winner,
		Count:               counts[winner],
		DivergedFromFaction: winner != factionWinner,
	}
}
