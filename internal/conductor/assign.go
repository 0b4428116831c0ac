// SPDX-License-Identifier: MIT

package conductor

import (
	"sort"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// balanceWeight makes any faction-size increase dominate any adjacency
// improvement, so hard balance (|max-min| <= 1) holds by construction.
const balanceWeight = 100

// AssignmentsPayload maps each user to their assigned faction; payload of
// FACTIONS_ASSIGNED.
type AssignmentsPayload map[show.UserID]show.FactionID

// adjacentSeats resolves the configured adjacency relation. A missing
// relation yields empty sets.
func adjacentSeats(s *show.ShowState, seat *show.SeatID) []show.SeatID {
	if seat == nil || s.Config.Seats.Adjacency == nil {
		return nil
	}
	raw := s.Config.Seats.Adjacency[string(*seat)]
	out := make([]show.SeatID, 0, len(raw))
	for _, a := range raw {
		out = append(out, show.SeatID(a))
	}
	return out
}

// assignAll runs the greedy most-constrained-first assignment over every
// user. Users whose neighbours are already placed are handled first, so the
// densest constraints are resolved while the most freedom remains.
func assignAll(s *show.ShowState) AssignmentsPayload {
	// Seat occupancy for adjacency lookups.
	seatUser := map[show.SeatID]show.UserID{}
	for id, u := range s.Users {
		if u.Seat != nil {
			seatUser[*u.Seat] = id
		}
	}

	sizes := [config.FactionCount]int{}
	placed := map[show.UserID]show.FactionID{}

	pending := make([]show.UserID, 0, len(s.Users))
	for id := range s.Users {
		pending = append(pending, id)
	}
	// Deterministic base order; the constrained-first sort below is re-run
	// each step on top of this.
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	assignedNeighbours := func(id show.UserID) int {
		n := 0
		for _, seat := range adjacentSeats(s, s.Users[id].Seat) {
			if neighbour, occupied := seatUser[seat]; occupied {
				if _, done := placed[neighbour]; done {
					n++
				}
			}
		}
		return n
	}

	sameFactionAdjacent := func(id show.UserID, f show.FactionID) int {
		n := 0
		for _, seat := range adjacentSeats(s, s.Users[id].Seat) {
			if neighbour, occupied := seatUser[seat]; occupied {
				if nf, done := placed[neighbour]; done && nf == f {
					n++
				}
			}
		}
		return n
	}

	for len(pending) > 0 {
		// Most-constrained-first, recomputed every step.
		best := 0
		bestScore := -1
		for i, id := range pending {
			if n := assignedNeighbours(id); n > bestScore {
				best, bestScore = i, n
			}
		}
		id := pending[best]
		pending = append(pending[:best], pending[best+1:]...)

		choice := show.FactionID(0)
		choiceScore := -1
		for f := 0; f < config.FactionCount; f++ {
			score := sizes[f]*balanceWeight + sameFactionAdjacent(id, show.FactionID(f))
			if choiceScore < 0 || score < choiceScore {
				choice, choiceScore = show.FactionID(f), score
			}
		}

		placed[id] = choice
		sizes[choice]++
		fid := choice
		s.Users[id].Faction = &fid
	}

	return AssignmentsPayload(placed)
}

// assignLatecomer places a single user joining after assignment: smallest
// faction first, then fewest already-adjacent members, then faction id.
func (c *Conductor) assignLatecomer(s *show.ShowState, u *show.User) show.FactionID {
	sizes := [config.FactionCount]int{}
	for _, other := range s.Users {
		if other.ID != u.ID && other.Faction != nil {
			sizes[*other.Faction]++
		}
	}

	seatUser := map[show.SeatID]show.UserID{}
	for id, other := range s.Users {
		if other.Seat != nil {
			seatUser[*other.Seat] = id
		}
	}
	adjacentIn := func(f show.FactionID) int {
		n := 0
		for _, seat := range adjacentSeats(s, u.Seat) {
			if neighbour, occupied := seatUser[seat]; occupied && neighbour != u.ID {
				if nf := s.Users[neighbour].Faction; nf != nil && *nf == f {
					n++
				}
			}
		}
		return n
	}

	choice := show.FactionID(0)
	for f := 1; f < config.FactionCount; f++ {
		fid := show.FactionID(f)
		switch {
		case sizes[fid] < sizes[choice]:
			choice = fid
		case sizes[fid] == sizes[choice] && adjacentIn(fid) < adjacentIn(choice):
			choice = fid
		}
	}
	return choice
}
