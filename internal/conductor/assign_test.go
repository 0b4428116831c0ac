// SPDX-License-Identifier: MIT

package conductor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

func seatedState(t *testing.T, n int, adjacency map[string][]string) *show.ShowState {
	t.Helper()
	cfg := testConfig()
	cfg.Seats.Adjacency = adjacency
	s := show.New(cfg, time.Now())
	for i := 0; i < n; i++ {
		id := show.UserID(fmt.Sprintf("u%02d", i))
		seat := show.SeatID(fmt.Sprintf("s%02d", i))
		s.Users[id] = &show.User{ID: id, Seat: &seat, Connected: true}
	}
	return s
}

func factionSizes(s *show.ShowState) [config.FactionCount]int {
	var sizes [config.FactionCount]int
	for _, u := range s.Users {
		if u.Faction != nil {
			sizes[*u.Faction]++
		}
	}
	return sizes
}

// Hard balance holds for any audience size, adjacency or not.
func TestAssignHardBalance(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13, 30, 31} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := seatedState(t, n, nil)
			assignAll(s)

			sizes := factionSizes(s)
			minSize, maxSize := sizes[0], sizes[0]
			for _, size := range sizes[1:] {
				if size < minSize {
					minSize = size
				}
				if size > maxSize {
					maxSize = size
				}
			}
			require.LessOrEqual(t, maxSize-minSize, 1, "sizes %v", sizes)

			for id, u := range s.Users {
				require.NotNil(t, u.Faction, "user %s unassigned", id)
			}
		})
	}
}

// A row of four adjacent seats can be fully separated, and the soft
// adjacency goal achieves it.
func TestAssignAvoidsAdjacentSameFaction(t *testing.T) {
	adjacency := map[string][]string{
		"s00": {"s01"},
		"s01": {"s00", "s02"},
		"s02": {"s01", "s03"},
		"s03": {"s02"},
	}
	s := seatedState(t, 4, adjacency)
	assignAll(s)

	for seat, neighbours := range adjacency {
		var holder *show.User
		for _, u := range s.Users {
			if u.Seat != nil && string(*u.Seat) == seat {
				holder = u
			}
		}
		require.NotNil(t, holder)
		for _, nb := range neighbours {
			for _, u := range s.Users {
				if u.Seat != nil && string(*u.Seat) == nb {
					require.NotEqual(t, *holder.Faction, *u.Faction,
						"adjacent seats %s and %s share faction", seat, nb)
				}
			}
		}
	}
}

func TestAssignDeterministicWithoutAdjacency(t *testing.T) {
	a := seatedState(t, 12, nil)
	b := seatedState(t, 12, nil)
	assignAll(a)
	assignAll(b)

	for id := range a.Users {
		require.Equal(t, *a.Users[id].Faction, *b.Users[id].Faction, "user %s", id)
	}
}

func TestLatecomerPrefersSmallestFaction(t *testing.T) {
	c := newTestConductor()
	s := seatedState(t, 8, nil)
	assignAll(s)

	// Empty faction 2 by hand so the latecomer has an obvious home.
	for _, u := range s.Users {
		if *u.Faction == 2 {
			f := show.FactionID(0)
			u.Faction = &f
		}
	}
	late := &show.User{ID: "late"}
	s.Users["late"] = late
	require.Equal(t, show.FactionID(2), c.assignLatecomer(s, late))
}

func TestLatecomerTieBreaksByAdjacency(t *testing.T) {
	adjacency := map[string][]string{"sL": {"s00"}}
	cfg := testConfig()
	cfg.Seats.Adjacency = adjacency
	s := show.New(cfg, time.Now())

	// One member per faction; the latecomer's only neighbour sits in
	// faction 0, so the tie resolves away from it.
	for i := 0; i < config.FactionCount; i++ {
		id := show.UserID(fmt.Sprintf("u%d", i))
		seat := show.SeatID(fmt.Sprintf("s%02d", i))
		f := show.FactionID(i)
		s.Users[id] = &show.User{ID: id, Seat: &seat, Faction: &f, Connected: true}
	}

	c := newTestConductor()
	seat := show.SeatID("sL")
	late := &show.User{ID: "late", Seat: &seat}
	s.Users["late"] = late
	require.Equal(t, show.FactionID(1), c.assignLatecomer(s, late))
}
