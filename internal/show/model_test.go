// SPDX-License-Identifier: MIT

package show

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	s := testState(t)

	if s.Phase != PhaseLobby {
		t.Errorf("phase = %s, want lobby", s.Phase)
	}
	if len(s.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(s.Rows))
	}
	for i, row := range s.Rows {
		if row.Phase != RowPending {
			t.Errorf("row %d phase = %s, want pending", i, row.Phase)
		}
		for j, opt := range row.Options {
			if opt.Index != j {
				t.Errorf("row %d option %d index = %d", i, j, opt.Index)
			}
		}
	}
	for i, f := range s.Factions {
		if f.CoupMultiplier != 1.0 {
			t.Errorf("faction %d multiplier = %v, want 1.0", i, f.CoupMultiplier)
		}
		if f.CoupUsed {
			t.Errorf("faction %d starts with coupUsed", i)
		}
	}
	if err := s.Check(); err != nil {
		t.Errorf("fresh state fails invariants: %v", err)
	}
}

func TestTouch(t *testing.T) {
	s := testState(t)
	v := s.Version
	ts := s.LastUpdated

	s.Touch(time.UnixMilli(ts + 500))
	if s.Version != v+1 {
		t.Errorf("version = %d, want %d", s.Version, v+1)
	}
	if s.LastUpdated != ts+500 {
		t.Errorf("lastUpdated = %d, want %d", s.LastUpdated, ts+500)
	}

	// A clock step backwards must not move lastUpdated backwards.
	s.Touch(time.UnixMilli(ts - 1000))
	if s.LastUpdated != ts+500 {
		t.Errorf("lastUpdated went backwards: %d", s.LastUpdated)
	}
	if s.Version != v+2 {
		t.Errorf("version = %d, want %d", s.Version, v+2)
	}
}

func TestConnectedFactionMembers(t *testing.T) {
	s := testState(t)
	f0, f1 := FactionID(0), FactionID(1)
	s.Users["a"] = &User{ID: "a", Faction: &f0, Connected: true}
	s.Users["b"] = &User{ID: "b", Faction: &f0, Connected: false}
	s.Users["c"] = &User{ID: "c", Faction: &f1, Connected: true}
	s.Users["d"] = &User{ID: "d", Connected: true}

	if got := s.ConnectedFactionMembers(0); got != 1 {
		t.Errorf("faction 0 connected = %d, want 1", got)
	}
	if got := s.ConnectedFactionMembers(1); got != 1 {
		t.Errorf("faction 1 connected = %d, want 1", got)
	}
}

func TestCheckViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ShowState)
	}{
		{"paused without snapshot", func(s *ShowState) { s.Phase = PhasePaused }},
		{"stray pausedPhase", func(s *ShowState) { p := PhaseRunning; s.PausedPhase = &p }},
		{"vote from unknown user", func(s *ShowState) {
			s.Votes = append(s.Votes, Vote{UserID: "ghost", RowIndex: 0})
		}},
		{"coup vote from unknown user", func(s *ShowState) {
			s.Factions[0].CurrentRowCoupVotes.Add("ghost")
		}},
		{"committed row missing from path", func(s *ShowState) {
			opt := OptionID("r0")
			s.Rows[0].CommittedOption = &opt
		}},
		{"audition index outside auditioning", func(s *ShowState) {
			idx := 0
			s.Rows[0].CurrentAuditionIndex = &idx
		}},
		{"path length mismatch", func(s *ShowState) {
			s.Paths.PopularPath = []OptionID{"r0"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testState(t)
			tt.mutate(s)
			if err := s.Check(); err == nil {
				t.Error("Check() = nil, want violation")
			}
		})
	}
}
