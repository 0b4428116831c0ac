// SPDX-License-Identifier: MIT

package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "show.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleState(t *testing.T) *show.ShowState {
	t.Helper()
	cfg := config.Default()
	cfg.ShowID = "persist-test"
	cfg.Rows = []config.RowConfig{
		{Label: "Row 1", Options: [config.OptionsPerRow]config.OptionConfig{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
		}},
	}
	s := show.New(cfg, time.Unix(1700000000, 0))

	seat := show.SeatID("s01")
	f := show.FactionID(1)
	s.Users["u1"] = &show.User{ID: "u1", Seat: &seat, Faction: &f, Connected: true, JoinedAt: 1700000001000}
	s.Users["u2"] = &show.User{ID: "u2", Connected: false, JoinedAt: 1700000002000}
	s.Votes = append(s.Votes, show.Vote{
		UserID: "u1", RowIndex: 0, FactionVote: "a", PersonalVote: "b", Timestamp: 1700000003000,
	})
	s.PersonalTrees["u1"] = &show.PersonalTree{Path: []show.OptionID{}, FigTreeResponse: "a road not taken"}
	s.Version = 3
	return s
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	state := sampleState(t)

	require.NoError(t, store.SaveSnapshot(ctx, state))

	loaded, err := store.LoadSnapshot(ctx, state.ID)
	require.NoError(t, err)
	require.Equal(t, state.Version, loaded.Version)
	require.Equal(t, state.ID, loaded.ID)
	require.Len(t, loaded.Users, 2)
	require.Len(t, loaded.Votes, 1)
	require.NoError(t, loaded.Check())

	// Wire forms must agree exactly.
	want, err := show.Encode(state)
	require.NoError(t, err)
	got, err := show.Encode(loaded)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))
}

func TestLoadSnapshotMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadSnapshot(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStaleSnapshotIgnored(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := sampleState(t)
	state.Version = 10
	require.NoError(t, store.SaveSnapshot(ctx, state))

	stale := sampleState(t)
	stale.Version = 4
	require.NoError(t, store.SaveSnapshot(ctx, stale))

	version, err := store.SnapshotVersion(ctx, state.ID)
	require.NoError(t, err)
	require.Equal(t, 10, version)
}

func TestSnapshotUpsertsInPlace(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state := sampleState(t)
	require.NoError(t, store.SaveSnapshot(ctx, state))

	state.Version = 4
	state.Votes[0].FactionVote = "c"
	require.NoError(t, store.SaveSnapshot(ctx, state))

	loaded, err := store.LoadSnapshot(ctx, state.ID)
	require.NoError(t, err)
	require.Equal(t, 4, loaded.Version)
	require.Equal(t, show.OptionID("c"), loaded.Votes[0].FactionVote)
}

func TestVerifyIntegrityHealthy(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSnapshot(ctx, sampleState(t)))

	for _, mode := range []string{"quick", "full"} {
		problems, err := store.VerifyIntegrity(ctx, mode)
		require.NoError(t, err)
		require.Nil(t, problems, "mode %s", mode)
	}
}

func TestFigTreeResponsesArchive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	state := sampleState(t)

	require.NoError(t, store.SaveSnapshot(ctx, state))

	responses, err := store.FigTreeResponses(ctx, state.ID)
	require.NoError(t, err)
	require.Equal(t, map[show.UserID]string{"u1": "a road not taken"}, responses)
}
