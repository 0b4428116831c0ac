// SPDX-License-Identifier: MIT

package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

func sampleState(t *testing.T) *show.ShowState {
	t.Helper()
	cfg := config.Default()
	cfg.ShowID = "backup-test"
	cfg.Rows = []config.RowConfig{
		{Label: "Row 1", Options: [config.OptionsPerRow]config.OptionConfig{
			{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
		}},
	}
	s := show.New(cfg, time.Unix(1700000000, 0))
	s.Version = 12
	return s
}

func newTestWriter(t *testing.T, maxFiles int) *Writer {
	t.Helper()
	w := NewWriter(t.TempDir(), "ygg", maxFiles, zerolog.Nop())
	return w
}

func TestFilenameShape(t *testing.T) {
	w := newTestWriter(t, 10)
	at := time.Date(2026, 3, 14, 21, 5, 9, 123e6, time.UTC)
	name := w.Filename(sampleState(t), at)
	require.Equal(t, "ygg-backup-test-2026-03-14T21-05-09-123Z-v12.json", name)
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	w := newTestWriter(t, 10)
	state := sampleState(t)

	path, err := w.Write(state)
	require.NoError(t, err)
	require.FileExists(t, path)

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, state.Version, loaded.Version)
	require.Equal(t, state.ID, loaded.ID)
	require.NoError(t, loaded.Check())
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backups")
	w := NewWriter(dir, "ygg", 10, zerolog.Nop())

	_, err := w.Write(sampleState(t))
	require.NoError(t, err)
	require.DirExists(t, dir)
}

func TestPruneKeepsNewest(t *testing.T) {
	w := newTestWriter(t, 3)
	state := sampleState(t)

	w.MaxFiles = 100 // write all five first, prune in one pass below

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		state.Version = i
		tick := base.Add(time.Duration(i) * time.Second)
		w.now = func() time.Time { return tick }
		path, err := w.Write(state)
		require.NoError(t, err)
		// Spread mod times so prune ordering is deterministic.
		require.NoError(t, os.Chtimes(path, tick, tick))
	}

	w.MaxFiles = 3
	require.NoError(t, w.prune())

	entries, err := os.ReadDir(w.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "-v0.json")
		require.NotContains(t, e.Name(), "-v1.json")
	}
}

func TestPruneIgnoresForeignFiles(t *testing.T) {
	w := newTestWriter(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir, "notes.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir, "other-prefix.json"), []byte("{}"), 0o644))

	_, err := w.Write(sampleState(t))
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(w.Dir, "notes.txt"))
	require.FileExists(t, filepath.Join(w.Dir, "other-prefix.json"))
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
