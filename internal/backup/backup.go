// SPDX-License-Identifier: MIT

// Package backup writes timestamped JSON snapshots of the show state to
// disk. Backups are the operator-facing recovery path: any file can be fed
// back through IMPORT_STATE to restore a show.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/show"
)

// Writer emits backup files into a directory and prunes old ones.
type Writer struct {
	Dir      string
	Prefix   string
	MaxFiles int

	log zerolog.Logger
	now func() time.Time
}

// NewWriter builds a Writer; the directory is created on first write.
func NewWriter(dir, prefix string, maxFiles int, log zerolog.Logger) *Writer {
	return &Writer{
		Dir:      dir,
		Prefix:   prefix,
		MaxFiles: maxFiles,
		log:      log,
		now:      time.Now,
	}
}

// Filename builds the backup name for a state at the given instant. Colons
// and dots in the timestamp are flattened so the name is portable.
func (w *Writer) Filename(state *show.ShowState, at time.Time) string {
	stamp := at.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s-%s-%s-v%d.json", w.Prefix, state.ID, stamp, state.Version)
}

// Write atomically writes one backup file and prunes the directory down to
// MaxFiles. It returns the path of the file written.
func (w *Writer) Write(state *show.ShowState) (string, error) {
	blob, err := show.Encode(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := filepath.Join(w.Dir, w.Filename(state, w.now()))

	// renameio handles: temp file creation, fsync, atomic rename, cleanup on error
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending backup: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			w.log.Debug().Err(err).Msg("cleanup pending backup")
		}
	}()

	if _, err := pending.Write(blob); err != nil {
		return "", fmt.Errorf("write backup data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("finalize backup: %w", err)
	}

	w.log.Info().
		Str("event", "backup.written").
		Str("path", path).
		Int("version", state.Version).
		Msg("backup written")

	if err := w.prune(); err != nil {
		w.log.Warn().Str("event", "backup.prune_failed").Err(err).Msg("backup prune failed")
	}
	return path, nil
}

// prune deletes the oldest matching backups beyond MaxFiles. Failure to
// delete is logged, never fatal: a full disk of backups beats a dead show.
func (w *Writer) prune() error {
	if w.MaxFiles <= 0 {
		return nil
	}
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}

	type candidate struct {
		name string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), w.Prefix+"-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: e.Name(), mod: info.ModTime()})
	}
	if len(files) <= w.MaxFiles {
		return nil
	}

	// Oldest first; name is the tiebreaker for same-instant writes.
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name < files[j].name
		}
		return files[i].mod.Before(files[j].mod)
	})

	for _, f := range files[:len(files)-w.MaxFiles] {
		if err := os.Remove(filepath.Join(w.Dir, f.name)); err != nil {
			w.log.Warn().Str("event", "backup.remove_failed").Str("file", f.name).Err(err).Msg("remove old backup")
			continue
		}
		w.log.Debug().Str("event", "backup.pruned").Str("file", f.name).Msg("old backup removed")
	}
	return nil
}

// Load reads a backup file back into a state, verifying its invariants.
func Load(path string) (*show.ShowState, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	state, err := show.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	if err := state.Check(); err != nil {
		return nil, fmt.Errorf("backup failed integrity check: %w", err)
	}
	return state, nil
}
