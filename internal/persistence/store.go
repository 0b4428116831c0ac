// SPDX-License-Identifier: MIT

// Package persistence stores show snapshots in SQLite so a crashed process
// can resume mid-show. The snapshot table holds the full encoded state; the
// side tables keep queryable copies of users, votes and fig tree responses
// for the post-show archive.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/jwhector/yggdrasil/internal/show"
)

// ErrNoSnapshot reports that no snapshot exists for the requested show.
var ErrNoSnapshot = errors.New("persistence: no snapshot")

// Store provides SQLite persistence for show state.
type Store struct {
	db *sql.DB
}

// Open initializes the store and runs migrations. WAL mode and busy_timeout
// are set in the DSN so they apply to every pooled connection.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; WAL readers don't need more for this workload.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS show_snapshots (
		show_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		phase TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		state BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS show_users (
		show_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		seat TEXT,
		faction INTEGER,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (show_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS show_votes (
		show_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		faction_vote TEXT NOT NULL,
		personal_vote TEXT NOT NULL,
		cast_at TEXT NOT NULL,
		PRIMARY KEY (show_id, user_id, row_index, attempt)
	);

	CREATE TABLE IF NOT EXISTS fig_tree_responses (
		show_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		response TEXT NOT NULL,
		PRIMARY KEY (show_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_show_votes_row ON show_votes(show_id, row_index);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot writes the full state and refreshes the archive tables in one
// transaction. Stale writes (version at or below the stored one for the same
// show) are skipped so concurrent instances cannot roll a show backwards.
func (s *Store) SaveSnapshot(ctx context.Context, state *show.ShowState) error {
	blob, err := show.Encode(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updatedAt := time.UnixMilli(state.LastUpdated).UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
	INSERT INTO show_snapshots (show_id, version, phase, updated_at, state)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(show_id) DO UPDATE SET
		version = excluded.version,
		phase = excluded.phase,
		updated_at = excluded.updated_at,
		state = excluded.state
	WHERE excluded.version > show_snapshots.version
	`, string(state.ID), state.Version, string(state.Phase), updatedAt, blob)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	for _, id := range sortedUserIDs(state) {
		u := state.Users[id]
		var seat, joined any
		if u.Seat != nil {
			seat = string(*u.Seat)
		}
		joined = time.UnixMilli(u.JoinedAt).UTC().Format(time.RFC3339)
		var faction any
		if u.Faction != nil {
			faction = int(*u.Faction)
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO show_users (show_id, user_id, seat, faction, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(show_id, user_id) DO UPDATE SET
			seat = excluded.seat,
			faction = excluded.faction
		`, string(state.ID), string(u.ID), seat, faction, joined)
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
	}

	for _, v := range state.Votes {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO show_votes (show_id, user_id, row_index, attempt, faction_vote, personal_vote, cast_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(show_id, user_id, row_index, attempt) DO UPDATE SET
			faction_vote = excluded.faction_vote,
			personal_vote = excluded.personal_vote,
			cast_at = excluded.cast_at
		`, string(state.ID), string(v.UserID), v.RowIndex, v.Attempt,
			string(v.FactionVote), string(v.PersonalVote),
			time.UnixMilli(v.Timestamp).UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("upsert vote: %w", err)
		}
	}

	for _, id := range sortedUserIDs(state) {
		tree, ok := state.PersonalTrees[id]
		if !ok || tree.FigTreeResponse == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO fig_tree_responses (show_id, user_id, response)
		VALUES (?, ?, ?)
		ON CONFLICT(show_id, user_id) DO UPDATE SET response = excluded.response
		`, string(state.ID), string(id), tree.FigTreeResponse)
		if err != nil {
			return fmt.Errorf("upsert fig tree response: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the latest stored state for the show, or ErrNoSnapshot.
func (s *Store) LoadSnapshot(ctx context.Context, showID show.ShowID) (*show.ShowState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM show_snapshots WHERE show_id = ?`, string(showID),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	state, err := show.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := state.Check(); err != nil {
		return nil, fmt.Errorf("snapshot failed integrity check: %w", err)
	}
	return state, nil
}

// SnapshotVersion returns the stored version for the show, or ErrNoSnapshot.
func (s *Store) SnapshotVersion(ctx context.Context, showID show.ShowID) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM show_snapshots WHERE show_id = ?`, string(showID),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoSnapshot
	}
	if err != nil {
		return 0, fmt.Errorf("query snapshot version: %w", err)
	}
	return version, nil
}

// FigTreeResponses returns the archived responses for the show, keyed by user.
func (s *Store) FigTreeResponses(ctx context.Context, showID show.ShowID) (map[show.UserID]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, response FROM fig_tree_responses WHERE show_id = ? ORDER BY user_id`,
		string(showID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := map[show.UserID]string{}
	for rows.Next() {
		var user, resp string
		if err := rows.Scan(&user, &resp); err != nil {
			return nil, err
		}
		out[show.UserID(user)] = resp
	}
	return out, rows.Err()
}

// VerifyIntegrity runs a structural corruption check over the database.
// Mode "full" runs the exhaustive integrity_check; anything else runs the
// cheaper quick_check. It returns SQLite's complaints, nil when healthy.
func (s *Store) VerifyIntegrity(ctx context.Context, mode string) ([]string, error) {
	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}

	rows, err := s.db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("integrity pragma failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("scan integrity result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Success is exactly one row saying "ok".
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"integrity check returned no rows"}, nil
	}
	return results, nil
}

func sortedUserIDs(state *show.ShowState) []show.UserID {
	ids := make([]show.UserID, 0, len(state.Users))
	for id := range state.Users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
