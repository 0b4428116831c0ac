// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/show"
)

// edgeRecorder implements every engine edge and logs the call order.
type edgeRecorder struct {
	mu        sync.Mutex
	calls     []string
	failSnaps bool
}

func (r *edgeRecorder) note(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *edgeRecorder) Broadcast(state *show.ShowState) { r.note("broadcast") }
func (r *edgeRecorder) ForceReconnectAll()              { r.note("force_reconnect") }
func (r *edgeRecorder) Observe(state *show.ShowState)   { r.note("observe") }
func (r *edgeRecorder) Cancel()                         { r.note("cancel") }

func (r *edgeRecorder) Apply(state *show.ShowState, events []conductor.Event) {
	r.note("audio")
}

func (r *edgeRecorder) SaveSnapshot(ctx context.Context, state *show.ShowState) error {
	if r.failSnaps {
		return fmt.Errorf("disk on fire")
	}
	r.note("snapshot")
	return nil
}

func (r *edgeRecorder) Write(state *show.ShowState) (string, error) {
	r.note("backup")
	return "backup.json", nil
}

func (r *edgeRecorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func testConfig() config.ShowConfig {
	cfg := config.Default()
	cfg.ShowID = "engine-test"
	cfg.Rows = []config.RowConfig{
		{Options: [config.OptionsPerRow]config.OptionConfig{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}},
	}
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *edgeRecorder) {
	t.Helper()
	rec := &edgeRecorder{}
	state := show.New(testConfig(), time.Unix(1700000000, 0))
	e := New(conductor.New(), state, Options{
		Broadcaster: rec,
		Persister:   rec,
		Backups:     rec,
		Observer:    rec,
		Audio:       rec,
	}, zerolog.Nop())
	return e, rec
}

func TestAcceptedCommandFansOut(t *testing.T) {
	e, rec := newTestEngine(t)

	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: "u1"}))
	require.Equal(t, 1, e.Version())
	require.Equal(t, []string{"observe", "audio", "broadcast", "snapshot"}, rec.log())
}

func TestRejectedCommandHasNoSideEffects(t *testing.T) {
	e, rec := newTestEngine(t)

	err := e.Submit(conductor.Command{Type: conductor.CommandType("BOGUS")})
	require.Error(t, err)
	require.Equal(t, 0, e.Version())
	require.Empty(t, rec.log())
}

func TestSilentNoopSkipsFanOut(t *testing.T) {
	e, rec := newTestEngine(t)

	// Disconnecting an unknown user is dropped quietly.
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserDisconnect, UserID: "ghost"}))
	require.Equal(t, 0, e.Version())
	require.Empty(t, rec.log())
}

func TestTimedAdvanceDropsStaleVersion(t *testing.T) {
	e, rec := newTestEngine(t)
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: "u1"}))
	before := e.Version()

	e.SubmitAdvance(before - 1) // superseded by the connect
	require.Equal(t, before, e.Version())

	// Only the initial connect fan-out is on record.
	require.Equal(t, []string{"observe", "audio", "broadcast", "snapshot"}, rec.log())
}

func TestPhaseBoundaryWritesBackup(t *testing.T) {
	e, rec := newTestEngine(t)
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: "u1"}))
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdAssignFactions}))
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdStartShow}))

	require.Contains(t, rec.log(), "backup", "entering running writes a recovery point")
}

func TestForceReconnectReachesBroadcaster(t *testing.T) {
	e, rec := newTestEngine(t)

	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdForceReconnectAll}))
	require.Contains(t, rec.log(), "force_reconnect")
}

func TestSnapshotFailureIsNotFatal(t *testing.T) {
	e, rec := newTestEngine(t)
	rec.failSnaps = true

	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: "u1"}))
	require.Equal(t, 1, e.Version(), "the in-memory show outlives a dead disk")
}

func TestStateReturnsDetachedCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: "u1"}))

	copy1, err := e.State()
	require.NoError(t, err)
	copy1.Users["u1"].Connected = false

	copy2, err := e.State()
	require.NoError(t, err)
	require.True(t, copy2.Users["u1"].Connected)
}

func TestShutdownCancelsTimersAndBacksUp(t *testing.T) {
	e, rec := newTestEngine(t)
	e.Shutdown()
	require.Equal(t, []string{"cancel", "backup"}, rec.log())
}

// slowBroadcaster records snapshot versions with deliberate jitter before
// noting each one; only ordered fan-out keeps the record monotonic.
type slowBroadcaster struct {
	mu       sync.Mutex
	versions []int
}

func (b *slowBroadcaster) Broadcast(state *show.ShowState) {
	v := state.Version
	time.Sleep(time.Duration(v%3) * time.Millisecond)
	b.mu.Lock()
	b.versions = append(b.versions, v)
	b.mu.Unlock()
}

func (b *slowBroadcaster) ForceReconnectAll() {}

// Fan-out runs in commit order: a client never sees version n+1 before n,
// and the last broadcast always carries the final state.
func TestBroadcastsFollowCommitOrder(t *testing.T) {
	bc := &slowBroadcaster{}
	state := show.New(testConfig(), time.Unix(1700000000, 0))
	e := New(conductor.New(), state, Options{Broadcaster: bc}, zerolog.Nop())

	var g errgroup.Group
	const n = 16
	for i := 0; i < n; i++ {
		id := show.UserID(fmt.Sprintf("u%02d", i))
		g.Go(func() error {
			return e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: id})
		})
	}
	require.NoError(t, g.Wait())

	bc.mu.Lock()
	defer bc.mu.Unlock()
	require.Len(t, bc.versions, n)
	for i, v := range bc.versions {
		require.Equal(t, i+1, v, "broadcast %d out of commit order", i)
	}
}

// Concurrent submissions are linearised: n accepted commands yield exactly
// n version increments.
func TestConcurrentSubmitsSerialise(t *testing.T) {
	e, _ := newTestEngine(t)

	var g errgroup.Group
	const n = 64
	for i := 0; i < n; i++ {
		id := show.UserID(fmt.Sprintf("u%02d", i))
		g.Go(func() error {
			return e.Submit(conductor.Command{Type: conductor.CmdUserConnect, UserID: id})
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, n, e.Version())
}
