// SPDX-License-Identifier: MIT

package timing

import (
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/daw"
	"github.com/jwhector/yggdrasil/internal/show"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastTiming() config.TimingConfig {
	t := config.Default().Timing
	t.AuditionPerOption = config.Duration(10 * time.Millisecond)
	t.VotingWindow = config.Duration(10 * time.Millisecond)
	t.RevealDuration = config.Duration(10 * time.Millisecond)
	t.CoupWindow = config.Duration(10 * time.Millisecond)
	return t
}

func runningState(t *testing.T, timing config.TimingConfig, rowPhase show.RowPhase, version int) *show.ShowState {
	t.Helper()
	cfg := config.Default()
	cfg.ShowID = "timing-test"
	cfg.Timing = timing
	cfg.Rows = []config.RowConfig{
		{Options: [config.OptionsPerRow]config.OptionConfig{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}},
	}
	s := show.New(cfg, time.Now())
	s.Phase = show.PhaseRunning
	s.Rows[0].Phase = rowPhase
	s.Version = version
	return s
}

func collect() (Submitter, chan int) {
	ch := make(chan int, 8)
	return SubmitterFunc(func(version int) { ch <- version }), ch
}

func waitFire(t *testing.T, ch chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
		return 0
	}
}

func assertSilent(t *testing.T, ch chan int) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected fire with version %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVotingWindowFires(t *testing.T) {
	submit, ch := collect()
	s := NewScheduler(fastTiming(), submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, fastTiming(), show.RowVoting, 7))
	require.Equal(t, 7, waitFire(t, ch), "fire carries the scheduled version")
}

func TestNoTimerOutsideTimedPhases(t *testing.T) {
	submit, ch := collect()
	s := NewScheduler(fastTiming(), submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, fastTiming(), show.RowPending, 1))
	assertSilent(t, ch)

	s.Observe(runningState(t, fastTiming(), show.RowCommitted, 2))
	assertSilent(t, ch)

	paused := runningState(t, fastTiming(), show.RowVoting, 3)
	paused.Phase = show.PhasePaused
	s.Observe(paused)
	assertSilent(t, ch)
}

func TestObserveReplacesPendingTimer(t *testing.T) {
	submit, ch := collect()
	timing := fastTiming()
	timing.VotingWindow = config.Duration(30 * time.Millisecond)
	s := NewScheduler(timing, submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, timing, show.RowVoting, 1))
	s.Observe(runningState(t, timing, show.RowVoting, 2))

	require.Equal(t, 2, waitFire(t, ch), "second observe supersedes the first")
	assertSilent(t, ch)
}

func TestCancelStopsPendingTimer(t *testing.T) {
	submit, ch := collect()
	s := NewScheduler(fastTiming(), submit, zerolog.Nop())

	s.Observe(runningState(t, fastTiming(), show.RowCoupWindow, 4))
	s.Cancel()
	assertSilent(t, ch)
}

func TestBeatModeAdvancesOnElapsedBeats(t *testing.T) {
	submit, ch := collect()
	timing := fastTiming()
	timing.UseExternalClock = true
	timing.MasterLoopBeats = 8
	s := NewScheduler(timing, submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, timing, show.RowAuditioning, 5))
	assertSilent(t, ch) // no wall-clock timer in beat mode

	s.OnBeat(16) // anchor
	s.OnBeat(20)
	assertSilent(t, ch)
	s.OnBeat(24) // 8 beats elapsed
	require.Equal(t, 5, waitFire(t, ch))

	// Disarmed after firing; stray beats do nothing.
	s.OnBeat(40)
	assertSilent(t, ch)
}

func TestBeatsIgnoredOutsideAudition(t *testing.T) {
	submit, ch := collect()
	timing := fastTiming()
	timing.UseExternalClock = true
	s := NewScheduler(timing, submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, timing, show.RowVoting, 1))
	s.OnBeat(1)
	s.OnBeat(100)
	require.Equal(t, 1, waitFire(t, ch), "voting still uses the wall clock")
}

type fakeBridge struct {
	handlers map[string][]daw.HandlerFunc
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{handlers: map[string][]daw.HandlerFunc{}}
}

func (f *fakeBridge) Send(string, ...any) error { return nil }
func (f *fakeBridge) Handle(addr string, fn daw.HandlerFunc) {
	f.handlers[addr] = append(f.handlers[addr], fn)
}
func (f *fakeBridge) HandleOnce(addr string, fn daw.HandlerFunc) { f.Handle(addr, fn) }
func (f *fakeBridge) Start() error                               { return nil }
func (f *fakeBridge) Close() error                               { return nil }

func (f *fakeBridge) deliver(addr string, arg any) {
	msg := osc.NewMessage(addr)
	msg.Append(arg)
	for _, fn := range f.handlers[addr] {
		fn(msg)
	}
}

// Both the DAW beat counter and the external clock contract feed OnBeat.
func TestBindBridgeRoutesClockBeats(t *testing.T) {
	submit, ch := collect()
	timing := fastTiming()
	timing.UseExternalClock = true
	timing.MasterLoopBeats = 4
	s := NewScheduler(timing, submit, zerolog.Nop())
	defer s.Cancel()

	bridge := newFakeBridge()
	s.BindBridge(bridge)
	s.Observe(runningState(t, timing, show.RowAuditioning, 9))

	bridge.deliver(daw.AddrClockBeat, int32(0)) // anchor
	bridge.deliver(daw.AddrGetBeat, float32(2))
	assertSilent(t, ch)
	bridge.deliver(daw.AddrClockBeat, int32(4))
	require.Equal(t, 9, waitFire(t, ch))
}

// A SET_TIMING override lands in the state config; the next observe uses it.
func TestTimingFollowsStateConfig(t *testing.T) {
	submit, ch := collect()
	slow := fastTiming()
	slow.VotingWindow = config.Duration(time.Hour)
	s := NewScheduler(slow, submit, zerolog.Nop())
	defer s.Cancel()

	s.Observe(runningState(t, slow, show.RowVoting, 1))
	assertSilent(t, ch)

	s.Observe(runningState(t, fastTiming(), show.RowVoting, 2))
	require.Equal(t, 2, waitFire(t, ch))
}
