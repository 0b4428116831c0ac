// SPDX-License-Identifier: MIT

package daw

import (
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcherRoutesAndClearsOnce(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var persistent, oneShot int
	d.add(AddrClockBeat, func(msg *osc.Message) { persistent++ })
	d.addOnce(AddrClockBeat, func(msg *osc.Message) { oneShot++ })

	msg := osc.NewMessage(AddrClockBeat)
	d.Dispatch(msg)
	d.Dispatch(msg)

	require.Equal(t, 2, persistent)
	require.Equal(t, 1, oneShot, "once handler fires a single time")
}

func TestDispatcherFlattensBundles(t *testing.T) {
	d := newDispatcher(zerolog.Nop())

	var got []string
	d.add(AddrTest, func(msg *osc.Message) { got = append(got, msg.Address) })
	d.add(AddrClockBeat, func(msg *osc.Message) { got = append(got, msg.Address) })

	inner := osc.NewBundle(time.Now())
	inner.Append(osc.NewMessage(AddrClockBeat))
	outer := osc.NewBundle(time.Now())
	outer.Append(osc.NewMessage(AddrTest))
	outer.Append(inner)

	d.Dispatch(outer)
	require.Equal(t, []string{AddrTest, AddrClockBeat}, got)
}

func TestDispatcherIgnoresUnhandled(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	require.NotPanics(t, func() {
		d.Dispatch(osc.NewMessage("/nobody/home"))
	})
}

func TestOSCBridgeLoopback(t *testing.T) {
	recv := NewOSCBridge("127.0.0.1", 0, 0, zerolog.Nop())
	require.NoError(t, recv.Start())
	defer func() { require.NoError(t, recv.Close()) }()

	beats := make(chan float64, 1)
	recv.Handle(AddrClockBeat, func(msg *osc.Message) {
		if len(msg.Arguments) == 1 {
			if f, ok := msg.Arguments[0].(float32); ok {
				beats <- float64(f)
			}
		}
	})

	port := recv.conn.LocalAddr().(*net.UDPAddr).Port
	send := NewOSCBridge("127.0.0.1", port, 0, zerolog.Nop())
	require.NoError(t, send.Send(AddrClockBeat, 16.0))

	select {
	case beat := <-beats:
		require.InDelta(t, 16.0, beat, 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("beat never arrived")
	}
}

func TestOSCBridgeCloseIdempotent(t *testing.T) {
	b := NewOSCBridge("127.0.0.1", 0, 0, zerolog.Nop())
	require.NoError(t, b.Start())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestSendRejectsUnsupportedType(t *testing.T) {
	b := NewOSCBridge("127.0.0.1", 9, 0, zerolog.Nop())
	err := b.Send(AddrTest, struct{}{})
	require.Error(t, err)
}

func TestProbeLogsReplies(t *testing.T) {
	// A stand-in DAW: answers the test probe and reports its track count.
	dawSide := NewOSCBridge("127.0.0.1", 0, 0, zerolog.Nop())
	require.NoError(t, dawSide.Start())
	defer func() { require.NoError(t, dawSide.Close()) }()

	probeSide := NewOSCBridge("127.0.0.1", dawSide.conn.LocalAddr().(*net.UDPAddr).Port, 0, zerolog.Nop())
	require.NoError(t, probeSide.Start())
	defer func() { require.NoError(t, probeSide.Close()) }()

	probePort := probeSide.conn.LocalAddr().(*net.UDPAddr).Port
	reply := NewOSCBridge("127.0.0.1", probePort, 0, zerolog.Nop())
	asked := make(chan string, 2)
	dawSide.Handle(AddrTest, func(msg *osc.Message) {
		asked <- msg.Address
		_ = reply.Send(AddrTest)
	})
	dawSide.Handle(AddrNumTracks, func(msg *osc.Message) {
		asked <- msg.Address
		_ = reply.Send(AddrNumTracks, 8)
	})

	got := make(chan int32, 1)
	probeSide.Handle(AddrNumTracks, func(msg *osc.Message) {
		if len(msg.Arguments) == 1 {
			if n, ok := msg.Arguments[0].(int32); ok {
				got <- n
			}
		}
	})
	Probe(probeSide, 4, zerolog.Nop())

	for i := 0; i < 2; i++ {
		select {
		case <-asked:
		case <-time.After(2 * time.Second):
			t.Fatal("probe request never arrived")
		}
	}
	select {
	case n := <-got:
		require.Equal(t, int32(8), n)
	case <-time.After(2 * time.Second):
		t.Fatal("track count reply never arrived")
	}
}

func TestNullBridgeIsInert(t *testing.T) {
	n := NewNullBridge(zerolog.Nop())
	require.NoError(t, n.Start())
	require.NoError(t, n.Send(AddrTest, 1, "ok"))
	n.Handle(AddrClockBeat, func(msg *osc.Message) { t.Fatal("null bridge must not dispatch") })
	require.NoError(t, n.Close())
}
