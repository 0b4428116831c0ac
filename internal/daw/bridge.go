// SPDX-License-Identifier: MIT

// Package daw speaks OSC to the digital audio workstation. The bridge is
// bidirectional: the audio router sends transport and clip commands out, and
// beat callbacks from the DAW feed the timing engine.
package daw

import (
	"fmt"
	"net"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/metrics"
)

// Well-known addresses on the DAW side.
const (
	AddrTest      = "/live/test"
	AddrGetBeat   = "/live/song/get/beat"
	AddrNumTracks = "/live/song/get/num_tracks"

	// Advisory messages from an external clock source. Never persisted.
	AddrClockBeat  = "/clock/beat"
	AddrClockTempo = "/clock/tempo"
	AddrClockReady = "/clock/ready"
)

// HandlerFunc consumes one inbound OSC message.
type HandlerFunc func(msg *osc.Message)

// Bridge is the DAW transport. Implementations must be safe for concurrent
// use; Send may be called from the engine goroutine while handlers fire from
// the receive loop.
type Bridge interface {
	// Send emits one OSC message to the DAW.
	Send(addr string, args ...any) error
	// Handle registers a persistent handler for an inbound address.
	Handle(addr string, fn HandlerFunc)
	// HandleOnce registers a handler that is removed after its first message.
	HandleOnce(addr string, fn HandlerFunc)
	// Start begins receiving. It returns once the listener is bound.
	Start() error
	// Close stops the receive loop and releases the socket.
	Close() error
}

// dispatcher routes inbound packets to registered handlers. go-osc's
// StandardDispatcher rejects duplicate registrations and has no one-shot
// form, so the bridge carries its own.
type dispatcher struct {
	mu   sync.Mutex
	on   map[string][]HandlerFunc
	once map[string][]HandlerFunc
	log  zerolog.Logger
}

func newDispatcher(log zerolog.Logger) *dispatcher {
	return &dispatcher{
		on:   map[string][]HandlerFunc{},
		once: map[string][]HandlerFunc{},
		log:  log,
	}
}

func (d *dispatcher) add(addr string, fn HandlerFunc)     { d.mu.Lock(); d.on[addr] = append(d.on[addr], fn); d.mu.Unlock() }
func (d *dispatcher) addOnce(addr string, fn HandlerFunc) { d.mu.Lock(); d.once[addr] = append(d.once[addr], fn); d.mu.Unlock() }

// Dispatch implements osc.Dispatcher. Bundles are flattened recursively.
func (d *dispatcher) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		d.dispatchMessage(p)
	case *osc.Bundle:
		for _, msg := range p.Messages {
			d.dispatchMessage(msg)
		}
		for _, bundle := range p.Bundles {
			d.Dispatch(bundle)
		}
	}
}

func (d *dispatcher) dispatchMessage(msg *osc.Message) {
	metrics.DAWMessagesTotal.WithLabelValues("received").Inc()

	d.mu.Lock()
	handlers := append([]HandlerFunc{}, d.on[msg.Address]...)
	handlers = append(handlers, d.once[msg.Address]...)
	delete(d.once, msg.Address)
	d.mu.Unlock()

	if len(handlers) == 0 {
		d.log.Debug().Str("event", "daw.unhandled").Str("address", msg.Address).Msg("unhandled OSC message")
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}

// OSCBridge is the production Bridge over UDP.
type OSCBridge struct {
	client *osc.Client
	disp   *dispatcher
	server *osc.Server
	conn   net.PacketConn
	addr   string
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewOSCBridge builds a bridge sending to host:sendPort and listening on
// recvPort. Nothing is bound until Start.
func NewOSCBridge(host string, sendPort, recvPort int, log zerolog.Logger) *OSCBridge {
	disp := newDispatcher(log)
	return &OSCBridge{
		client: osc.NewClient(host, sendPort),
		disp:   disp,
		addr:   fmt.Sprintf(":%d", recvPort),
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start binds the receive socket and runs the serve loop in the background.
func (b *OSCBridge) Start() error {
	conn, err := net.ListenPacket("udp", b.addr)
	if err != nil {
		return fmt.Errorf("bind OSC listener: %w", err)
	}
	b.conn = conn
	b.server = &osc.Server{Addr: b.addr, Dispatcher: b.disp}

	go func() {
		defer close(b.done)
		err := b.server.Serve(conn)
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if err != nil && !closed {
			b.log.Error().Str("event", "daw.serve_failed").Err(err).Msg("OSC serve loop exited")
		}
	}()

	b.log.Info().
		Str("event", "daw.started").
		Str("listen", b.addr).
		Msg("OSC bridge listening")
	return nil
}

// Send emits one message. Arguments are coerced to OSC types: ints become
// int32, floats float32, strings and bools pass through.
func (b *OSCBridge) Send(addr string, args ...any) error {
	msg := osc.NewMessage(addr)
	for _, arg := range args {
		switch v := arg.(type) {
		case int:
			msg.Append(int32(v))
		case int32:
			msg.Append(v)
		case float64:
			msg.Append(float32(v))
		case float32:
			msg.Append(v)
		case string:
			msg.Append(v)
		case bool:
			msg.Append(v)
		default:
			return fmt.Errorf("unsupported OSC argument type %T", arg)
		}
	}
	if err := b.client.Send(msg); err != nil {
		return fmt.Errorf("send OSC %s: %w", addr, err)
	}
	metrics.DAWMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// Handle registers a persistent handler.
func (b *OSCBridge) Handle(addr string, fn HandlerFunc) { b.disp.add(addr, fn) }

// HandleOnce registers a one-shot handler.
func (b *OSCBridge) HandleOnce(addr string, fn HandlerFunc) { b.disp.addOnce(addr, fn) }

// Close shuts the receive socket down and waits for the serve loop to exit.
func (b *OSCBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	<-b.done
	return err
}

// Probe asks the DAW whether it is alive and how many tracks the session
// has. Replies are logged when they arrive; a silent DAW is not an error,
// the session may simply not be loaded yet.
func Probe(b Bridge, wantTracks int, log zerolog.Logger) {
	b.HandleOnce(AddrTest, func(*osc.Message) {
		log.Info().Str("event", "daw.ack").Msg("DAW answered test probe")
	})
	b.HandleOnce(AddrNumTracks, func(msg *osc.Message) {
		if len(msg.Arguments) == 0 {
			return
		}
		n, ok := msg.Arguments[0].(int32)
		if !ok {
			return
		}
		if int(n) < wantTracks {
			log.Warn().
				Str("event", "daw.track_shortfall").
				Int32("have", n).
				Int("want", wantTracks).
				Msg("DAW session has fewer tracks than the show needs")
			return
		}
		log.Info().Str("event", "daw.num_tracks").Int32("tracks", n).Msg("DAW track count confirmed")
	})
	if err := b.Send(AddrTest); err != nil {
		log.Warn().Err(err).Str("event", "daw.probe_failed").Msg("test probe send failed")
	}
	if err := b.Send(AddrNumTracks); err != nil {
		log.Warn().Err(err).Str("event", "daw.probe_failed").Msg("track count probe send failed")
	}
}

// NullBridge is the disabled-DAW stand-in: sends are logged and dropped,
// handlers never fire. Rehearsals without a DAW run against this.
type NullBridge struct {
	log zerolog.Logger
}

// NewNullBridge builds a NullBridge.
func NewNullBridge(log zerolog.Logger) *NullBridge {
	return &NullBridge{log: log}
}

func (n *NullBridge) Send(addr string, args ...any) error {
	n.log.Debug().
		Str("event", "daw.null_send").
		Str("address", addr).
		Interface("args", args).
		Msg("OSC send dropped, DAW disabled")
	return nil
}

func (n *NullBridge) Handle(addr string, fn HandlerFunc)     {}
func (n *NullBridge) HandleOnce(addr string, fn HandlerFunc) {}
func (n *NullBridge) Start() error                           { return nil }
func (n *NullBridge) Close() error                           { return nil }
