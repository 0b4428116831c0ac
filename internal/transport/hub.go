// SPDX-License-Identifier: MIT

// Package transport is the websocket fabric between the show core and its
// clients. It owns connection lifecycle, heartbeats, role-filtered state
// fan-out and the translation of client messages into commands. It never
// touches state itself; every mutation goes through the command submitter.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwhector/yggdrasil/internal/conductor"
	"github.com/jwhector/yggdrasil/internal/config"
	"github.com/jwhector/yggdrasil/internal/metrics"
	"github.com/jwhector/yggdrasil/internal/projection"
	"github.com/jwhector/yggdrasil/internal/show"
)

// Submitter funnels commands into the engine's serialiser.
type Submitter func(cmd conductor.Command) error

// Hub tracks every live client and fans state out to them.
type Hub struct {
	submit       Submitter
	log          zerolog.Logger
	heartbeat    config.HeartbeatConfig
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*Client]struct{}
	byUser  map[show.UserID]*Client

	newID func() show.UserID
}

// NewHub builds a Hub. Run must be started for heartbeats to work.
func NewHub(submit Submitter, heartbeat config.HeartbeatConfig, log zerolog.Logger) *Hub {
	// A peer that cannot take a write within the pong window is as dead as
	// one that never pongs, so the same timeout bounds every write.
	writeTimeout := heartbeat.PongTimeout.Std()
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		submit:       submit,
		log:          log,
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		clients:      map[*Client]struct{}{},
		byUser:       map[show.UserID]*Client{},
		newID:        func() show.UserID { return show.UserID(uuid.NewString()) },
	}
}

// Handler upgrades HTTP requests to websocket sessions. The client's role
// comes from the `role` query parameter and defaults to audience.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := projection.Role(r.URL.Query().Get("role"))
		if role == "" {
			role = projection.RoleAudience
		}
		if !role.IsValid() {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // venue LAN; origin checks add nothing here
		})
		if err != nil {
			h.log.Warn().Str("event", "transport.accept_failed").Err(err).Msg("websocket accept failed")
			return
		}

		client := newClient(h, conn, role)
		h.register(client)

		go client.writeLoop(r.Context())
		h.readLoop(r.Context(), client)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.ConnectedClients.WithLabelValues(string(c.Role())).Inc()
	h.log.Info().
		Str("event", "transport.client_connected").
		Str("role", string(c.Role())).
		Msg("client connected")
}

func (h *Hub) unregister(c *Client) {
	userID := c.UserID()

	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	if userID != "" && h.byUser[userID] == c {
		delete(h.byUser, userID)
	}
	h.mu.Unlock()

	if !present {
		return
	}
	metrics.ConnectedClients.WithLabelValues(string(c.Role())).Dec()
	c.close(websocket.StatusNormalClosure, "bye")

	// A vanished audience member leaves their seat empty until reconnect.
	if userID != "" && c.Role() == projection.RoleAudience {
		h.submitFrom(c, conductor.Command{Type: conductor.CmdUserDisconnect, UserID: userID}, false)
	}

	h.log.Info().
		Str("event", "transport.client_disconnected").
		Str("role", string(c.Role())).
		Msg("client disconnected")
}

// bindUser attaches a user id to a socket. A user id is bound to at most
// one live socket: the newest takes over and the stale one is told to
// reconnect (covers a phone re-opening the page before its old socket
// times out).
func (h *Hub) bindUser(c *Client, userID show.UserID) {
	h.mu.Lock()
	old := h.byUser[userID]
	h.byUser[userID] = c
	h.mu.Unlock()

	c.bind(userID)
	if old != nil && old != c {
		old.bind("") // keep its unregister from firing USER_DISCONNECT
		// Deliver the eviction notice directly and drop the socket without a
		// handshake; a queued notice would race the close and a handshake can
		// hang on a phone that stopped reading.
		old.evict(Outbound{Type: MsgForceReconnect})
	}
}

func (h *Hub) readLoop(ctx context.Context, c *Client) {
	defer h.unregister(c)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "malformed message"}})
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *Client, msg Inbound) {
	switch msg.Type {
	case MsgJoin:
		userID := msg.UserID
		if userID == "" {
			userID = h.newID()
		}
		h.bindUser(c, userID)
		c.enqueueMsg(Outbound{Type: MsgIdentity, Payload: IdentityPayload{UserID: userID}})
		if c.Role() != projection.RoleAudience {
			return // controller and projector sockets carry no show user
		}
		h.submitFrom(c, conductor.Command{
			Type:            conductor.CmdUserConnect,
			UserID:          userID,
			SeatID:          msg.SeatID,
			ExistingFaction: msg.ExistingFaction,
		}, true)

	case MsgReconnectUser:
		if msg.UserID == "" {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "userId required", Command: msg.Type}})
			return
		}
		h.bindUser(c, msg.UserID)
		c.enqueueMsg(Outbound{Type: MsgIdentity, Payload: IdentityPayload{UserID: msg.UserID}})
		lastVersion := 0
		if msg.LastVersion != nil {
			lastVersion = *msg.LastVersion
		}
		h.submitFrom(c, conductor.Command{
			Type:        conductor.CmdUserReconnect,
			UserID:      msg.UserID,
			LastVersion: lastVersion,
		}, true)

	case MsgVote:
		userID := c.UserID()
		if userID == "" {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "join first", Command: msg.Type}})
			return
		}
		// The socket's bound identity wins over anything in the payload.
		h.submitFrom(c, conductor.Command{
			Type:         conductor.CmdSubmitVote,
			UserID:       userID,
			FactionVote:  msg.FactionVote,
			PersonalVote: msg.PersonalVote,
		}, true)

	case MsgCoupVote:
		userID := c.UserID()
		if userID == "" {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "join first", Command: msg.Type}})
			return
		}
		h.submitFrom(c, conductor.Command{Type: conductor.CmdSubmitCoupVote, UserID: userID}, true)

	case MsgFigTreeResponse:
		userID := c.UserID()
		if userID == "" {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "join first", Command: msg.Type}})
			return
		}
		h.submitFrom(c, conductor.Command{
			Type:   conductor.CmdSubmitFigTreeResponse,
			UserID: userID,
			Text:   msg.Text,
		}, true)

	case MsgCommand:
		if c.Role() != projection.RoleController {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "commands require the controller role", Command: msg.Type}})
			return
		}
		if msg.Command == nil {
			c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: "command payload required", Command: msg.Type}})
			return
		}
		cmd := *msg.Command
		// The acting-user field always comes from the socket binding, for
		// the controller too. Commands aimed at another user carry that id
		// in a dedicated field (timelineUser), never here.
		cmd.UserID = c.UserID()
		h.submitFrom(c, cmd, true)

	case MsgPong:
		c.mu.Lock()
		c.missedPings = 0
		c.mu.Unlock()

	default:
		c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{Message: fmt.Sprintf("unknown message type %q", msg.Type)}})
	}
}

// submitFrom pushes a command into the engine and reflects rejections back
// to the sender when asked to.
func (h *Hub) submitFrom(c *Client, cmd conductor.Command, reply bool) {
	err := h.submit(cmd)
	if err == nil {
		return
	}
	var cmdErr *conductor.CommandError
	if reply && errors.As(err, &cmdErr) {
		c.enqueueMsg(Outbound{Type: MsgError, Payload: ErrorPayload{
			Message: cmdErr.Message,
			Command: string(cmdErr.Command),
		}})
		return
	}
	h.log.Error().
		Str("event", "transport.submit_failed").
		Str("command", string(cmd.Type)).
		Err(err).
		Msg("command submission failed")
}

// Run drives the heartbeat until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-ctx.Done():
			h.CloseAll(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// sweep sends one ping round and drops clients that missed too many.
func (h *Hub) sweep() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		c.missedPings++
		missed := c.missedPings
		c.mu.Unlock()

		if missed > h.heartbeat.MissLimit {
			h.log.Warn().
				Str("event", "transport.heartbeat_lost").
				Str("role", string(c.Role())).
				Int("missed", missed).
				Msg("client missed heartbeats")
			// No handshake here: the client is presumed dead, and one stuck
			// socket must not stall the sweep for everyone else.
			c.closeNow()
			h.unregister(c)
			continue
		}
		c.enqueueMsg(Outbound{Type: MsgPing})
	}
}

// Broadcast fans the post-command state out to every client, filtered by
// role. Controller and projector payloads are encoded once and shared.
func (h *Hub) Broadcast(state *show.ShowState) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var controllerData, projectorData []byte
	for _, c := range clients {
		switch c.Role() {
		case projection.RoleController:
			if controllerData == nil {
				view, err := projection.ForController(state)
				if err != nil {
					h.log.Error().Str("event", "transport.projection_failed").Err(err).Msg("controller projection failed")
					continue
				}
				controllerData, err = encodeOutbound(Outbound{Type: MsgStateSync, Payload: view})
				if err != nil {
					h.log.Error().Str("event", "transport.encode_failed").Err(err).Msg("controller sync encode failed")
					continue
				}
			}
			c.enqueue(controllerData)
		case projection.RoleProjector:
			if projectorData == nil {
				var err error
				projectorData, err = encodeOutbound(Outbound{Type: MsgStateSync, Payload: projection.ForProjector(state)})
				if err != nil {
					h.log.Error().Str("event", "transport.encode_failed").Err(err).Msg("projector sync encode failed")
					continue
				}
			}
			c.enqueue(projectorData)
		case projection.RoleAudience:
			userID := c.UserID()
			if userID == "" {
				continue // not joined yet, nothing personal to send
			}
			c.enqueueMsg(Outbound{Type: MsgStateSync, Payload: projection.ForAudience(state, userID)})
		}
		metrics.BroadcastsTotal.WithLabelValues(string(c.Role())).Inc()
	}
}

// ForceReconnectAll tells every client to tear down and redial.
func (h *Hub) ForceReconnectAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.enqueueMsg(Outbound{Type: MsgForceReconnect})
	}
	h.log.Info().
		Str("event", "transport.force_reconnect").
		Int("clients", len(clients)).
		Msg("force reconnect issued")
}

// CloseAll terminates every connection; used on shutdown.
func (h *Hub) CloseAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(code, reason)
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
