// Package ws bridges the simulation buffers to websocket operator consoles:
// one fan-out goroutine drains telemetry toward every session, and one read
// goroutine per session stages inbound commands.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/sim"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/telemetry"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	lognetwork "github.com/Blackswan15/smart-urban-traffic-manager/logging/network"
)

const (
	defaultBroadcastIdle = 50 * time.Millisecond
	defaultWriteWait     = 10 * time.Second

	clientsMetricKey    = "ws_clients_connected"
	broadcastsMetricKey = "ws_broadcasts_total"
)

// HubConfig tunes the fan-out loop.
type HubConfig struct {
	// BroadcastIdle is how long the fan-out sleeps when no snapshot is
	// pending.
	BroadcastIdle time.Duration
	// WriteWait bounds each websocket write so one stalled client cannot
	// block the fan-out.
	WriteWait time.Duration
}

// HubDeps carries the ambient collaborators of the hub.
type HubDeps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Hub owns all live websocket sessions. It never touches the engine or the
// controllers; its only contact with the simulation is the two buffers.
type Hub struct {
	cfg       HubConfig
	deps      HubDeps
	commands  *sim.CommandBuffer
	snapshots *sim.TelemetryBuffer
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewHub wires the hub to the simulation buffers.
func NewHub(commands *sim.CommandBuffer, snapshots *sim.TelemetryBuffer, cfg HubConfig, deps HubDeps) *Hub {
	if cfg.BroadcastIdle <= 0 {
		cfg.BroadcastIdle = defaultBroadcastIdle
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	return &Hub{
		cfg:       cfg,
		deps:      deps,
		commands:  commands,
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*session),
	}
}

// Handle upgrades an HTTP request and runs the session read loop until the
// client disconnects.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.deps.Logger != nil {
			h.deps.Logger.Printf("websocket upgrade failed: %v", err)
		}
		return
	}
	sess, ok := h.subscribe(conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "simulation finished")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	h.serve(sess)
}

func (h *Hub) subscribe(conn Conn) (*session, bool) {
	sess := &session{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.sessions[sess.id] = sess
	total := len(h.sessions)
	h.mu.Unlock()

	lognetwork.ClientConnected(context.Background(), h.deps.Publisher, sess.id, total)
	h.storeClientCount()
	return sess, true
}

// serve decodes inbound operator messages and stages them for the next
// simulation step. Malformed messages are discarded; the connection stays up.
func (h *Hub) serve(sess *session) {
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			h.drop(sess, "read failed")
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.discard(sess, fmt.Sprintf("malformed message: %v", err))
			continue
		}

		cmd, err := decodeCommand(sess.id, msg)
		if err != nil {
			h.discard(sess, err.Error())
			continue
		}
		if !h.commands.Push(cmd) {
			h.discard(sess, "command buffer full")
		}
	}
}

func decodeCommand(clientID string, msg inboundMessage) (sim.Command, error) {
	cmd := sim.Command{ClientID: clientID, IssuedAt: time.Now()}
	switch msg.Command {
	case string(sim.CommandSetMode):
		var mode string
		if err := json.Unmarshal(msg.Value, &mode); err != nil {
			return cmd, fmt.Errorf("set_mode expects a mode string: %w", err)
		}
		cmd.Type = sim.CommandSetMode
		cmd.SetMode = &sim.SetModeCommand{Mode: signal.Mode(mode)}
		return cmd, nil
	case string(sim.CommandForcePhase):
		cmd.Type = sim.CommandForcePhase
		var phase int
		if err := json.Unmarshal(msg.Value, &phase); err == nil {
			cmd.ForcePhase = &sim.ForcePhaseCommand{Phase: phase}
			return cmd, nil
		}
		var value forcePhaseValue
		if err := json.Unmarshal(msg.Value, &value); err != nil {
			return cmd, fmt.Errorf("force_phase expects a phase index: %w", err)
		}
		cmd.ForcePhase = &sim.ForcePhaseCommand{Intersection: value.Intersection, Phase: value.Phase}
		return cmd, nil
	default:
		return cmd, fmt.Errorf("unknown command %q", msg.Command)
	}
}

// Run drains the telemetry buffer toward every session until the terminal
// sentinel arrives or the context is cancelled. TryNext never blocks, so an
// empty buffer costs one bounded sleep rather than a lock held across steps.
func (h *Hub) Run(ctx context.Context) error {
	for {
		snapshot, ok := h.snapshots.TryNext()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.cfg.BroadcastIdle):
			}
			continue
		}

		if snapshot.Finished {
			data, err := json.Marshal(statusMessage{Status: "finished"})
			if err == nil {
				h.broadcast(data)
			}
			lognetwork.BroadcastFinished(ctx, h.deps.Publisher, snapshot.Step)
			h.closeAll()
			return nil
		}

		data, err := json.Marshal(snapshot)
		if err != nil {
			if h.deps.Logger != nil {
				h.deps.Logger.Printf("failed to marshal snapshot for step %d: %v", snapshot.Step, err)
			}
			continue
		}
		h.broadcast(data)
	}
}

// broadcast writes one frame to every session. A failed write drops that
// session only; the remaining clients keep receiving.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.write(data, websocket.TextMessage, h.cfg.WriteWait); err != nil {
			h.drop(sess, "write failed")
		}
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.Add(broadcastsMetricKey, 1)
	}
}

// ClientCount reports the number of live sessions.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) drop(sess *session, reason string) {
	h.mu.Lock()
	_, present := h.sessions[sess.id]
	delete(h.sessions, sess.id)
	h.mu.Unlock()
	if !present {
		return
	}
	sess.conn.Close()
	lognetwork.ClientDropped(context.Background(), h.deps.Publisher, sess.id, lognetwork.DropPayload{Reason: reason})
	h.storeClientCount()
}

func (h *Hub) discard(sess *session, reason string) {
	lognetwork.CommandDiscarded(context.Background(), h.deps.Publisher, sess.id, lognetwork.DiscardPayload{Reason: reason})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}
	h.storeClientCount()
}

func (h *Hub) storeClientCount() {
	if h.deps.Metrics == nil {
		return
	}
	h.deps.Metrics.Store(clientsMetricKey, uint64(h.ClientCount()))
}
