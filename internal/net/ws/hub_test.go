package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/internal/sim"
	"github.com/Blackswan15/smart-urban-traffic-manager/internal/signal"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	inbound chan []byte

	mu         sync.Mutex
	written    [][]byte
	failWrites bool
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.inbound
	if !ok {
		return 0, nil, errConnClosed
	}
	return 1, payload, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errConnClosed
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]string, len(c.written))
	for i, data := range c.written {
		frames[i] = string(data)
	}
	return frames
}

func newTestHub(commandCap, telemetryCap int) *Hub {
	commands := sim.NewCommandBuffer(commandCap, nil)
	snapshots := sim.NewTelemetryBuffer(telemetryCap, nil)
	return NewHub(commands, snapshots, HubConfig{BroadcastIdle: time.Millisecond}, HubDeps{})
}

func TestServeStagesDecodedCommands(t *testing.T) {
	hub := newTestHub(8, 8)
	conn := newFakeConn()
	sess, ok := hub.subscribe(conn)
	if !ok {
		t.Fatal("subscribe failed")
	}

	done := make(chan struct{})
	go func() {
		hub.serve(sess)
		close(done)
	}()

	conn.inbound <- []byte(`{"command":"set_mode","value":"manual"}`)
	conn.inbound <- []byte(`{"command":"force_phase","value":2}`)
	close(conn.inbound)
	<-done

	drained := hub.commands.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 staged commands, got %d", len(drained))
	}
	if drained[0].Type != sim.CommandSetMode || drained[0].SetMode.Mode != signal.ModeManual {
		t.Fatalf("unexpected first command: %+v", drained[0])
	}
	if drained[1].Type != sim.CommandForcePhase || drained[1].ForcePhase.Phase != 2 {
		t.Fatalf("unexpected second command: %+v", drained[1])
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("session should be dropped after read error, count=%d", hub.ClientCount())
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	hub := newTestHub(8, 8)
	conn := newFakeConn()
	sess, _ := hub.subscribe(conn)

	done := make(chan struct{})
	go func() {
		hub.serve(sess)
		close(done)
	}()

	conn.inbound <- []byte(`{not json`)
	conn.inbound <- []byte(`{"command":"reverse_gravity","value":1}`)
	conn.inbound <- []byte(`{"command":"set_mode","value":"auto"}`)
	close(conn.inbound)
	<-done

	drained := hub.commands.Drain()
	if len(drained) != 1 {
		t.Fatalf("only the valid command should be staged, got %d", len(drained))
	}
	if drained[0].SetMode == nil || drained[0].SetMode.Mode != signal.ModeAuto {
		t.Fatalf("unexpected command: %+v", drained[0])
	}
}

func TestDecodeForcePhaseObjectForm(t *testing.T) {
	cmd, err := decodeCommand("c1", inboundMessage{
		Command: "force_phase",
		Value:   json.RawMessage(`{"tls":"J2","phase":3}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.ForcePhase.Intersection != "J2" || cmd.ForcePhase.Phase != 3 {
		t.Fatalf("unexpected command: %+v", cmd.ForcePhase)
	}
}

func TestRunBroadcastsSnapshotsThenSentinel(t *testing.T) {
	hub := newTestHub(8, 8)
	connA := newFakeConn()
	connB := newFakeConn()
	hub.subscribe(connA)
	hub.subscribe(connB)

	hub.snapshots.Push(sim.Snapshot{Step: 1, ControlMode: "auto"})
	hub.snapshots.Push(sim.Snapshot{Step: 2, Finished: true})

	if err := hub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, conn := range []*fakeConn{connA, connB} {
		frames := conn.frames()
		if len(frames) != 2 {
			t.Fatalf("expected snapshot plus sentinel, got %d frames", len(frames))
		}
		if !strings.Contains(frames[0], `"step":1`) {
			t.Fatalf("first frame should carry step 1: %s", frames[0])
		}
		if frames[1] != `{"status":"finished"}` {
			t.Fatalf("unexpected sentinel frame: %s", frames[1])
		}
		if !conn.closed {
			t.Fatal("connection should be closed after the sentinel")
		}
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("all sessions should be gone, count=%d", hub.ClientCount())
	}
	if _, ok := hub.subscribe(newFakeConn()); ok {
		t.Fatal("subscribe after shutdown should be refused")
	}
}

func TestFailedWriteDropsOnlyThatClient(t *testing.T) {
	hub := newTestHub(8, 8)
	broken := newFakeConn()
	broken.failWrites = true
	healthy := newFakeConn()
	hub.subscribe(broken)
	hub.subscribe(healthy)

	hub.broadcast([]byte(`{"step":1}`))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected only the healthy client to survive, count=%d", hub.ClientCount())
	}
	if !broken.closed {
		t.Fatal("failed client should be closed")
	}
	if frames := healthy.frames(); len(frames) != 1 {
		t.Fatalf("healthy client should have received the frame, got %d", len(frames))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	hub := newTestHub(8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hub.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
