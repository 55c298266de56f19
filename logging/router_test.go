package logging_test

import (
	"context"
	"testing"
	"time"

	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
	"github.com/Blackswan15/smart-urban-traffic-manager/logging/sinks"
)

func newMemoryRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(logging.SystemClock{}, cfg, []logging.NamedSink{
		{Name: "memory", Sink: memory},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		router.Close(ctx)
	})
	return router, memory
}

func waitForEvents(t *testing.T, memory *sinks.MemorySink, want int) []logging.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := memory.Events()
		if len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", want, len(memory.Events()))
	return nil
}

func TestRouterDeliversEventsToSink(t *testing.T) {
	cfg := logging.DefaultConfig()
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{
		Type:     "control.mode_changed",
		Step:     7,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryControl,
	})

	events := waitForEvents(t, memory, 1)
	if events[0].Type != "control.mode_changed" || events[0].Step != 7 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].Time.IsZero() {
		t.Fatal("router should stamp event time")
	}
	stats := router.Stats()
	if stats.EventsTotal != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "control.phase_switch", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "control.phase_rejected", Severity: logging.SeverityWarn})

	events := waitForEvents(t, memory, 1)
	for _, event := range events {
		if event.Severity < logging.SeverityWarn {
			t.Fatalf("sub-threshold event delivered: %+v", event)
		}
	}
}

func TestRouterAttachesConfiguredFields(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"node": "sim-1"}
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "network.client_connected", Severity: logging.SeverityInfo})

	events := waitForEvents(t, memory, 1)
	if events[0].Extra["node"] != "sim-1" {
		t.Fatalf("configured field missing: %+v", events[0].Extra)
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(logging.SystemClock{}, logging.DefaultConfig(), []logging.NamedSink{
		{Name: "memory", Sink: memory},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	router.Publish(context.Background(), logging.Event{Type: "control.phase_switch", Severity: logging.SeverityInfo})
	time.Sleep(20 * time.Millisecond)
	if len(memory.Events()) != 0 {
		t.Fatalf("events delivered after close: %d", len(memory.Events()))
	}
}
