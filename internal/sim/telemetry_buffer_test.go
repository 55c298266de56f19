package sim

import "testing"

func TestTelemetryBufferDeliversInOrder(t *testing.T) {
	buffer := NewTelemetryBuffer(4, nil)
	for step := uint64(1); step <= 3; step++ {
		buffer.Push(Snapshot{Step: step})
	}

	for want := uint64(1); want <= 3; want++ {
		snapshot, ok := buffer.TryNext()
		if !ok {
			t.Fatalf("expected snapshot for step %d", want)
		}
		if snapshot.Step != want {
			t.Fatalf("expected step %d, got %d", want, snapshot.Step)
		}
	}
	if _, ok := buffer.TryNext(); ok {
		t.Fatal("expected empty buffer after draining")
	}
}

func TestTelemetryBufferEvictsOldestOnOverflow(t *testing.T) {
	buffer := NewTelemetryBuffer(2, nil)
	buffer.Push(Snapshot{Step: 1})
	buffer.Push(Snapshot{Step: 2})
	buffer.Push(Snapshot{Step: 3})

	first, ok := buffer.TryNext()
	if !ok || first.Step != 2 {
		t.Fatalf("expected eviction of step 1, got step %d (ok=%v)", first.Step, ok)
	}
	second, ok := buffer.TryNext()
	if !ok || second.Step != 3 {
		t.Fatalf("expected step 3 second, got step %d (ok=%v)", second.Step, ok)
	}
}

func TestTelemetryBufferTryNextNonBlocking(t *testing.T) {
	buffer := NewTelemetryBuffer(2, nil)
	if _, ok := buffer.TryNext(); ok {
		t.Fatal("TryNext on an empty buffer must report no snapshot")
	}
}

func TestTelemetryBufferFinishedSentinelSurvivesRoundTrip(t *testing.T) {
	buffer := NewTelemetryBuffer(2, nil)
	buffer.Push(Snapshot{Step: 9, Finished: true})

	snapshot, ok := buffer.TryNext()
	if !ok {
		t.Fatal("expected sentinel snapshot")
	}
	if !snapshot.Finished {
		t.Fatal("sentinel flag lost in transit")
	}
}
