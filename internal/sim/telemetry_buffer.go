package sim

import "sync"

const (
	telemetryBufferOccupancyMetricKey = "sim_telemetry_buffer_occupancy"
	telemetryBufferEvictedMetricKey   = "sim_telemetry_buffer_evicted_total"
)

// TelemetryBuffer carries one snapshot per step from the simulation thread
// to the broadcast fan-out. Pushing never blocks and never fails: when the
// ring is full the oldest snapshot is evicted, so a slow consumer sees stale
// data dropped rather than the simulation thread stalled.
type TelemetryBuffer struct {
	mu      sync.Mutex
	data    []Snapshot
	head    int
	tail    int
	count   int
	metrics bufferMetrics
}

// NewTelemetryBuffer constructs a snapshot ring with the provided capacity.
func NewTelemetryBuffer(capacity int, metrics bufferMetrics) *TelemetryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &TelemetryBuffer{
		data:    make([]Snapshot, capacity),
		metrics: metrics,
	}
}

// Push appends a snapshot, evicting the oldest one on overflow.
func (b *TelemetryBuffer) Push(snapshot Snapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.head = (b.head + 1) % len(b.data)
		b.count--
		if b.metrics != nil {
			b.metrics.Add(telemetryBufferEvictedMetricKey, 1)
		}
	}
	b.data[b.tail] = snapshot
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.storeOccupancyLocked()
}

// TryNext pops the oldest snapshot without blocking. The second return is
// false when no snapshot is available.
func (b *TelemetryBuffer) TryNext() (Snapshot, bool) {
	if b == nil {
		return Snapshot{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return Snapshot{}, false
	}
	snapshot := b.data[b.head]
	b.data[b.head] = Snapshot{}
	b.head = (b.head + 1) % len(b.data)
	b.count--
	b.storeOccupancyLocked()
	return snapshot, true
}

// Len reports the number of queued snapshots.
func (b *TelemetryBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *TelemetryBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(telemetryBufferOccupancyMetricKey, uint64(b.count))
}
