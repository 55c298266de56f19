package network

import (
	"context"

	"github.com/Blackswan15/smart-urban-traffic-manager/logging"
)

const (
	// EventClientConnected is emitted when a websocket session is accepted.
	EventClientConnected logging.EventType = "network.client_connected"
	// EventClientDropped is emitted when a session is removed after a failed
	// send or a closed connection.
	EventClientDropped logging.EventType = "network.client_dropped"
	// EventCommandDiscarded is emitted when an inbound message cannot be
	// decoded or enqueued.
	EventCommandDiscarded logging.EventType = "network.command_discarded"
	// EventBroadcastFinished is emitted when the fan-out loop observes the
	// terminal sentinel and shuts down.
	EventBroadcastFinished logging.EventType = "network.broadcast_finished"
)

func ClientConnected(ctx context.Context, pub logging.Publisher, clientID string, total int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientConnected,
		Actor:    logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  map[string]any{"clients": total},
	})
}

// DropPayload explains why a client session was removed.
type DropPayload struct {
	Reason string `json:"reason"`
}

func ClientDropped(ctx context.Context, pub logging.Publisher, clientID string, payload DropPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClientDropped,
		Actor:    logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// DiscardPayload explains why an inbound command was discarded.
type DiscardPayload struct {
	Reason string `json:"reason"`
}

func CommandDiscarded(ctx context.Context, pub logging.Publisher, clientID string, payload DiscardPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandDiscarded,
		Actor:    logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func BroadcastFinished(ctx context.Context, pub logging.Publisher, step uint64) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBroadcastFinished,
		Step:     step,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}
