package web

import (
	"context"
	"encoding/json"
	"fmt"

	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
)

// Broadcaster publishes session events to the hub and records them in the
// recent event log.
type Broadcaster struct {
	hub    *Hub
	events interfaces.EventLog
	log    *logger.Logger
}

var _ interfaces.Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a publisher. events may be nil.
func NewBroadcaster(hub *Hub, events interfaces.EventLog, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.Nop()
	}
	return &Broadcaster{hub: hub, events: events, log: log.With("component", "broadcaster")}
}

func (b *Broadcaster) Publish(ctx context.Context, e interfaces.OutboundEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", e.Name, err)
	}
	b.hub.Broadcast(RoomFor(e), data)

	if b.events != nil {
		if err := b.events.Append(ctx, e); err != nil {
			b.log.Warn("failed to record event", "game_id", e.GameID, "event", e.Name, "error", err)
		}
	}
	return nil
}
