package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// Audience selects which room of a game receives an event.
type Audience string

const (
	AudienceGame        Audience = "game"
	AudienceFacilitator Audience = "facilitator"
)

// OutboundEvent is a named event emitted by the orchestrator.
type OutboundEvent struct {
	GameID   string      `json:"game_id"`
	Name     string      `json:"type"`
	Audience Audience    `json:"audience"`
	Payload  interface{} `json:"data"`
	At       time.Time   `json:"at"`
}

// LoggedEvent is an OutboundEvent read back from an EventLog.
type LoggedEvent struct {
	GameID   string          `json:"game_id"`
	Name     string          `json:"type"`
	Audience Audience        `json:"audience"`
	Payload  json.RawMessage `json:"data"`
	At       time.Time       `json:"at"`
}

// Publisher delivers events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, event OutboundEvent) error
}

// EventLog keeps a capped, newest-first history of published events per game.
type EventLog interface {
	Append(ctx context.Context, event OutboundEvent) error
	Recent(ctx context.Context, gameID string, limit int64) ([]LoggedEvent, error)
}

// ResolutionGuard makes cycle resolution fire once per (game, cycle).
type ResolutionGuard interface {
	// Acquire returns false when the (game, cycle) was already claimed.
	Acquire(ctx context.Context, gameID string, cycle int) (bool, error)
	// Release frees a claim after a failed resolution so it can be retried.
	Release(ctx context.Context, gameID string, cycle int) error
}
