package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/session"
)

const commandTimeout = 10 * time.Second

// Replies sent only to the client that issued a command.
const (
	EventConnected         = "connected"
	EventJoined            = "joined"
	EventDecisionsAccepted = "decisions_accepted"
)

type JoinedPayload struct {
	Role string        `json:"role"`
	Team *models.Team  `json:"team,omitempty"`
	Game session.State `json:"game"`
}

type ErrorPayload struct {
	Command CommandType `json:"command,omitempty"`
	Message string      `json:"message"`
}

func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub)
	h.hub.Register(client)
	client.deliverEvent(interfaces.OutboundEvent{
		Name:    EventConnected,
		Payload: map[string]string{"client_id": client.ID},
		At:      time.Now(),
	})

	go client.readPump(h.handleMessage)
}

func (h *Handlers) handleMessage(c *Client, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd, err := h.parser.Parse(raw)
	if err == nil {
		err = h.dispatch(ctx, c, cmd)
	}
	if err == nil {
		return
	}

	gameID, _, _ := c.binding()
	if session.IsValidation(err) || session.IsNotFound(err) || isClientError(err) {
		h.log.Debug("command rejected", "client_id", c.ID, "command", cmd.Type, "error", err)
	} else {
		h.log.Error("command failed", "client_id", c.ID, "game_id", gameID, "command", cmd.Type, "error", err)
	}
	c.deliverEvent(interfaces.OutboundEvent{
		GameID:  gameID,
		Name:    session.EventError,
		Payload: ErrorPayload{Command: cmd.Type, Message: err.Error()},
		At:      time.Now(),
	})
}

func (h *Handlers) reply(c *Client, gameID, name string, payload interface{}) {
	c.deliverEvent(interfaces.OutboundEvent{GameID: gameID, Name: name, Payload: payload, At: time.Now()})
}

func (h *Handlers) dispatch(ctx context.Context, c *Client, cmd Command) error {
	switch cmd.Type {
	case CommandJoinGame:
		var req JoinGameRequest
		if err := h.parser.Decode(cmd, &req); err != nil {
			return err
		}
		st, team, err := h.manager.JoinGame(ctx, req.Code, req.TeamName, req.Roles)
		if err != nil {
			return err
		}
		h.hub.Leave(c)
		c.bindTeam(st.Game.ID, team.ID)
		h.hub.Join(c, GameRoom(st.Game.ID))
		h.reply(c, st.Game.ID, EventJoined, JoinedPayload{Role: "team", Team: &team, Game: st})
		return nil

	case CommandJoinFacilitator:
		var req JoinFacilitatorRequest
		if err := h.parser.Decode(cmd, &req); err != nil {
			return err
		}
		gameID := req.GameID
		if gameID == "" {
			if req.Code == "" {
				return fmt.Errorf("%w: game_id or code is required", ErrMalformedCommand)
			}
			id, err := h.manager.GameByCode(ctx, req.Code)
			if err != nil {
				return err
			}
			gameID = id
		}
		st, err := h.manager.Game(ctx, gameID)
		if err != nil {
			return err
		}
		h.hub.Leave(c)
		c.bindFacilitator(gameID)
		h.hub.Join(c, GameRoom(gameID))
		h.hub.Join(c, FacilitatorRoom(gameID))
		h.reply(c, gameID, EventJoined, JoinedPayload{Role: "facilitator", Game: st})
		return nil

	case CommandSubmitDecisions:
		var req SubmitDecisionsRequest
		if err := h.parser.Decode(cmd, &req); err != nil {
			return err
		}
		gameID, teamID, facilitator := c.binding()
		if gameID == "" {
			return ErrNotJoined
		}
		// The facilitator may submit on behalf of a team.
		if facilitator {
			teamID = req.TeamID
		}
		sub, err := h.manager.SubmitDecisions(ctx, gameID, teamID, req.DecisionIDs)
		if err != nil {
			return err
		}
		h.reply(c, gameID, EventDecisionsAccepted, sub)
		return nil
	}

	if !cmd.Type.FacilitatorOnly() {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
	gameID, _, facilitator := c.binding()
	if gameID == "" {
		return ErrNotJoined
	}
	var req GameCommandRequest
	if err := h.parser.Decode(cmd, &req); err != nil {
		return err
	}
	if !facilitator || (req.GameID != "" && req.GameID != gameID) {
		return ErrNotFacilitator
	}

	var err error
	switch cmd.Type {
	case CommandStartCycle:
		_, err = h.manager.StartCycle(ctx, gameID)
	case CommandCloseSubmissions:
		_, err = h.manager.CloseSubmissions(ctx, gameID)
	case CommandAdvanceCycle:
		_, err = h.manager.AdvanceCycle(ctx, gameID)
	case CommandEndGame:
		_, err = h.manager.EndGame(ctx, gameID)
	}
	return err
}
