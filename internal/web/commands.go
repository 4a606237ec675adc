package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"safe-by-design/server/internal/models"
)

// CommandType names an inbound websocket command.
type CommandType string

const (
	CommandJoinGame         CommandType = "join_game"
	CommandJoinFacilitator  CommandType = "join_facilitator"
	CommandSubmitDecisions  CommandType = "submit_decisions"
	CommandStartCycle       CommandType = "start_cycle"
	CommandCloseSubmissions CommandType = "close_submissions"
	CommandAdvanceCycle     CommandType = "advance_cycle"
	CommandEndGame          CommandType = "end_game"
)

var facilitatorCommands = map[CommandType]bool{
	CommandStartCycle:       true,
	CommandCloseSubmissions: true,
	CommandAdvanceCycle:     true,
	CommandEndGame:          true,
}

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrNotJoined        = errors.New("join a game first")
	ErrNotFacilitator   = errors.New("only the facilitator can do that")
)

// Command is the {"type": ..., "data": {...}} envelope every client sends.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinGameRequest struct {
	Code     string                 `json:"code"`
	TeamName string                 `json:"team_name"`
	Roles    models.RoleAssignments `json:"roles"`
}

// JoinFacilitatorRequest identifies the game by id or by join code.
type JoinFacilitatorRequest struct {
	GameID string `json:"game_id"`
	Code   string `json:"code"`
}

type SubmitDecisionsRequest struct {
	GameID      string   `json:"game_id"`
	TeamID      string   `json:"team_id"`
	DecisionIDs []string `json:"decision_ids"`
}

type GameCommandRequest struct {
	GameID string `json:"game_id"`
}

type CreateGameRequest struct {
	NumberOfTeams   int    `json:"number_of_teams"`
	FacilitatorName string `json:"facilitator_name"`
}

// CommandParser decodes inbound frames.
type CommandParser struct {
	codePattern *regexp.Regexp
}

func NewCommandParser() *CommandParser {
	return &CommandParser{
		codePattern: regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`),
	}
}

// Parse decodes the envelope and rejects unknown command types.
func (p *CommandParser) Parse(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	cmd.Type = CommandType(strings.TrimSpace(string(cmd.Type)))
	switch cmd.Type {
	case CommandJoinGame, CommandJoinFacilitator, CommandSubmitDecisions,
		CommandStartCycle, CommandCloseSubmissions, CommandAdvanceCycle, CommandEndGame:
		return cmd, nil
	case "":
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	default:
		return cmd, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
}

// Decode unmarshals the command payload into v. An absent payload leaves v
// at its zero value.
func (p *CommandParser) Decode(cmd Command, v interface{}) error {
	if len(cmd.Data) == 0 || string(cmd.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedCommand, cmd.Type, err)
	}
	return nil
}

// IsGameCode reports whether s has the shape of a join code.
func (p *CommandParser) IsGameCode(s string) bool {
	return p.codePattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

func (t CommandType) FacilitatorOnly() bool {
	return facilitatorCommands[t]
}

func isClientError(err error) bool {
	return errors.Is(err, ErrMalformedCommand) || errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrNotJoined) || errors.Is(err, ErrNotFacilitator)
}
