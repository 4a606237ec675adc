package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/session"
)

type frame struct {
	Type   string          `json:"type"`
	GameID string          `json:"game_id"`
	Data   json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	expect(t, conn, EventConnected)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ CommandType, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(Command{Type: typ, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// expect reads frames until one named typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

// drain returns the names of every frame that arrives within d.
func drain(conn *websocket.Conn, d time.Duration) []string {
	var names []string
	for {
		_ = conn.SetReadDeadline(time.Now().Add(d))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return names
		}
		names = append(names, f.Type)
	}
}

func TestWebsocketGameFlow(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createGame(t, 2)

	facilitator := dial(t, srv)
	send(t, facilitator, CommandJoinFacilitator, JoinFacilitatorRequest{Code: strings.ToLower(created.Game.Code)})
	joined := expect(t, facilitator, EventJoined)
	var fp JoinedPayload
	if err := json.Unmarshal(joined.Data, &fp); err != nil || fp.Role != "facilitator" || fp.Game.Game.ID != created.Game.ID {
		t.Fatalf("facilitator join: %+v %v", fp, err)
	}

	var teams []*websocket.Conn
	for _, name := range []string{"Alpha", "Beta"} {
		conn := dial(t, srv)
		send(t, conn, CommandJoinGame, JoinGameRequest{Code: created.Game.Code, TeamName: name})
		f := expect(t, conn, EventJoined)
		var p JoinedPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.Team == nil || p.Team.Name != name {
			t.Fatalf("team join: %s %v", f.Data, err)
		}
		teams = append(teams, conn)
	}
	expect(t, facilitator, session.EventAllTeamsReady)

	send(t, teams[0], CommandStartCycle, nil)
	errFrame := expect(t, teams[0], session.EventError)
	if !strings.Contains(string(errFrame.Data), ErrNotFacilitator.Error()) {
		t.Fatalf("team start_cycle: %s", errFrame.Data)
	}

	send(t, facilitator, CommandStartCycle, nil)
	started := expect(t, teams[1], session.EventCycleStarted)
	var cs session.CycleStarted
	if err := json.Unmarshal(started.Data, &cs); err != nil || cs.Cycle != 1 || cs.Brief == nil {
		t.Fatalf("cycle_started: %s %v", started.Data, err)
	}

	send(t, teams[0], CommandSubmitDecisions, SubmitDecisionsRequest{DecisionIDs: []string{"bank_agency", "continuous_glucose_monitoring", "sms_reminders"}})
	if f := expect(t, teams[0], session.EventError); !strings.Contains(string(f.Data), "budget") {
		t.Fatalf("over budget: %s", f.Data)
	}

	for _, conn := range teams {
		send(t, conn, CommandSubmitDecisions, SubmitDecisionsRequest{DecisionIDs: []string{"interpreter_service"}})
		accepted := expect(t, conn, EventDecisionsAccepted)
		var sub models.DecisionSubmission
		if err := json.Unmarshal(accepted.Data, &sub); err != nil || sub.Cycle != 1 {
			t.Fatalf("decisions_accepted: %s %v", accepted.Data, err)
		}
	}

	expect(t, facilitator, session.EventResultsReady)
	prompts := expect(t, facilitator, session.EventDebriefPrompts)
	if prompts.GameID != created.Game.ID {
		t.Fatalf("debrief prompts game id: %q", prompts.GameID)
	}
	for _, name := range drain(teams[1], 300*time.Millisecond) {
		if name == session.EventDebriefPrompts {
			t.Fatalf("teams must not receive facilitator prompts")
		}
	}

	send(t, facilitator, CommandAdvanceCycle, nil)
	advanced := expect(t, teams[0], session.EventCycleAdvanced)
	if advanced.GameID != created.Game.ID {
		t.Fatalf("cycle_advanced game id: %q", advanced.GameID)
	}
	send(t, facilitator, CommandEndGame, nil)
	expect(t, teams[1], session.EventGameEnded)
}

func TestWebsocketRejectsBadCommands(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := expect(t, conn, session.EventError); !strings.Contains(string(f.Data), "malformed") {
		t.Fatalf("malformed frame: %s", f.Data)
	}

	send(t, conn, CommandType("dance"), nil)
	if f := expect(t, conn, session.EventError); !strings.Contains(string(f.Data), "unknown command") {
		t.Fatalf("unknown command: %s", f.Data)
	}

	send(t, conn, CommandSubmitDecisions, SubmitDecisionsRequest{})
	if f := expect(t, conn, session.EventError); !strings.Contains(string(f.Data), ErrNotJoined.Error()) {
		t.Fatalf("submit before join: %s", f.Data)
	}

	send(t, conn, CommandJoinGame, JoinGameRequest{Code: "ZZZZZZ", TeamName: "Alpha"})
	if f := expect(t, conn, session.EventError); !strings.Contains(string(f.Data), "not found") {
		t.Fatalf("unknown code: %s", f.Data)
	}

	var health map[string]interface{}
	if code := srv.do(t, http.MethodGet, "/health", nil, &health); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
}
