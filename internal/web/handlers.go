package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
	"safe-by-design/server/internal/models"
	"safe-by-design/server/internal/session"
)

const defaultEventsLimit = 50

type Handlers struct {
	manager  *session.Manager
	hub      *Hub
	events   interfaces.EventLog
	parser   *CommandParser
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandlers wires the HTTP and websocket surface. events may be nil.
func NewHandlers(manager *session.Manager, hub *Hub, events interfaces.EventLog, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{
		manager: manager,
		hub:     hub,
		events:  events,
		parser:  NewCommandParser(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow all origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With("component", "web"),
	}
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// NewRouter mounts the REST API, the websocket endpoint and health check.
// allowOrigin is sent as the CORS origin; empty allows any.
func NewRouter(h *Handlers, allowOrigin string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(corsMiddleware(allowOrigin))

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/decisions", h.ListDecisions)
		r.Get("/cycles/{cycle}/brief", h.GetBrief)

		r.Post("/games", h.CreateGame)
		r.Route("/games/{gameID}", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Post("/teams", h.JoinGame)
			r.Post("/teams/{teamID}/decisions", h.SubmitDecisions)
			r.Post("/start", h.StartCycle)
			r.Post("/close", h.CloseSubmissions)
			r.Post("/advance", h.AdvanceCycle)
			r.Post("/end", h.EndGame)
			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/events", h.RecentEvents)
			r.Get("/prompts/{cycle}", h.CyclePrompts)
			r.Get("/debrief", h.Debrief)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps validation errors to 400 and lookups to 404. Anything else
// is logged and hidden behind a 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case session.IsValidation(err) || isClientError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case session.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handlers) decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return nil
}

// gameID accepts either a game id or a join code in the URL.
func (h *Handlers) gameID(ctx context.Context, r *http.Request) (string, error) {
	key := chi.URLParam(r, "gameID")
	if _, err := h.manager.Game(ctx, key); err == nil {
		return key, nil
	} else if !session.IsNotFound(err) || !h.parser.IsGameCode(key) {
		return "", err
	}
	return h.manager.GameByCode(ctx, key)
}

func cycleParam(r *http.Request) (int, error) {
	cycle, err := strconv.Atoi(chi.URLParam(r, "cycle"))
	if err != nil {
		return 0, session.ErrCycleOutOfRange
	}
	if cycle < 1 || cycle > models.TotalCycles {
		return 0, session.ErrCycleOutOfRange
	}
	return cycle, nil
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "safe-by-design",
		"hub":     h.hub.Stats(),
	})
}

func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": h.manager.Library().Decisions(),
		"budget":    h.manager.Rules().Budget,
	})
}

func (h *Handlers) GetBrief(w http.ResponseWriter, r *http.Request) {
	cycle, err := cycleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	brief, ok := h.manager.Library().Brief(cycle)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no brief for cycle"})
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

func (h *Handlers) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.manager.CreateGame(r.Context(), req.NumberOfTeams, req.FacilitatorName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.manager.Game(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type joinResponse struct {
	Game session.State `json:"game"`
	Team models.Team   `json:"team"`
}

func (h *Handlers) JoinGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req JoinGameRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.manager.Game(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, team, err := h.manager.JoinGame(r.Context(), st.Game.Code, req.TeamName, req.Roles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{Game: st, Team: team})
}

func (h *Handlers) SubmitDecisions(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req SubmitDecisionsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sub, err := h.manager.SubmitDecisions(r.Context(), id, chi.URLParam(r, "teamID"), req.DecisionIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) gameAction(action func(context.Context, string) (session.State, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := h.gameID(r.Context(), r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		st, err := action(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (h *Handlers) StartCycle(w http.ResponseWriter, r *http.Request) {
	h.gameAction(h.manager.StartCycle)(w, r)
}

func (h *Handlers) CloseSubmissions(w http.ResponseWriter, r *http.Request) {
	h.gameAction(h.manager.CloseSubmissions)(w, r)
}

func (h *Handlers) AdvanceCycle(w http.ResponseWriter, r *http.Request) {
	h.gameAction(h.manager.AdvanceCycle)(w, r)
}

func (h *Handlers) EndGame(w http.ResponseWriter, r *http.Request) {
	h.gameAction(h.manager.EndGame)(w, r)
}

func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	board, err := h.manager.Leaderboard(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": board})
}

func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit := int64(defaultEventsLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	events := []interfaces.LoggedEvent{}
	if h.events != nil {
		events, err = h.events.Recent(r.Context(), id, limit)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handlers) CyclePrompts(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cycle, err := cycleParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	prompts, err := h.manager.CyclePrompts(r.Context(), id, cycle)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *Handlers) Debrief(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	prompts, err := h.manager.Debrief(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}
