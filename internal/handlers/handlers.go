package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hearlab/listentest/internal/models"
	"github.com/hearlab/listentest/internal/registry"
	"github.com/hearlab/listentest/internal/session"
	"github.com/hearlab/listentest/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // participants connect from the local network
	},
}

// Handler wires the transport to the session core.
type Handler struct {
	registry *registry.Registry
	session  *session.Session
	store    store.Supplier
	log      *zap.Logger
}

// NewHandler creates the HTTP/WebSocket handler.
func NewHandler(reg *registry.Registry, sess *session.Session, st store.Supplier, log *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		session:  sess,
		store:    st,
		log:      log,
	}
}

// WebSocketHandler upgrades the connection, registers the participant
// and runs its read loop until disconnect.
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	role := models.RoleRespondent
	if r.URL.Query().Get("role") == string(models.RoleController) {
		role = models.RoleController
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	p := h.registry.Register(conn, role)
	h.log.Info("websocket connection established",
		zap.String("participant_id", p.ID),
		zap.String("role", string(role)),
		zap.String("remote_addr", r.RemoteAddr))

	h.sendJoinSnapshot(p)
	if role == models.RoleRespondent {
		h.registry.Broadcast(registry.TargetControllers, models.Envelope{
			Type: models.TypeParticipantJoined,
			Payload: models.ParticipantJoinedPayload{
				ID:               p.ID,
				ParticipantCount: h.registry.RespondentCount(),
			},
		})
	}

	defer func() {
		h.registry.Unregister(p.ID)
		if role == models.RoleRespondent {
			h.registry.Broadcast(registry.TargetControllers, models.Envelope{
				Type: models.TypeParticipantLeft,
				Payload: models.ParticipantLeftPayload{
					ID:               p.ID,
					ParticipantCount: h.registry.RespondentCount(),
				},
			})
		}
		h.log.Info("websocket connection closed", zap.String("participant_id", p.ID))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(p, data)
	}
}

// sendJoinSnapshot gives a new or rejoining connection the full state
// of any active session.
func (h *Handler) sendJoinSnapshot(p *models.Participant) {
	snap := h.session.Snapshot()
	if snap.StageState.State == models.StateIdle || snap.Definition == nil {
		return
	}

	h.registry.SendTo(p.ID, models.Envelope{
		Type: models.TypeTestStart,
		Payload: models.TestStartPayload{
			Definition: snap.Definition,
			StageState: snap.StageState,
		},
	})
	if p.Role == models.RoleController {
		stats := h.session.Stats()
		h.registry.SendTo(p.ID, models.Envelope{
			Type: models.TypeStatsUpdate,
			Payload: models.StatsUpdatePayload{
				QuestionStats: stats.QuestionStats,
				OverallStats:  stats.OverallStats,
			},
		})
	}
}

// dispatch routes one inbound frame. A malformed frame is discarded
// with an error reply; the connection stays up.
func (h *Handler) dispatch(p *models.Participant, data []byte) {
	env, payload, err := models.DecodeInbound(data)
	if err != nil {
		h.log.Warn("malformed message discarded",
			zap.String("participant_id", p.ID),
			zap.Error(err))
		h.sendError(p.ID, "malformed-message", err.Error())
		return
	}

	switch env.Type {
	case models.TypeAnswer:
		h.handleAnswer(p, payload.(*models.AnswerPayload))
	case models.TypeStartTest:
		h.handleCommand(p, env.Type, func() error {
			return h.startTest(payload.(*models.StartTestPayload))
		})
	case models.TypePauseTest:
		h.handleCommand(p, env.Type, h.session.Pause)
	case models.TypeResumeTest:
		h.handleCommand(p, env.Type, h.session.Resume)
	case models.TypeStopTest:
		h.handleCommand(p, env.Type, h.session.Stop)
	case models.TypeNextQuestion:
		h.handleCommand(p, env.Type, h.session.Advance)
	}
}

// handleCommand runs a controller command and reports a rejection back
// to the issuing connection only.
func (h *Handler) handleCommand(p *models.Participant, msgType string, run func() error) {
	if p.Role != models.RoleController {
		h.log.Warn("command from non-controller rejected",
			zap.String("participant_id", p.ID),
			zap.String("msg_type", msgType))
		h.sendError(p.ID, "forbidden", "controller role required")
		return
	}

	if err := run(); err != nil {
		h.log.Warn("command rejected",
			zap.String("participant_id", p.ID),
			zap.String("msg_type", msgType),
			zap.Error(err))
		code := session.RejectionCode(err)
		if code == "" {
			code = "invalid-state"
		}
		h.sendError(p.ID, code, err.Error())
	}
}

// startTest resolves the definition, inline or by stored name.
func (h *Handler) startTest(payload *models.StartTestPayload) error {
	def := payload.Definition
	if def == nil {
		if payload.Name == "" {
			return fmt.Errorf("start-test needs a definition or a stored name: %w", session.ErrInvalidDefinition)
		}
		loaded, err := h.store.Load(payload.Name)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", session.ErrDefinitionNotFound, payload.Name, err)
		}
		def = loaded
	}
	return h.session.Start(*def)
}

func (h *Handler) handleAnswer(p *models.Participant, payload *models.AnswerPayload) {
	if p.Role != models.RoleRespondent {
		h.log.Warn("answer from non-respondent rejected",
			zap.String("participant_id", p.ID),
			zap.String("role", string(p.Role)))
		h.registry.SendTo(p.ID, models.Envelope{
			Type: models.TypeAnswerResult,
			Payload: models.AnswerResultPayload{
				Rejected: true,
				Reason:   "forbidden",
			},
		})
		return
	}

	_, err := h.session.SubmitAnswer(p.ID, payload.QuestionID, payload.Option, payload.ClientTimestamp)
	if err != nil {
		h.log.Info("answer rejected",
			zap.String("participant_id", p.ID),
			zap.Int("question_id", payload.QuestionID),
			zap.Error(err))
		h.registry.SendTo(p.ID, models.Envelope{
			Type: models.TypeAnswerResult,
			Payload: models.AnswerResultPayload{
				Rejected: true,
				Reason:   session.RejectionCode(err),
			},
		})
	}
}

func (h *Handler) sendError(participantID, code, message string) {
	h.registry.SendTo(participantID, models.Envelope{
		Type:    models.TypeError,
		Payload: models.ErrorPayload{Code: code, Message: message},
	})
}

// ---- definition REST API ----

// ListTestsHandler returns the stored definition names.
func (h *Handler) ListTestsHandler(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List()
	if err != nil {
		h.log.Error("list definitions failed", zap.Error(err))
		http.Error(w, "could not list definitions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"tests": names})
}

// GetTestHandler returns one stored definition.
func (h *Handler) GetTestHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := h.store.Load(name)
	if err != nil {
		h.log.Warn("definition not found", zap.String("name", name), zap.Error(err))
		http.Error(w, fmt.Sprintf("definition not found: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, def)
}

// SaveTestHandler validates and stores a definition.
func (h *Handler) SaveTestHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var def models.TestDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, fmt.Sprintf("invalid definition body: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.store.Save(name, &def); err != nil {
		h.log.Warn("definition rejected", zap.String("name", name), zap.Error(err))
		http.Error(w, fmt.Sprintf("definition rejected: %v", err), http.StatusBadRequest)
		return
	}
	h.log.Info("definition saved", zap.String("name", name), zap.Int("questions", len(def.Questions)))
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler reports liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "session": string(h.session.State())})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
