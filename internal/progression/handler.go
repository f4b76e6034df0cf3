package progression

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/telemetry/metrics"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"
	"github.com/forgefit/forgefit/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type programGetter interface {
	Get(ctx context.Context, id string) (*program.Program, error)
}

// Handler drives the per-user workout session: start, advance, complete
// exercises and rounds, control the AMRAP timer.
type Handler struct {
	programs       programGetter
	registry       *Registry
	metricsManager *metrics.Manager
}

func NewHandler(programs programGetter, registry *Registry, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		programs:       programs,
		registry:       registry,
		metricsManager: metricsManager,
	}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/{userId}/start", h.HandleStart).Methods("POST", "OPTIONS").Name("session-start")
	r.HandleFunc("/{userId}", h.HandleState).Methods("GET", "OPTIONS").Name("session-state")
	r.HandleFunc("/{userId}/exercise/complete", h.HandleCompleteExercise).Methods("POST", "OPTIONS").Name("session-complete-exercise")
	r.HandleFunc("/{userId}/advance", h.HandleAdvance).Methods("POST", "OPTIONS").Name("session-advance")
	r.HandleFunc("/{userId}/round/complete", h.HandleCompleteRound).Methods("POST", "OPTIONS").Name("session-complete-round")
	r.HandleFunc("/{userId}/timer", h.HandleTimer).Methods("POST", "OPTIONS").Name("session-timer")
	r.HandleFunc("/{userId}/end", h.HandleEnd).Methods("POST", "OPTIONS").Name("session-end")
}

type StartSessionRequest struct {
	ProgramID string `json:"programId"`
	Milestone int    `json:"milestone"`
	Day       int    `json:"day"`
}

type AdvanceRequest struct {
	TimeRemainingSeconds *int `json:"timeRemainingSeconds,omitempty"`
}

type AdvanceResponse struct {
	Result  AdvanceResult `json:"result"`
	Session State         `json:"session"`
}

type TimerRequest struct {
	// Action is one of: start, update, pause, resume, stop.
	Action           string `json:"action"`
	Minutes          int    `json:"minutes,omitempty"`
	SecondsRemaining *int   `json:"secondsRemaining,omitempty"`
}

type SessionResponse struct {
	Session                    State `json:"session"`
	IsCurrentDayComplete       bool  `json:"isCurrentDayComplete"`
	ShouldTriggerDayCompletion bool  `json:"shouldTriggerDayCompletion"`
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.start")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	userID := mux.Vars(r)["userId"]
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("start session, unmarshal json params: %s", err)
		http.Error(w, "start session failed", http.StatusBadRequest)
		return
	}

	p, err := h.programs.Get(ctx, req.ProgramID)
	if err != nil {
		if errors.Is(err, program.ErrProgramNotFound) {
			http.Error(w, "program not found", http.StatusNotFound)
			return
		}
		log.Errorf("start session, get program %s: %s", req.ProgramID, err)
		http.Error(w, "start session failed", http.StatusInternalServerError)
		return
	}

	pos := program.Position{Milestone: req.Milestone, Day: req.Day}
	day := p.DayAt(pos)
	if day == nil {
		http.Error(w, "invalid program position", http.StatusBadRequest)
		return
	}
	if day.Type != program.DayTypeWorkout {
		http.Error(w, "cannot start a session on a rest day", http.StatusBadRequest)
		return
	}

	session := h.registry.ForUser(userID)
	session.Start(day)
	if day.IsAmrap && day.AmrapDurationMinutes > 0 {
		session.StartAmrapTimer(day.AmrapDurationMinutes)
	}

	log.Debugf("session started for user %s: program %s, milestone %d, day %d",
		userID, req.ProgramID, req.Milestone, req.Day)
	h.metricsManager.GaugeActiveSessions.Set(float64(h.registry.ActiveCount()))

	h.writeSession(w, session)
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.state")
	defer span.End()

	session := h.registry.ForUser(mux.Vars(r)["userId"])
	h.writeSession(w, session)
}

type CompleteExerciseRequest struct {
	ExerciseID        string   `json:"exerciseId"`
	CompletionPercent *float64 `json:"completionPercent,omitempty"`
}

func (h *Handler) HandleCompleteExercise(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.completeExercise")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	var req CompleteExerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("complete exercise, unmarshal json params: %s", err)
		http.Error(w, "complete exercise failed", http.StatusBadRequest)
		return
	}
	if req.ExerciseID == "" {
		http.Error(w, "error, exercise id empty", http.StatusBadRequest)
		return
	}

	session := h.registry.ForUser(userID)
	if !session.IsActive() {
		http.Error(w, "no active session", http.StatusConflict)
		return
	}

	if req.CompletionPercent != nil {
		session.RecordExerciseData(req.ExerciseID, *req.CompletionPercent)
	}
	session.CompleteExercise(req.ExerciseID)
	h.writeSession(w, session)
}

func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.advance")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("advance session, unmarshal json params: %s", err)
		http.Error(w, "advance failed", http.StatusBadRequest)
		return
	}

	session := h.registry.ForUser(userID)
	if !session.IsActive() {
		http.Error(w, "no active session", http.StatusConflict)
		return
	}

	var result AdvanceResult
	day := session.Day()
	if day != nil && day.IsAmrap {
		if req.TimeRemainingSeconds == nil {
			http.Error(w, "timeRemainingSeconds required for amrap days", http.StatusBadRequest)
			return
		}
		session.UpdateAmrapTimer(*req.TimeRemainingSeconds)
		result = session.AdvanceAmrap(*req.TimeRemainingSeconds)
	} else {
		if session.AdvanceToNextExercise() {
			result = AdvanceNextExercise
		} else {
			result = AdvanceDayComplete
		}
	}

	respJson, err := json.Marshal(AdvanceResponse{Result: result, Session: session.Snapshot()})
	if err != nil {
		log.Errorf("marshal advance response: %s", err)
		http.Error(w, "advance failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleCompleteRound(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.completeRound")
	defer span.End()

	session := h.registry.ForUser(mux.Vars(r)["userId"])
	if !session.IsActive() {
		http.Error(w, "no active session", http.StatusConflict)
		return
	}
	if !session.CompleteRound() {
		http.Error(w, "rounds only exist on amrap days", http.StatusBadRequest)
		return
	}
	h.writeSession(w, session)
}

func (h *Handler) HandleTimer(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.timer")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	var req TimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("session timer, unmarshal json params: %s", err)
		http.Error(w, "timer update failed", http.StatusBadRequest)
		return
	}

	session := h.registry.ForUser(userID)
	if !session.IsActive() {
		http.Error(w, "no active session", http.StatusConflict)
		return
	}

	switch req.Action {
	case "start":
		if req.Minutes <= 0 {
			http.Error(w, "error, timer minutes must be positive", http.StatusBadRequest)
			return
		}
		session.StartAmrapTimer(req.Minutes)
	case "update":
		if req.SecondsRemaining == nil {
			http.Error(w, "error, secondsRemaining missing", http.StatusBadRequest)
			return
		}
		session.UpdateAmrapTimer(*req.SecondsRemaining)
	case "pause":
		session.PauseAmrapTimer()
	case "resume":
		session.ResumeAmrapTimer()
	case "stop":
		session.StopAmrapTimer()
	default:
		http.Error(w, "unknown timer action", http.StatusBadRequest)
		return
	}

	h.writeSession(w, session)
}

func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.session.end")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	h.registry.Drop(userID)
	h.metricsManager.GaugeActiveSessions.Set(float64(h.registry.ActiveCount()))
	log.Debugf("session ended for user %s", userID)
	pkg.WriteJSONResponseOK(w, `{"ended":true}`)
}

func (h *Handler) writeSession(w http.ResponseWriter, session *Session) {
	resp := SessionResponse{
		Session:                    session.Snapshot(),
		IsCurrentDayComplete:       session.IsCurrentDayComplete(),
		ShouldTriggerDayCompletion: session.ShouldTriggerDayCompletion(session.AmrapSecondsRemaining()),
	}
	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("marshal session response: %s", err)
		http.Error(w, "session response failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
