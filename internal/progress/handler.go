package progress

import (
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

// Handler is the progress HTTP surface: reads with derived metrics, the
// validated update flow, exercise/day completion and repair.
type Handler struct {
	service        *Service
	metricsManager *metrics.Manager
}

func NewHandler(service *Service, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		service:        service,
		metricsManager: metricsManager,
	}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/{userId}", h.HandleGet).Methods("GET", "OPTIONS").Name("get-progress")
	r.HandleFunc("/{userId}", h.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-progress")
	r.HandleFunc("/{userId}/enroll", h.HandleEnroll).Methods("POST", "OPTIONS").Name("enroll")
	r.HandleFunc("/{userId}/exercise/complete", h.HandleCompleteExercise).Methods("POST", "OPTIONS").Name("complete-exercise")
	r.HandleFunc("/{userId}/day/complete", h.HandleCompleteDay).Methods("POST", "OPTIONS").Name("complete-day")
	r.HandleFunc("/{userId}/validate", h.HandleValidate).Methods("GET", "OPTIONS").Name("validate-progress")
	r.HandleFunc("/{userId}/repair", h.HandleRepair).Methods("POST", "OPTIONS").Name("repair-progress")
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.get")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	overview, err := h.service.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			http.Error(w, "progress not found", http.StatusNotFound)
			return
		}
		log.Errorf("get progress for %s: %s", userID, err)
		http.Error(w, "get progress failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(overview)
	if err != nil {
		log.Errorf("marshal progress overview: %s", err)
		http.Error(w, "get progress failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

type EnrollRequest struct {
	ProgramID string `json:"programId"`
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.enroll")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	userID := mux.Vars(r)["userId"]
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("enroll, unmarshal json params: %s", err)
		http.Error(w, "enroll failed", http.StatusBadRequest)
		return
	}
	if req.ProgramID == "" {
		http.Error(w, "error, program id empty", http.StatusBadRequest)
		return
	}

	up, err := h.service.Enroll(ctx, userID, req.ProgramID)
	if err != nil {
		switch {
		case errors.Is(err, program.ErrProgramNotFound):
			http.Error(w, "program not found", http.StatusNotFound)
		case errors.Is(err, ErrAlreadyEnrolled):
			http.Error(w, "user already enrolled", http.StatusConflict)
		default:
			log.Errorf("enroll %s in %s: %s", userID, req.ProgramID, err)
			http.Error(w, "enroll failed", http.StatusInternalServerError)
		}
		return
	}

	respJson, err := json.Marshal(up)
	if err != nil {
		log.Errorf("marshal enrolled progress: %s", err)
		http.Error(w, "enroll failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusCreated)
}

// UpdateRequest is the validated update call. Expected is the progress
// snapshot the client based the update on, used for conflict detection.
type UpdateRequest struct {
	Expected *UserProgress  `json:"expected,omitempty"`
	Proposed ProposedUpdate `json:"proposed"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.update")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	userID := mux.Vars(r)["userId"]
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("update progress, unmarshal json params: %s", err)
		http.Error(w, "update progress failed", http.StatusBadRequest)
		return
	}
	if req.Proposed.ProgramID == "" {
		http.Error(w, "error, program id empty", http.StatusBadRequest)
		return
	}

	res, err := h.service.Update(ctx, userID, req.Expected, req.Proposed)
	if err != nil {
		switch {
		case errors.Is(err, ErrProgressNotFound):
			http.Error(w, "progress not found", http.StatusNotFound)
		case errors.Is(err, program.ErrProgramNotFound):
			http.Error(w, "program not found", http.StatusNotFound)
		default:
			log.Errorf("update progress for %s: %s", userID, err)
			http.Error(w, "update progress failed", http.StatusInternalServerError)
		}
		return
	}

	respJson, err := json.Marshal(res)
	if err != nil {
		log.Errorf("marshal update result: %s", err)
		http.Error(w, "update progress failed", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if res.Committed {
		h.metricsManager.CounterProgressUpdates.Inc()
	} else {
		h.metricsManager.CounterProgressRejections.Inc()
		// rejected by validation; conflicts get their own status
		statusCode = http.StatusUnprocessableEntity
		for _, issue := range res.Validation.Errors {
			if issue.RuleID == "concurrent_update_detection" {
				statusCode = http.StatusConflict
				break
			}
		}
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, statusCode)
}

func (h *Handler) HandleCompleteExercise(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.completeExercise")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	var params CompleteExerciseParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		log.Errorf("complete exercise, unmarshal json params: %s", err)
		http.Error(w, "complete exercise failed", http.StatusBadRequest)
		return
	}
	if params.ProgramID == "" || params.ExerciseID == "" {
		http.Error(w, "error, program id or exercise id empty", http.StatusBadRequest)
		return
	}

	completion, err := h.service.CompleteExercise(ctx, userID, params)
	if err != nil {
		log.Errorf("complete exercise for %s: %s", userID, err)
		http.Error(w, "complete exercise failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(completion)
	if err != nil {
		log.Errorf("marshal exercise completion: %s", err)
		http.Error(w, "complete exercise failed", http.StatusInternalServerError)
		return
	}
	h.metricsManager.CounterExerciseCompletions.Inc()
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusCreated)
}

func (h *Handler) HandleCompleteDay(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.completeDay")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	res, err := h.service.CompleteDay(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			http.Error(w, "progress not found", http.StatusNotFound)
			return
		}
		log.Errorf("complete day for %s: %s", userID, err)
		http.Error(w, "complete day failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(res)
	if err != nil {
		log.Errorf("marshal complete day result: %s", err)
		http.Error(w, "complete day failed", http.StatusInternalServerError)
		return
	}
	statusCode := http.StatusOK
	if res.Committed {
		h.metricsManager.CounterDayCompletions.Inc()
	} else {
		statusCode = http.StatusUnprocessableEntity
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, statusCode)
}

func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.validate")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	res, err := h.service.ValidateStored(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			http.Error(w, "progress not found", http.StatusNotFound)
			return
		}
		log.Errorf("validate progress for %s: %s", userID, err)
		http.Error(w, "validate progress failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(res)
	if err != nil {
		log.Errorf("marshal validation result: %s", err)
		http.Error(w, "validate progress failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleRepair(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.repair")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	var params ApplyRepairParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		log.Errorf("repair progress, unmarshal json params: %s", err)
		http.Error(w, "repair progress failed", http.StatusBadRequest)
		return
	}

	up, err := h.service.ApplyRepair(ctx, userID, params)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			http.Error(w, "progress not found", http.StatusNotFound)
			return
		}
		log.Errorf("repair progress for %s: %s", userID, err)
		http.Error(w, "repair progress failed", http.StatusBadRequest)
		return
	}

	respJson, err := json.Marshal(up)
	if err != nil {
		log.Errorf("marshal repaired progress: %s", err)
		http.Error(w, "repair progress failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
