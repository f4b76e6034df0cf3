package program

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgefit/forgefit/internal/telemetry/tracing"
	"github.com/forgefit/forgefit/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Handler exposes the program catalog. Catalog editing is routine CRUD;
// the interesting validation lives in consistency.go and repair.go.
type Handler struct {
	repo *Repo
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{
		repo: repo,
	}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/programs", h.HandleList).Methods("GET", "OPTIONS").Name("list-programs")
	r.HandleFunc("/programs", h.HandleAdd).Methods("POST", "OPTIONS").Name("new-program")
	r.HandleFunc("/programs/{id}", h.HandleGet).Methods("GET", "OPTIONS").Name("get-program")
	r.HandleFunc("/programs/{id}", h.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-program")
	r.HandleFunc("/programs/{id}", h.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-program")
}

type ListProgramsResponse struct {
	Programs []Program `json:"programs"`
	Total    int       `json:"total"`
}

type DeleteProgramResponse struct {
	DeletedID string `json:"deletedId"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.program.list")
	defer span.End()

	publishedOnly := r.URL.Query().Get("all") != "true"
	programs, err := h.repo.List(ctx, publishedOnly)
	if err != nil {
		log.Errorf("list programs: %s", err)
		http.Error(w, "list programs failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(ListProgramsResponse{Programs: programs, Total: len(programs)})
	if err != nil {
		log.Errorf("marshal programs list: %s", err)
		http.Error(w, "list programs failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.program.get")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, program id empty", http.StatusBadRequest)
		return
	}

	p, err := h.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProgramNotFound) {
			http.Error(w, "program not found", http.StatusNotFound)
			return
		}
		log.Errorf("get program %s: %s", id, err)
		http.Error(w, "get program failed", http.StatusInternalServerError)
		return
	}

	pJson, err := json.Marshal(p)
	if err != nil {
		log.Errorf("marshal program %s: %s", id, err)
		http.Error(w, "get program failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, pJson)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.program.add")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var p Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		log.Errorf("new program, unmarshal json params: %s", err)
		http.Error(w, "add program failed", http.StatusBadRequest)
		return
	}

	if p.Name == "" {
		http.Error(w, "error, program name empty", http.StatusBadRequest)
		return
	}
	if structureErr := validateStructure(&p); structureErr != "" {
		http.Error(w, "invalid program structure: "+structureErr, http.StatusBadRequest)
		return
	}

	added, err := h.repo.Add(ctx, p)
	if err != nil {
		log.Errorf("failed to add new program [%s]: %s", p.Name, err)
		http.Error(w, "error, failed to add new program", http.StatusInternalServerError)
		return
	}

	log.Debugf("new program added: [%s]: %s", added.Name, added.ID)

	addedJson, err := json.Marshal(added)
	if err != nil {
		log.Errorf("failed to marshal new program: %s", err)
		http.Error(w, "error, failed to add new program", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, addedJson, http.StatusCreated)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.program.update")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, program id empty", http.StatusBadRequest)
		return
	}

	var p Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		log.Errorf("update program, unmarshal json params: %s", err)
		http.Error(w, "update program failed", http.StatusBadRequest)
		return
	}
	p.ID = id

	if structureErr := validateStructure(&p); structureErr != "" {
		http.Error(w, "invalid program structure: "+structureErr, http.StatusBadRequest)
		return
	}

	if err := h.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrProgramNotFound) {
			http.Error(w, "program not found", http.StatusNotFound)
			return
		}
		log.Errorf("update program %s: %s", id, err)
		http.Error(w, "update program failed", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSONResponseOK(w, `{"updatedId":"`+id+`"}`)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.program.delete")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, program id empty", http.StatusBadRequest)
		return
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrProgramNotFound) {
			http.Error(w, "program not found", http.StatusNotFound)
			return
		}
		log.Errorf("delete program %s: %s", id, err)
		http.Error(w, "delete program failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(DeleteProgramResponse{DeletedID: id})
	if err != nil {
		log.Errorf("marshal delete program response: %s", err)
		http.Error(w, "delete program failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
