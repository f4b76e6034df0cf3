package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/forgefit/forgefit/internal/telemetry/tracing"
	"github.com/forgefit/forgefit/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Handler is the admin-facing audit surface: querying, stats, export and
// retention cleanup.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager: manager,
	}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("", h.HandleQuery).Methods("GET", "OPTIONS").Name("audit-query")
	r.HandleFunc("/stats", h.HandleStats).Methods("GET", "OPTIONS").Name("audit-stats")
	r.HandleFunc("/export", h.HandleExport).Methods("GET", "OPTIONS").Name("audit-export")
	r.HandleFunc("/cleanup", h.HandleCleanup).Methods("POST", "OPTIONS").Name("audit-cleanup")
}

func queryFromRequest(r *http.Request) Query {
	params := r.URL.Query()
	q := Query{
		UserID:     params.Get("userId"),
		ProgramID:  params.Get("programId"),
		Action:     Action(params.Get("action")),
		EntityType: params.Get("entityType"),
		Status:     Status(params.Get("status")),
		Source:     params.Get("source"),
	}
	if limit, err := strconv.Atoi(params.Get("limit")); err == nil {
		q.Limit = limit
	}
	if page, err := strconv.Atoi(params.Get("page")); err == nil {
		q.Page = page
	}
	if from, err := time.Parse(time.RFC3339, params.Get("from")); err == nil {
		q.From = &from
	}
	if to, err := time.Parse(time.RFC3339, params.Get("to")); err == nil {
		q.To = &to
	}
	return q
}

type QueryEntriesResponse struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.audit.query")
	defer span.End()

	entries, err := h.manager.QueryEntries(ctx, queryFromRequest(r))
	if err != nil {
		log.Errorf("query audit entries: %s", err)
		http.Error(w, "query audit entries failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(QueryEntriesResponse{Entries: entries, Total: len(entries)})
	if err != nil {
		log.Errorf("marshal audit entries: %s", err)
		http.Error(w, "query audit entries failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.audit.stats")
	defer span.End()

	stats, err := h.manager.GetStats(ctx, queryFromRequest(r))
	if err != nil {
		log.Errorf("audit stats: %s", err)
		http.Error(w, "audit stats failed", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(stats)
	if err != nil {
		log.Errorf("marshal audit stats: %s", err)
		http.Error(w, "audit stats failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.audit.export")
	defer span.End()

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportJSON
	}

	data, err := h.manager.Export(ctx, queryFromRequest(r), format)
	if err != nil {
		log.Errorf("audit export: %s", err)
		http.Error(w, "audit export failed", http.StatusBadRequest)
		return
	}

	contentType := pkg.ContentType.JSON
	if format == ExportCSV {
		contentType = pkg.ContentType.Text
	}
	pkg.WriteResponseBytesOK(w, contentType, data)
}

type CleanupRequest struct {
	RetentionDays int `json:"retentionDays"`
}

type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.audit.cleanup")
	defer span.End()

	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("audit cleanup, unmarshal json params: %s", err)
		http.Error(w, "audit cleanup failed", http.StatusBadRequest)
		return
	}

	deleted, err := h.manager.Cleanup(ctx, req.RetentionDays)
	if err != nil {
		log.Errorf("audit cleanup: %s", err)
		http.Error(w, "audit cleanup failed", http.StatusBadRequest)
		return
	}

	respJson, err := json.Marshal(CleanupResponse{Deleted: deleted})
	if err != nil {
		log.Errorf("marshal audit cleanup response: %s", err)
		http.Error(w, "audit cleanup failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
