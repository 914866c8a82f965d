package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/modelgate/modelgate/internal/platform/httpx"
	"github.com/modelgate/modelgate/internal/shared"
)

// GuardFunc builds permission-enforcing middleware for a resource/action
// pair.
type GuardFunc func(resource, action string) func(http.Handler) http.Handler

// CleanupEnqueuer hands a purge off to the background queue and returns the
// queued task id.
type CleanupEnqueuer interface {
	EnqueueCleanup(ctx context.Context, retentionDays int) (string, error)
}

// Handler exposes the audit trail endpoints.
type Handler struct {
	svc      *Service
	queue    CleanupEnqueuer
	exporter *Exporter
	validate *validator.Validate
}

// NewHandler constructs a Handler. queue may be nil; cleanup then runs
// synchronously in the request.
func NewHandler(svc *Service, queue CleanupEnqueuer) *Handler {
	return &Handler{svc: svc, queue: queue, exporter: NewExporter(), validate: validator.New()}
}

// Routes mounts /audit.
func (h *Handler) Routes(require GuardFunc) chi.Router {
	r := chi.NewRouter()
	r.With(require("audit", "read")).Get("/", h.list)
	r.With(require("audit", "read")).Get("/stats", h.stats)
	r.With(require("audit", "read")).Get("/export.csv", h.exportCSV)
	r.With(require("audit", "delete")).Post("/cleanup", h.cleanup)
	return r
}

type recordResponse struct {
	ID           string         `json:"id"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	ActorName    string         `json:"actor_name,omitempty"`
	Action       string         `json:"action"`
	Level        string         `json:"level"`
	Description  string         `json:"description"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Outcome      string         `json:"outcome"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IP           string         `json:"ip,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	StorageTier  string         `json:"storage_tier"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	records, pagination, err := h.svc.Query(r.Context(), f, page, pageSize)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for i := range records {
		out = append(out, recordView(&records[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"records": out,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "since must be RFC 3339")
			return
		}
		since = parsed
	}
	stats, err := h.svc.Stats(r.Context(), since)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"since":      since,
		"total":      stats.Total,
		"by_outcome": stats.ByOutcome,
		"by_level":   stats.ByLevel,
		"by_action":  stats.ByAction,
	})
}

// exportCSV streams the filtered trail as CSV. The export itself is an
// auditable event.
func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	records, err := h.svc.Export(r.Context(), f)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	data, err := h.exporter.WriteCSV(records)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	rc := shared.RequestFromContext(r.Context())
	actorID := rc.PrincipalID
	h.svc.Record(r.Context(), Entry{
		Action:    ActionAuditExport,
		ActorID:   &actorID,
		ActorName: rc.Email,
		Outcome:   OutcomeSuccess,
		Context:   rc,
		Metadata:  map[string]any{"record_count": len(records)},
	})

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"required,min=1"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, err)
		return
	}
	if req.RetentionDays < MinRetentionDays {
		httpx.Error(w, shared.BusinessRule("retention below the %d day floor", MinRetentionDays))
		return
	}

	rc := shared.RequestFromContext(r.Context())
	actorID := rc.PrincipalID

	if h.queue != nil {
		taskID, err := h.queue.EnqueueCleanup(r.Context(), req.RetentionDays)
		if err != nil {
			httpx.Error(w, err)
			return
		}
		h.svc.Record(r.Context(), Entry{
			Action:    ActionAuditPurge,
			ActorID:   &actorID,
			ActorName: rc.Email,
			Outcome:   OutcomeSuccess,
			Context:   rc,
			Metadata: map[string]any{
				"retention_days": req.RetentionDays,
				"task_id":        taskID,
			},
		})
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}

	deleted, err := h.svc.Cleanup(r.Context(), req.RetentionDays)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	h.svc.Record(r.Context(), Entry{
		Action:    ActionAuditPurge,
		ActorID:   &actorID,
		ActorName: rc.Email,
		Outcome:   OutcomeSuccess,
		Context:   rc,
		Metadata: map[string]any{
			"retention_days":  req.RetentionDays,
			"records_deleted": deleted,
		},
	})

	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		Outcome:      q.Get("outcome"),
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Filter{}, err
		}
		f.ActorID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, err
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filter{}, err
		}
		f.To = t
	}
	return f, nil
}

func recordView(rec *Record) recordResponse {
	return recordResponse{
		ID:           rec.ID.String(),
		ActorID:      rec.ActorID,
		ActorName:    rec.ActorName,
		Action:       string(rec.Action),
		Level:        string(Classify(rec.Action)),
		Description:  rec.Description,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Outcome:      string(rec.Outcome),
		ErrorMessage: rec.ErrorMessage,
		IP:           rec.IP,
		RequestID:    rec.RequestID,
		Metadata:     rec.Metadata,
		StorageTier:  string(rec.StorageTier),
		CreatedAt:    rec.CreatedAt,
	}
}
