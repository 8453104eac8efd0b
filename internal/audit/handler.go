package audit

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

const (
	dateLayout       = "2006-01-02"
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
	exportLimit      = 10
	exportWindow     = time.Minute
)

// Handler serves the audit trail.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds an audit Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

// MountRoutes registers the timeline and its CSV export. Exports are rate
// limited per principal.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermAuditView)).Get("/", h.timeline)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermAuditExport))
		r.Use(httprate.Limit(exportLimit, exportWindow,
			httprate.WithKeyFuncs(principalKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export rate limit exceeded")
			}),
		))
		r.Get("/export.csv", h.export)
	})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	if err := writeCSV(w, entries); err != nil {
		h.logger.Warn("audit: write csv", slog.Any("error", err))
	}
}

func writeCSV(w http.ResponseWriter, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"occurred_at", "actor_id", "actor_email", "action", "entity", "entity_id", "meta"}); err != nil {
		return err
	}
	for _, e := range entries {
		actor := ""
		if e.ActorID != nil {
			actor = strconv.FormatInt(*e.ActorID, 10)
		}
		meta := ""
		if len(e.Meta) > 0 {
			raw, err := json.Marshal(e.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		record := []string{e.OccurredAt.UTC().Format(time.RFC3339), actor, e.ActorEmail, e.Action, e.Entity, e.EntityID, meta}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// parseFilters reads from/to as inclusive calendar days in UTC. Without them
// the last seven days are returned.
func (h *Handler) parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	to := h.now().UTC().Truncate(24 * time.Hour)
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return Filters{}, fmt.Errorf("%w: to must be YYYY-MM-DD", shared.ErrValidation)
		}
		to = parsed
	}
	from := to.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return Filters{}, fmt.Errorf("%w: from must be YYYY-MM-DD", shared.ErrValidation)
		}
		from = parsed
	}
	if from.After(to) {
		return Filters{}, fmt.Errorf("%w: from is after to", shared.ErrValidation)
	}
	if to.Sub(from) > maxDateRange {
		return Filters{}, fmt.Errorf("%w: range exceeds 90 days", shared.ErrValidation)
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		return Filters{}, fmt.Errorf("%w: invalid page", shared.ErrValidation)
	}
	pageSize, err := positiveInt(q.Get("page_size"), defaultPageSize)
	if err != nil {
		return Filters{}, fmt.Errorf("%w: invalid page_size", shared.ErrValidation)
	}

	return Filters{
		From:     from,
		To:       to.Add(24 * time.Hour),
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", raw)
	}
	return n, nil
}

func principalKey(r *http.Request) (string, error) {
	if id := shared.ActorID(r.Context()); id > 0 {
		return "user:" + strconv.FormatInt(id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
