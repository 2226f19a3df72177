package archive

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/server"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

func (a *Archive) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/notifications", Handler: a.handleListNotifications},
		{Method: http.MethodGet, Path: "/notifications/{id}", Handler: a.handleGetNotification},
		{Method: http.MethodGet, Path: "/samples/{family}", Handler: a.handleListSamples},
	}
}

// handleListNotifications supports ?name=, ?severity= and ?limit=.
func (a *Archive) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	severity := q.Get("severity")
	if severity != "" {
		if _, err := metric.ParseSeverity(severity); err != nil {
			server.BadRequest(w, err.Error(), r.URL.Path)
			return
		}
	}

	recs, err := a.repo.ListNotifications(r.Context(), NotificationFilter{
		Name:     q.Get("name"),
		Severity: severity,
		Limit:    limit,
	})
	if err != nil {
		a.logger.Warn("failed to list notifications", zap.Error(err))
		server.InternalError(w, "failed to list notifications", r.URL.Path)
		return
	}
	if recs == nil {
		recs = []NotificationRecord{}
	}
	writeJSON(w, recs)
}

func (a *Archive) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	rec, err := a.repo.GetNotification(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		server.NotFound(w, "no notification "+r.PathValue("id"), r.URL.Path)
		return
	}
	if err != nil {
		a.logger.Warn("failed to get notification", zap.Error(err))
		server.InternalError(w, "failed to get notification", r.URL.Path)
		return
	}
	writeJSON(w, rec)
}

func (a *Archive) handleListSamples(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	samples, err := a.repo.ListSamples(r.Context(), r.PathValue("family"), limit)
	if err != nil {
		a.logger.Warn("failed to list samples", zap.Error(err))
		server.InternalError(w, "failed to list samples", r.URL.Path)
		return
	}
	if samples == nil {
		samples = []Sample{}
	}
	writeJSON(w, samples)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		server.BadRequest(w, "limit must be a positive integer", r.URL.Path)
		return 0, false
	}
	return min(n, MaxLimit), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
