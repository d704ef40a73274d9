package httptransport

import (
	"net/http"

	"github.com/vishalp-65/patient-case-notes-system/pkg/platform/httputil"
)

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs every dependency check and answers 503 if any fails.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		httputil.WriteJSON(w, http.StatusOK, readinessResponse{Healthy: true, Checks: []readinessCheck{}})
		return
	}
	report := h.readiness.CheckAll(r.Context())
	resp := readinessResponse{
		Healthy: report.Healthy(),
		Summary: report.Summary(),
		Checks:  make([]readinessCheck, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		check := readinessCheck{
			Name:        res.Name,
			Description: res.Description,
			Healthy:     res.Healthy(),
			DurationMS:  res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			check.Error = res.Err.Error()
		}
		resp.Checks = append(resp.Checks, check)
	}
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "readiness check failed", "summary", report.String())
	}
	httputil.WriteJSON(w, status, resp)
}
