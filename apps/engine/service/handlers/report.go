package handlers

import (
	"errors"
	"net/http"

	"github.com/auditmesh/consensus/internal/audit"
	"github.com/auditmesh/consensus/internal/report"
)

// ReportHandler renders one session as a downloadable report.
type ReportHandler struct {
	exporter *report.Exporter
}

// NewReportHandler creates the report export handler.
func NewReportHandler(exporter *report.Exporter) *ReportHandler {
	return &ReportHandler{exporter: exporter}
}

var reportContentTypes = map[report.Format]string{
	report.FormatJSON: "application/json",
	report.FormatHTML: "text/html; charset=utf-8",
	report.FormatPDF:  "text/plain; charset=utf-8",
}

// ServeHTTP handles GET /api/v1/sessions/{id}/report. The format query
// parameter defaults to json.
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format := report.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatJSON
	}

	data, err := h.exporter.Export(r.PathValue("id"), format)
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
		case errors.Is(err, audit.ErrValidation):
			writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, "render_error", "Failed to render report", nil)
		}
		return
	}

	w.Header().Set("Content-Type", reportContentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
