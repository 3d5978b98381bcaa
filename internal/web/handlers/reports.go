package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/constants"
	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/imagestore"
	"github.com/kozaktomas/tether/internal/reconcile"
)

// ReportsHandler handles report submission and lookup.
type ReportsHandler struct {
	engine *reconcile.Engine
	log    logrus.FieldLogger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(engine *reconcile.Engine, log logrus.FieldLogger) *ReportsHandler {
	return &ReportsHandler{engine: engine, log: log}
}

// reportResponse is a stored report as returned over HTTP. The embedding is
// never exposed.
type reportResponse struct {
	database.Report
	HasEmbedding bool `json:"has_embedding"`
}

func newReportResponse(r *database.Report) reportResponse {
	if r == nil {
		return reportResponse{}
	}
	out := reportResponse{Report: *r, HasEmbedding: r.HasEmbedding()}
	out.Report.Embedding = nil
	return out
}

// parseSubmission reads the form fields of a new report.
func parseSubmission(r *http.Request) (reconcile.Submission, error) {
	age := 0
	if s := strings.TrimSpace(r.FormValue("child_age")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: child_age must be an integer", reconcile.ErrInvalidSubmission)
		}
		age = n
	}

	var marks []string
	if s := strings.TrimSpace(r.FormValue("birthmarks")); s != "" {
		if err := json.Unmarshal([]byte(s), &marks); err != nil {
			return nil, fmt.Errorf("%w: birthmarks must be a JSON array of strings", reconcile.ErrInvalidSubmission)
		}
		if len(marks) > constants.MaxMarks {
			return nil, fmt.Errorf("%w: at most %d birthmarks", reconcile.ErrInvalidSubmission, constants.MaxMarks)
		}
	}

	return reconcile.NewSubmission(strings.TrimSpace(r.FormValue("role")), reconcile.SubmissionFields{
		Contact: reconcile.Contact{
			Name:     r.FormValue("reporter_name"),
			Email:    r.FormValue("reporter_email"),
			AltEmail: r.FormValue("reporter_alt_email"),
			Phone:    r.FormValue("reporter_phone"),
			AltPhone: r.FormValue("reporter_alt_phone"),
		},
		ChildName:           r.FormValue("child_name"),
		ChildAge:            age,
		Complexion:          r.FormValue("skin_complexion"),
		DistinguishingMarks: marks,
		City:                r.FormValue("city"),
		Address:             r.FormValue("address"),
	})
}

// readUpload returns the optional "file" part.
func readUpload(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading file: %w", reconcile.ErrInvalidSubmission, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("reading upload: %w", err)
	}
	return data, header.Filename, nil
}

// Create handles POST /reports.
func (h *ReportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	sub, err := parseSubmission(r)
	if err != nil {
		respondEngineError(w, h.log, "", err)
		return
	}
	image, filename, err := readUpload(r)
	if err != nil {
		respondEngineError(w, h.log, "", err)
		return
	}

	res, err := h.engine.Submit(r.Context(), sub, image, filename)
	if err != nil {
		id := ""
		if res != nil {
			id = res.ReportID
		}
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// Get handles GET /reports/{id}.
func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.engine.GetReport(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, newReportResponse(report))
}

// Image handles GET /reports/{id}/image.
func (h *ReportsHandler) Image(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.engine.GetReport(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	data, err := h.engine.LoadImage(r.Context(), report.ImageRef)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}

	w.Header().Set("Content-Type", imagestore.ContentTypeOf(report.ImageRef))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
