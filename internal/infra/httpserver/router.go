package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	appanalysis "github.com/bryanwahyu/bimwatch/internal/application/analysis"
	domai "github.com/bryanwahyu/bimwatch/internal/domain/ai"
	domalerts "github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	"github.com/bryanwahyu/bimwatch/internal/domain/pipeline"
	"github.com/bryanwahyu/bimwatch/internal/middleware"
)

// ImageStore abstracts object storage for uploaded site photos.
type ImageStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Router struct {
	analysisSvc *appanalysis.Service
	alertSink   domalerts.Sink
	images      ImageStore
	maxUploadMB int
}

func NewRouter(analysisSvc *appanalysis.Service, alertSink domalerts.Sink, images ImageStore, maxUploadMB int, health http.HandlerFunc) http.Handler {
	r := &Router{
		analysisSvc: analysisSvc,
		alertSink:   alertSink,
		images:      images,
		maxUploadMB: maxUploadMB,
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", health)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{project}", func(rt chi.Router) {
		rt.Post("/analyses", r.wrap(r.handleAnalyze))
		rt.Get("/analyses", r.wrap(r.handleHistory))
		rt.Get("/analyses/compare", r.wrap(r.handleCompare))
		rt.Get("/analyses/{id}", r.wrap(r.handleGet))
		rt.Get("/progress", r.wrap(r.handleProgress))
		rt.Get("/alerts", r.wrap(r.handleAlerts))
		rt.Post("/alerts/{id}/resolve", r.wrap(r.handleResolveAlert))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, pipeline.ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			case errors.Is(err, pipeline.ErrRetrievalUnavailable),
				errors.Is(err, pipeline.ErrDescriptionFailed):
				http.Error(w, err.Error(), http.StatusBadGateway)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// POST /v1/{project}/analyses
// Multipart body: "image" file field plus optional "context" form field.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	if err := middleware.ValidateProjectID(project); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}

	maxBytes := int64(r.maxUploadMB) * 1024 * 1024
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes+1024)
	if err := req.ParseMultipartForm(maxBytes); err != nil {
		return fmt.Errorf("%w: parse multipart form: %v", pipeline.ErrInvalidInput, err)
	}

	file, header, err := req.FormFile("image")
	if err != nil {
		return fmt.Errorf("%w: image field is required", pipeline.ErrInvalidInput)
	}
	defer file.Close()

	if err := middleware.ValidateImageExtension(header.Filename); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}
	if err := middleware.ValidateUploadSize(header.Size, r.maxUploadMB); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	key := fmt.Sprintf("projects/%s/images/%s%s", project, uuid.NewString(), ext)

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	if _, err := r.images.UploadBytes(req.Context(), key, data, header.Header.Get("Content-Type")); err != nil {
		middleware.IncrementAnalysesFailed()
		return fmt.Errorf("%w: upload image: %v", pipeline.ErrPersistenceFailed, err)
	}

	result, err := r.analysisSvc.Analyze(req.Context(), appanalysis.Request{
		ProjectID: project,
		ImageKey:  key,
		Image:     data,
		Context:   middleware.SanitizeString(req.FormValue("context")),
	})
	if err != nil {
		middleware.IncrementAnalysesFailed()
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(result.Analysis)
}

// GET /v1/{project}/analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	id := chi.URLParam(req, "id")

	rec, err := r.analysisSvc.GetAnalysis(req.Context(), project, id)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /v1/{project}/analyses?limit=20
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.analysisSvc.History(req.Context(), project, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/{project}/analyses/compare?ids=id1,id2,id3
// Side-by-side view of the named analyses with pairwise deltas.
func (r *Router) handleCompare(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")

	var ids []string
	for _, id := range strings.Split(req.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: ids query parameter is required", pipeline.ErrInvalidInput)
	}

	result, err := r.analysisSvc.CompareSideBySide(req.Context(), project, ids)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(result)
}

// GET /v1/{project}/progress?limit=10
// Latest overall progress plus trend across recent analyses and open alerts.
func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	history, err := r.analysisSvc.History(req.Context(), project, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}

	open, err := r.alertSink.List(req.Context(), project, true, 100)
	if err != nil {
		return err
	}

	resp := map[string]any{
		"project_id":  project,
		"analyses":    len(history),
		"open_alerts": len(open),
	}
	if len(history) > 0 {
		var sum float64
		for _, rec := range history {
			sum += rec.OverallProgress
		}
		resp["current_progress"] = history[0].OverallProgress
		resp["average_progress"] = sum / float64(len(history))
		resp["last_analyzed_at"] = history[0].AnalyzedAt
		if len(history) > 1 {
			resp["progress_change"] = history[0].OverallProgress - history[1].OverallProgress
		}
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(resp)
}

// GET /v1/{project}/alerts?unresolved=true&limit=50
func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	unresolvedOnly := req.URL.Query().Get("unresolved") == "true"

	list, err := r.alertSink.List(req.Context(), project, unresolvedOnly, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// POST /v1/{project}/alerts/{id}/resolve
func (r *Router) handleResolveAlert(w http.ResponseWriter, req *http.Request) error {
	project := chi.URLParam(req, "project")
	id := chi.URLParam(req, "id")

	if err := r.alertSink.Resolve(req.Context(), project, id); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]string{
		"alert_id": id,
		"status":   "resolved",
	})
}
