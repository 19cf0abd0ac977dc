package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mhscore/db"
	"mhscore/ml"
	"mhscore/monitoring"
)

// Handlers serves the prediction API.
type Handlers struct {
	predictor *ml.Predictor
	store     *db.Store
	metrics   *monitoring.MetricsCollector
	trainer   *TrainingRunner
	logger    *zap.Logger
}

func NewHandlers(deps Dependencies) *Handlers {
	h := &Handlers{
		predictor: deps.Predictor,
		store:     deps.Store,
		metrics:   deps.Metrics,
		trainer:   deps.Trainer,
		logger:    deps.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.metrics == nil {
		h.metrics = monitoring.NewMetricsCollector()
	}
	return h
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/ws/predict", h.handlePredictWS)
	mux.HandleFunc("GET /api/model/schema", h.handleSchema)
	mux.HandleFunc("GET /api/model/importance", h.handleImportance)
	mux.HandleFunc("GET /api/training/log", h.handleTrainingLog)
	mux.HandleFunc("GET /api/predictions", h.handleRecentPredictions)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	if h.trainer != nil {
		mux.HandleFunc("POST /api/training/run", h.handleTrainingRun)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	handle := h.predictor.Handle()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"model_loaded":   handle.Loaded(),
		"model_path":     handle.Path(),
		"artifact_stale": handle.Stale(),
	})
}

func (h *Handlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.predictor.Schema()
	if err != nil {
		h.respondModelError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, schema)
}

func (h *Handlers) handleImportance(w http.ResponseWriter, r *http.Request) {
	m, err := h.predictor.Handle().Get()
	if err != nil {
		h.respondModelError(w, r, err)
		return
	}
	importances, err := h.predictor.Explain()
	if err != nil {
		h.respondModelError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"artifact_id": m.Artifact.ID,
		"importances": importances,
	})
}

func (h *Handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, r, http.StatusServiceUnavailable, errors.New("training log unavailable"))
		return
	}
	logs, err := h.store.LoadTrainingLog(queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("load training log failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": logs})
}

func (h *Handlers) handleRecentPredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, r, http.StatusServiceUnavailable, errors.New("prediction log unavailable"))
		return
	}
	records, err := h.store.RecentPredictions(queryInt(r, "limit", 100))
	if err != nil {
		h.logger.Error("load predictions failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": records})
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(h.metrics.ExportPrometheus()))
		return
	}
	respondJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// respondModelError maps predictor failures onto HTTP status codes.
func (h *Handlers) respondModelError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("model request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
	}
	respondError(w, r, status, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ml.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadRequest), errors.Is(err, ml.ErrMissingColumn), errors.Is(err, ml.ErrInvalidValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error(), RequestID: GetRequestID(r.Context())})
}
