package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mhscore/ml"
	"mhscore/monitoring"
)

// PredictResponse is the reply to one scoring request.
type PredictResponse struct {
	RequestID    string                 `json:"request_id,omitempty"`
	Score        float64                `json:"score"`
	ScoreRounded string                 `json:"score_rounded"`
	ArtifactID   string                 `json:"artifact_id"`
	Cached       bool                   `json:"cached"`
	Importances  []ml.FeatureImportance `json:"importances"`
}

var errBadRequest = errors.New("bad request")

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.IncrCounter(monitoring.MetricPredictionErrors, 1, map[string]string{"reason": "bad_request"})
		respondError(w, r, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	resp, err := h.predict(GetRequestID(r.Context()), body)
	if err != nil {
		h.respondModelError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// predict decodes one JSON record, validates it and scores it. It is shared
// by the REST and websocket endpoints.
func (h *Handlers) predict(requestID string, payload []byte) (*PredictResponse, error) {
	start := time.Now()
	resp, err := h.score(requestID, payload)
	if err != nil {
		h.metrics.IncrCounter(monitoring.MetricPredictionErrors, 1, map[string]string{"reason": errorReason(err)})
		return nil, err
	}

	h.metrics.IncrCounter(monitoring.MetricPredictions, 1, nil)
	if resp.Cached {
		h.metrics.IncrCounter(monitoring.MetricCacheHits, 1, nil)
	}
	h.metrics.RecordHistogram(monitoring.MetricPredictionLatency, float64(time.Since(start).Microseconds())/1000)
	h.metrics.SetGauge(monitoring.MetricArtifactLoaded, 1, nil)

	if h.store != nil {
		p := ml.Prediction{Score: resp.Score, ArtifactID: resp.ArtifactID, Cached: resp.Cached}
		if err := h.store.SavePrediction(requestID, p); err != nil {
			h.logger.Warn("save prediction failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}
	return resp, nil
}

func (h *Handlers) score(requestID string, payload []byte) (*PredictResponse, error) {
	raw, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	fields, err := ml.FieldsFromJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := ml.ValidateRanges(fields); err != nil {
		return nil, err
	}

	pred, err := h.predictor.PredictFields(fields)
	if err != nil {
		return nil, err
	}
	importances, err := h.predictor.Explain()
	if err != nil {
		return nil, err
	}
	return &PredictResponse{
		RequestID:    requestID,
		Score:        pred.Score,
		ScoreRounded: decimal.NewFromFloat(pred.Score).StringFixed(2),
		ArtifactID:   pred.ArtifactID,
		Cached:       pred.Cached,
		Importances:  importances,
	}, nil
}

func decodeRecord(payload []byte) (map[string]interface{}, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty body", errBadRequest)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: record must be a JSON object", errBadRequest)
	}
	return raw, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, errBadRequest):
		return "bad_request"
	case errors.Is(err, ml.ErrMissingColumn):
		return "missing_column"
	case errors.Is(err, ml.ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ml.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "internal"
	}
}
