package http

import (
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"mhscore/db"
	"mhscore/ml"
)

// ErrTrainingInProgress is returned when a run is requested while another is
// still fitting.
var ErrTrainingInProgress = errors.New("training already in progress")

// TrainingRunner runs offline training on demand. At most one run is active.
// The new artifact is written to disk; the server keeps serving the artifact
// it loaded at startup.
type TrainingRunner struct {
	config ml.TrainingConfig
	store  *db.Store
	logger *zap.Logger
	mu     sync.Mutex
}

func NewTrainingRunner(config ml.TrainingConfig, store *db.Store, logger *zap.Logger) *TrainingRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrainingRunner{config: config, store: store, logger: logger}
}

func (t *TrainingRunner) Run() (*ml.TrainingReport, error) {
	if !t.mu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer t.mu.Unlock()

	result, err := ml.Train(t.config, t.logger)
	if err != nil {
		return nil, err
	}
	if t.store != nil {
		if err := t.store.SaveTrainingRun(result.Report); err != nil {
			t.logger.Warn("save training run failed", zap.String("run_id", result.Report.RunID), zap.Error(err))
		}
	}
	return result.Report, nil
}

func (h *Handlers) handleTrainingRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.trainer.Run()
	if errors.Is(err, ErrTrainingInProgress) {
		respondError(w, r, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.logger.Error("training run failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.logger.Info("training run finished",
		zap.String("run_id", report.RunID),
		zap.String("artifact_id", report.ArtifactID),
		zap.Float64("r2", report.Metrics.R2),
	)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report":  report,
		"summary": report.String(),
	})
}
