package ml

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const DefaultPredictionCacheSize = 1024

// Prediction is the answer to one scoring request.
type Prediction struct {
	Score      float64 `json:"score"`
	ArtifactID string  `json:"artifact_id"`
	Cached     bool    `json:"cached"`
}

// Predictor serves single-record predictions from one lazily loaded
// artifact. It is safe for concurrent use.
type Predictor struct {
	handle *ModelHandle
	cache  *lru.Cache[string, float64]
	logger *zap.Logger
}

// NewPredictor memoizes up to cacheSize predictions; cacheSize <= 0 disables
// the cache.
func NewPredictor(handle *ModelHandle, cacheSize int, logger *zap.Logger) (*Predictor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Predictor{handle: handle, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, float64](cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	return p, nil
}

func (p *Predictor) Handle() *ModelHandle { return p.handle }

func (p *Predictor) Predict(r Record) (Prediction, error) {
	return p.PredictFields(r.Fields())
}

func (p *Predictor) PredictFields(fields Fields) (Prediction, error) {
	m, err := p.handle.Get()
	if err != nil {
		return Prediction{}, err
	}
	row, err := m.Row(fields)
	if err != nil {
		return Prediction{}, err
	}

	key := cacheKey(m.Artifact.ID, row.Rows[0])
	if p.cache != nil {
		if score, ok := p.cache.Get(key); ok {
			return Prediction{Score: score, ArtifactID: m.Artifact.ID, Cached: true}, nil
		}
	}

	score, err := m.Score(row)
	if err != nil {
		p.logger.Warn("prediction failed", zap.Error(err))
		return Prediction{}, err
	}
	if p.cache != nil {
		p.cache.Add(key, score)
	}
	return Prediction{Score: score, ArtifactID: m.Artifact.ID}, nil
}

func (p *Predictor) Schema() (*ModelSchema, error) {
	m, err := p.handle.Get()
	if err != nil {
		return nil, err
	}
	return m.Schema(), nil
}

// Explain returns the strictly positive feature importances sorted by
// feature name.
func (p *Predictor) Explain() ([]FeatureImportance, error) {
	m, err := p.handle.Get()
	if err != nil {
		return nil, err
	}
	return m.schema.PositiveImportances(), nil
}

func cacheKey(artifactID string, row []Value) string {
	var b strings.Builder
	b.WriteString(artifactID)
	for _, v := range row {
		b.WriteByte('|')
		b.WriteString(v.String())
	}
	return b.String()
}
