package ml

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrModelUnavailable marks failures to load or introspect the artifact.
var ErrModelUnavailable = errors.New("model unavailable")

// LoadedModel is a loaded artifact together with its introspected schema.
// Both are read-only once published by a ModelHandle.
type LoadedModel struct {
	Artifact *Artifact
	schema   *ModelSchema
}

func newLoadedModel(a *Artifact) (*LoadedModel, error) {
	schema, err := Introspect(a)
	if err != nil {
		return nil, err
	}
	return &LoadedModel{Artifact: a, schema: schema}, nil
}

// Schema returns a private copy of the introspected schema.
func (m *LoadedModel) Schema() *ModelSchema {
	return m.schema.Clone()
}

func (m *LoadedModel) ColumnNames() []string {
	return m.schema.ColumnNames()
}

// Row maps fields onto the artifact's column order. Null numeric fields count
// as 0; any schema column absent from fields is ErrMissingColumn.
func (m *LoadedModel) Row(fields Fields) (*Table, error) {
	filled := make(Fields, len(fields))
	for k, v := range fields {
		filled[k] = v
	}
	for _, col := range m.schema.Columns {
		v, ok := filled[col.Name]
		if !ok || col.Kind != KindNumeric {
			continue
		}
		if v.Null {
			filled[col.Name] = Num(0)
		} else if v.IsText {
			return nil, fmt.Errorf("%w: %s expects a number, got %s", ErrInvalidValue, col.Name, v)
		}
	}
	return RowFromFields(m.schema.ColumnNames(), filled)
}

// Score runs a single-row table built by Row through the pipeline.
func (m *LoadedModel) Score(row *Table) (float64, error) {
	if row.Len() != 1 {
		return 0, fmt.Errorf("score expects one row, got %d", row.Len())
	}
	out, err := m.Artifact.Pipeline.Predict(row)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// ModelHandle loads an artifact lazily, at most once. Concurrent first
// callers wait for the single load and share its result. A failed load is
// not cached.
type ModelHandle struct {
	path   string
	logger *zap.Logger
	load   func(path string) (*Artifact, error)

	mu    sync.Mutex
	model atomic.Pointer[LoadedModel]
	loads atomic.Int64
	stale atomic.Bool
}

func NewModelHandle(path string, logger *zap.Logger) *ModelHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandle{path: path, logger: logger, load: LoadArtifact}
}

// NewModelHandleFromArtifact wraps an artifact that is already in memory.
func NewModelHandleFromArtifact(a *Artifact, logger *zap.Logger) (*ModelHandle, error) {
	h := NewModelHandle("", logger)
	m, err := newLoadedModel(a)
	if err != nil {
		return nil, err
	}
	h.model.Store(m)
	return h, nil
}

func (h *ModelHandle) Path() string { return h.path }

func (h *ModelHandle) Loaded() bool { return h.model.Load() != nil }

// Loads reports how many times the artifact file was decoded.
func (h *ModelHandle) Loads() int64 { return h.loads.Load() }

// MarkStale records that the file at Path changed after it was loaded. The
// handle keeps serving the loaded artifact.
func (h *ModelHandle) MarkStale() {
	if h.Loaded() {
		h.stale.Store(true)
	}
}

// Stale reports whether the served artifact no longer matches the file.
func (h *ModelHandle) Stale() bool { return h.stale.Load() }

func (h *ModelHandle) Get() (*LoadedModel, error) {
	if m := h.model.Load(); m != nil {
		return m, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.model.Load(); m != nil {
		return m, nil
	}

	h.loads.Add(1)
	a, err := h.load(h.path)
	if err != nil {
		h.logger.Error("load model artifact failed", zap.String("path", h.path), zap.Error(err))
		return nil, fmt.Errorf("%w: load artifact %s: %w", ErrModelUnavailable, h.path, err)
	}
	m, err := newLoadedModel(a)
	if err != nil {
		return nil, fmt.Errorf("%w: introspect artifact %s: %w", ErrModelUnavailable, h.path, err)
	}

	fields := []zap.Field{
		zap.String("path", h.path),
		zap.String("artifact_id", a.ID),
		zap.Int("format_version", a.FormatVersion),
		zap.Int("columns", len(m.schema.Columns)),
		zap.Int("features", len(m.schema.FeatureNamesOut)),
	}
	if a.MigratedFrom != 0 {
		fields = append(fields, zap.Int("migrated_from", a.MigratedFrom))
	}
	h.logger.Info("model artifact loaded", fields...)
	for _, kind := range a.Placeholders {
		h.logger.Warn("artifact component replaced by placeholder", zap.String("kind", kind))
	}

	h.model.Store(m)
	return m, nil
}
