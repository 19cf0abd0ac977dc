package ml

import (
	"errors"
	"fmt"
	"sort"
)

// KindUnused marks an input column that the preprocessing accepts but drops.
const KindUnused ColumnKind = "unused"

type ColumnSchema struct {
	Name       string     `json:"name"`
	Kind       ColumnKind `json:"kind"`
	Categories []string   `json:"categories,omitempty"`
}

type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ModelSchema is everything a caller needs to know about an artifact's
// inputs and outputs. It is derived from the artifact alone.
type ModelSchema struct {
	ArtifactID      string              `json:"artifact_id"`
	Columns         []ColumnSchema      `json:"columns"`
	FeatureNamesOut []string            `json:"feature_names_out"`
	Importances     []FeatureImportance `json:"importances"`
}

// Introspect reads the input columns, their kinds and vocabularies, the
// transformed feature names and the regressor's importances from a.
func Introspect(a *Artifact) (*ModelSchema, error) {
	if a == nil || a.Pipeline == nil || a.Pipeline.Preprocessor == nil || a.Pipeline.Regressor == nil {
		return nil, errors.New("artifact is incomplete")
	}
	ct := a.Pipeline.Preprocessor

	owner := make(map[string]Transformer)
	for _, tr := range ct.Transformers {
		for _, col := range tr.Columns {
			owner[col] = tr.Transformer
		}
	}

	schema := &ModelSchema{ArtifactID: a.ID}
	for _, name := range ct.FeatureNamesIn {
		col := ColumnSchema{Name: name, Kind: KindUnused}
		switch tr := owner[name].(type) {
		case *OneHotEncoder:
			col.Kind = KindCategorical
			vocab, ok := tr.Vocabulary(name)
			if !ok {
				return nil, fmt.Errorf("encoder has no vocabulary for %s", name)
			}
			col.Categories = vocab
		case *StandardScaler:
			col.Kind = KindNumeric
		}
		schema.Columns = append(schema.Columns, col)
	}

	schema.FeatureNamesOut = ct.FeatureNamesOut()
	weights := a.Pipeline.Regressor.FeatureImportances()
	if len(weights) != len(schema.FeatureNamesOut) {
		return nil, fmt.Errorf("regressor has %d importances for %d features", len(weights), len(schema.FeatureNamesOut))
	}
	schema.Importances = make([]FeatureImportance, len(weights))
	for i, w := range weights {
		schema.Importances[i] = FeatureImportance{Feature: schema.FeatureNamesOut[i], Importance: w}
	}
	return schema, nil
}

func (s *ModelSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *ModelSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// PositiveImportances keeps the features with weight > 0, sorted by feature
// name.
func (s *ModelSchema) PositiveImportances() []FeatureImportance {
	out := make([]FeatureImportance, 0, len(s.Importances))
	for _, fi := range s.Importances {
		if fi.Importance > 0 {
			out = append(out, fi)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

// Clone returns a deep copy, so callers can never reach shared state.
func (s *ModelSchema) Clone() *ModelSchema {
	c := &ModelSchema{
		ArtifactID:      s.ArtifactID,
		Columns:         make([]ColumnSchema, len(s.Columns)),
		FeatureNamesOut: append([]string(nil), s.FeatureNamesOut...),
		Importances:     append([]FeatureImportance(nil), s.Importances...),
	}
	for i, col := range s.Columns {
		col.Categories = append([]string(nil), col.Categories...)
		c.Columns[i] = col
	}
	return c
}
