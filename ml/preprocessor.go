package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

const (
	KindStandardScaler    = "standard_scaler"
	KindOneHotEncoder     = "one_hot_encoder"
	KindColumnTransformer = "column_transformer"
	KindDrop              = "drop"

	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

var ErrNotFitted = errors.New("component not fitted")

// Transformer turns a block of raw columns into numeric features.
type Transformer interface {
	Kind() string
	Fit(columns []string, data [][]Value) error
	Transform(data [][]Value) ([][]float64, error)
	FeatureNamesOut() []string
}

// StandardScaler centers numeric columns on the training mean and divides by
// the population standard deviation.
type StandardScaler struct {
	FeatureNamesIn []string  `json:"feature_names_in"`
	Mean           []float64 `json:"mean"`
	Var            []float64 `json:"var"`
	Scale          []float64 `json:"scale"`
	NSamplesSeen   int       `json:"n_samples_seen"`
}

func (s *StandardScaler) Kind() string { return KindStandardScaler }

func (s *StandardScaler) Fit(columns []string, data [][]Value) error {
	if len(data) == 0 {
		return errors.New("standard scaler: no rows")
	}
	width := len(columns)
	mean := make([]float64, width)
	variance := make([]float64, width)
	for r, row := range data {
		for c := 0; c < width; c++ {
			if row[c].Null || row[c].IsText {
				return fmt.Errorf("standard scaler: row %d column %s: %w", r, columns[c], ErrInvalidValue)
			}
			mean[c] += row[c].Number
		}
	}
	n := float64(len(data))
	for c := range mean {
		mean[c] /= n
	}
	for _, row := range data {
		for c := 0; c < width; c++ {
			d := row[c].Number - mean[c]
			variance[c] += d * d
		}
	}
	scale := make([]float64, width)
	for c := range variance {
		variance[c] /= n
		scale[c] = math.Sqrt(variance[c])
		if scale[c] < 10*epsilon {
			scale[c] = 1
		}
	}

	s.FeatureNamesIn = append([]string(nil), columns...)
	s.Mean = mean
	s.Var = variance
	s.Scale = scale
	s.NSamplesSeen = len(data)
	return nil
}

func (s *StandardScaler) Transform(data [][]Value) ([][]float64, error) {
	if s.Scale == nil {
		return nil, fmt.Errorf("standard scaler: %w", ErrNotFitted)
	}
	out := make([][]float64, len(data))
	for r, row := range data {
		if len(row) != len(s.Scale) {
			return nil, fmt.Errorf("standard scaler: row %d has %d values, expected %d", r, len(row), len(s.Scale))
		}
		vec := make([]float64, len(row))
		for c, v := range row {
			if v.Null || v.IsText {
				return nil, fmt.Errorf("standard scaler: column %s: %w", s.FeatureNamesIn[c], ErrInvalidValue)
			}
			vec[c] = (v.Number - s.Mean[c]) / s.Scale[c]
		}
		out[r] = vec
	}
	return out, nil
}

func (s *StandardScaler) FeatureNamesOut() []string {
	return append([]string(nil), s.FeatureNamesIn...)
}

func (s *StandardScaler) validate() error {
	n := len(s.FeatureNamesIn)
	if len(s.Mean) != n || len(s.Scale) != n {
		return errors.New("standard scaler: parameter length mismatch")
	}
	return nil
}

// OneHotEncoder expands each categorical column into one indicator per
// category seen during fit. Categories are kept sorted.
type OneHotEncoder struct {
	FeatureNamesIn []string   `json:"feature_names_in"`
	Categories     [][]string `json:"categories"`
	HandleUnknown  string     `json:"handle_unknown"`
}

func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{HandleUnknown: HandleUnknownIgnore}
}

func (e *OneHotEncoder) Kind() string { return KindOneHotEncoder }

func (e *OneHotEncoder) Fit(columns []string, data [][]Value) error {
	if len(data) == 0 {
		return errors.New("one-hot encoder: no rows")
	}
	seen := make([]map[string]struct{}, len(columns))
	for c := range seen {
		seen[c] = make(map[string]struct{})
	}
	for r, row := range data {
		for c := range columns {
			if row[c].Null {
				return fmt.Errorf("one-hot encoder: row %d column %s is null: %w", r, columns[c], ErrInvalidValue)
			}
			seen[c][categoryOf(row[c])] = struct{}{}
		}
	}
	categories := make([][]string, len(columns))
	for c, set := range seen {
		cats := make([]string, 0, len(set))
		for v := range set {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		categories[c] = cats
	}

	e.FeatureNamesIn = append([]string(nil), columns...)
	e.Categories = categories
	if e.HandleUnknown == "" {
		e.HandleUnknown = HandleUnknownIgnore
	}
	return nil
}

func (e *OneHotEncoder) Transform(data [][]Value) ([][]float64, error) {
	if e.Categories == nil {
		return nil, fmt.Errorf("one-hot encoder: %w", ErrNotFitted)
	}
	offsets := make([]int, len(e.Categories))
	width := 0
	for c, cats := range e.Categories {
		offsets[c] = width
		width += len(cats)
	}

	out := make([][]float64, len(data))
	for r, row := range data {
		if len(row) != len(e.Categories) {
			return nil, fmt.Errorf("one-hot encoder: row %d has %d values, expected %d", r, len(row), len(e.Categories))
		}
		vec := make([]float64, width)
		for c, v := range row {
			cats := e.Categories[c]
			pos := -1
			if !v.Null {
				key := categoryOf(v)
				if i := sort.SearchStrings(cats, key); i < len(cats) && cats[i] == key {
					pos = i
				}
			}
			if pos < 0 {
				if e.HandleUnknown == HandleUnknownError {
					return nil, fmt.Errorf("one-hot encoder: unknown category %s in column %s: %w", v, e.FeatureNamesIn[c], ErrInvalidValue)
				}
				continue
			}
			vec[offsets[c]+pos] = 1
		}
		out[r] = vec
	}
	return out, nil
}

func (e *OneHotEncoder) FeatureNamesOut() []string {
	var names []string
	for c, cats := range e.Categories {
		for _, cat := range cats {
			names = append(names, e.FeatureNamesIn[c]+"_"+cat)
		}
	}
	return names
}

// Vocabulary returns the fitted categories of one input column.
func (e *OneHotEncoder) Vocabulary(column string) ([]string, bool) {
	for c, name := range e.FeatureNamesIn {
		if name == column {
			return append([]string(nil), e.Categories[c]...), true
		}
	}
	return nil, false
}

func (e *OneHotEncoder) validate() error {
	if len(e.Categories) != len(e.FeatureNamesIn) {
		return errors.New("one-hot encoder: categories do not match input columns")
	}
	for c, cats := range e.Categories {
		if !sort.StringsAreSorted(cats) {
			return fmt.Errorf("one-hot encoder: categories of %s are not sorted", e.FeatureNamesIn[c])
		}
	}
	switch e.HandleUnknown {
	case HandleUnknownIgnore, HandleUnknownError:
	default:
		return fmt.Errorf("one-hot encoder: unknown handle_unknown policy %q", e.HandleUnknown)
	}
	return nil
}

func categoryOf(v Value) string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}

// ColumnTransform routes a named set of columns to one transformer.
type ColumnTransform struct {
	Name        string
	Columns     []string
	Transformer Transformer
}

// ColumnTransformer applies each transform to its columns and concatenates
// the outputs in declaration order. Columns not claimed by any transform go
// to the remainder, which never produces output.
type ColumnTransformer struct {
	FeatureNamesIn []string
	Transformers   []ColumnTransform
	Remainder      Transformer
}

// NewColumnTransformer builds the survey preprocessing: one-hot for
// categorical columns ("cat"), standardization for numeric ones ("num").
func NewColumnTransformer(categorical, numeric []string) *ColumnTransformer {
	return &ColumnTransformer{
		Transformers: []ColumnTransform{
			{Name: "cat", Columns: append([]string(nil), categorical...), Transformer: NewOneHotEncoder()},
			{Name: "num", Columns: append([]string(nil), numeric...), Transformer: &StandardScaler{}},
		},
		Remainder: dropRemainder{},
	}
}

func (ct *ColumnTransformer) Kind() string { return KindColumnTransformer }

func (ct *ColumnTransformer) Fit(t *Table) error {
	for _, tr := range ct.Transformers {
		if len(tr.Columns) == 0 {
			continue
		}
		data, err := t.Select(tr.Columns)
		if err != nil {
			return fmt.Errorf("transformer %s: %w", tr.Name, err)
		}
		if err := tr.Transformer.Fit(tr.Columns, data); err != nil {
			return fmt.Errorf("transformer %s: %w", tr.Name, err)
		}
	}
	ct.FeatureNamesIn = append([]string(nil), t.Columns...)
	if ct.Remainder == nil {
		ct.Remainder = dropRemainder{}
	}
	return nil
}

func (ct *ColumnTransformer) Transform(t *Table) ([][]float64, error) {
	if ct.FeatureNamesIn == nil {
		return nil, fmt.Errorf("column transformer: %w", ErrNotFitted)
	}
	for _, name := range ct.FeatureNamesIn {
		if _, err := t.ColumnIndex(name); err != nil {
			return nil, err
		}
	}

	out := make([][]float64, t.Len())
	for _, tr := range ct.Transformers {
		if len(tr.Columns) == 0 {
			continue
		}
		data, err := t.Select(tr.Columns)
		if err != nil {
			return nil, fmt.Errorf("transformer %s: %w", tr.Name, err)
		}
		block, err := tr.Transformer.Transform(data)
		if err != nil {
			return nil, fmt.Errorf("transformer %s: %w", tr.Name, err)
		}
		for r := range out {
			out[r] = append(out[r], block[r]...)
		}
	}
	return out, nil
}

func (ct *ColumnTransformer) FeatureNamesOut() []string {
	var names []string
	for _, tr := range ct.Transformers {
		if len(tr.Columns) == 0 {
			continue
		}
		for _, name := range tr.Transformer.FeatureNamesOut() {
			names = append(names, tr.Name+"__"+name)
		}
	}
	return names
}

// NamedTransformer looks up a transform by name.
func (ct *ColumnTransformer) NamedTransformer(name string) (Transformer, bool) {
	for _, tr := range ct.Transformers {
		if tr.Name == name {
			return tr.Transformer, true
		}
	}
	return nil, false
}

type dropRemainder struct{}

func (dropRemainder) Kind() string { return KindDrop }

func (dropRemainder) Fit([]string, [][]Value) error { return nil }

func (dropRemainder) Transform(data [][]Value) ([][]float64, error) {
	return make([][]float64, len(data)), nil
}

func (dropRemainder) FeatureNamesOut() []string { return nil }

const epsilon = 2.220446049250313e-16
