package ml

import (
	"errors"
	"fmt"
)

// Conventional step names. Artifacts address the two stages by these names.
const (
	StepPreprocessor = "preprocessor"
	StepRegressor    = "regressor"
)

// Pipeline chains the column preprocessing and the regression stage.
type Pipeline struct {
	Preprocessor *ColumnTransformer
	Regressor    Regressor
}

func NewPipeline(spec DatasetSpec, forest ForestConfig) *Pipeline {
	return &Pipeline{
		Preprocessor: NewColumnTransformer(spec.CategoricalColumns(), spec.NumericColumns()),
		Regressor:    NewRandomForestRegressor(forest),
	}
}

// Fit fits the preprocessing on t only, then trains the regressor on the
// transformed rows.
func (p *Pipeline) Fit(t *Table, targets []float64) error {
	if p.Preprocessor == nil || p.Regressor == nil {
		return errors.New("pipeline is missing a step")
	}
	if t.Len() != len(targets) {
		return errors.New("pipeline: features and targets size mismatch")
	}
	if err := p.Preprocessor.Fit(t); err != nil {
		return fmt.Errorf("%s: %w", StepPreprocessor, err)
	}
	features, err := p.Preprocessor.Transform(t)
	if err != nil {
		return fmt.Errorf("%s: %w", StepPreprocessor, err)
	}
	if err := p.Regressor.Fit(features, targets); err != nil {
		return fmt.Errorf("%s: %w", StepRegressor, err)
	}
	return nil
}

func (p *Pipeline) Transform(t *Table) ([][]float64, error) {
	features, err := p.Preprocessor.Transform(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepPreprocessor, err)
	}
	return features, nil
}

func (p *Pipeline) Predict(t *Table) ([]float64, error) {
	features, err := p.Transform(t)
	if err != nil {
		return nil, err
	}
	out, err := p.Regressor.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepRegressor, err)
	}
	return out, nil
}

func (p *Pipeline) validate() error {
	if p.Preprocessor == nil {
		return fmt.Errorf("pipeline has no %s step", StepPreprocessor)
	}
	if p.Regressor == nil {
		return fmt.Errorf("pipeline has no %s step", StepRegressor)
	}
	if p.Preprocessor.FeatureNamesIn == nil {
		return fmt.Errorf("%s: %w", StepPreprocessor, ErrNotFitted)
	}
	width := len(p.Preprocessor.FeatureNamesOut())
	if width == 0 {
		return fmt.Errorf("%s emits no features", StepPreprocessor)
	}
	if got := len(p.Regressor.FeatureImportances()); got != width {
		return fmt.Errorf("pipeline: %s expects %d features, %s emits %d", StepRegressor, got, StepPreprocessor, width)
	}
	return nil
}
