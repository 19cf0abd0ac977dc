package ml

// Regressor is the final stage of a pipeline: numeric features in, one score
// per row out.
type Regressor interface {
	Kind() string
	Fit(features [][]float64, targets []float64) error
	Predict(features [][]float64) ([]float64, error)
	FeatureImportances() []float64
}
