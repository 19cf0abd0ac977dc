package ml

import (
	"errors"
	"fmt"
	"math/rand"
)

const KindRandomForestRegressor = "random_forest_regressor"

// ForestConfig holds the hyperparameters of a RandomForestRegressor.
type ForestConfig struct {
	NEstimators     int   `yaml:"n_estimators"`
	MaxDepth        int   `yaml:"max_depth"`
	MinSamplesSplit int   `yaml:"min_samples_split"`
	MinSamplesLeaf  int   `yaml:"min_samples_leaf"`
	MaxFeatures     int   `yaml:"max_features"`
	RandomState     int64 `yaml:"random_state"`
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		RandomState:     42,
	}
}

// RandomForestRegressor averages bootstrapped regression trees. All of its
// randomness derives from RandomState.
type RandomForestRegressor struct {
	NEstimators     int               `json:"n_estimators"`
	MaxDepth        int               `json:"max_depth"`
	MinSamplesSplit int               `json:"min_samples_split"`
	MinSamplesLeaf  int               `json:"min_samples_leaf"`
	MaxFeatures     int               `json:"max_features"`
	Bootstrap       bool              `json:"bootstrap"`
	RandomState     int64             `json:"random_state"`
	NFeaturesIn     int               `json:"n_features_in"`
	Importances     []float64         `json:"feature_importances"`
	Estimators      []*RegressionTree `json:"estimators"`
}

func NewRandomForestRegressor(cfg ForestConfig) *RandomForestRegressor {
	if cfg.NEstimators <= 0 {
		cfg.NEstimators = DefaultForestConfig().NEstimators
	}
	return &RandomForestRegressor{
		NEstimators:     cfg.NEstimators,
		MaxDepth:        cfg.MaxDepth,
		MinSamplesSplit: cfg.MinSamplesSplit,
		MinSamplesLeaf:  cfg.MinSamplesLeaf,
		MaxFeatures:     cfg.MaxFeatures,
		Bootstrap:       true,
		RandomState:     cfg.RandomState,
	}
}

func (f *RandomForestRegressor) Kind() string { return KindRandomForestRegressor }

func (f *RandomForestRegressor) Fit(features [][]float64, targets []float64) error {
	if len(features) == 0 {
		return errors.New("random forest: no rows")
	}
	if len(features) != len(targets) {
		return errors.New("random forest: features and targets size mismatch")
	}
	if f.NEstimators <= 0 {
		return errors.New("random forest: n_estimators must be positive")
	}

	params := treeParams{
		maxDepth:        f.MaxDepth,
		minSamplesSplit: f.MinSamplesSplit,
		minSamplesLeaf:  f.MinSamplesLeaf,
		maxFeatures:     f.MaxFeatures,
	}
	n := len(features)
	rng := rand.New(rand.NewSource(f.RandomState))
	trees := make([]*RegressionTree, f.NEstimators)
	for t := range trees {
		treeRng := rand.New(rand.NewSource(rng.Int63()))
		samples := make([]int, n)
		for i := range samples {
			if f.Bootstrap {
				samples[i] = treeRng.Intn(n)
			} else {
				samples[i] = i
			}
		}
		tree := &RegressionTree{}
		if err := tree.fit(features, targets, samples, params, treeRng); err != nil {
			return fmt.Errorf("random forest: tree %d: %w", t, err)
		}
		trees[t] = tree
	}

	f.Estimators = trees
	f.NFeaturesIn = len(features[0])
	f.Importances = forestImportances(trees, f.NFeaturesIn)
	return nil
}

func (f *RandomForestRegressor) Predict(features [][]float64) ([]float64, error) {
	if len(f.Estimators) == 0 {
		return nil, fmt.Errorf("random forest: %w", ErrNotFitted)
	}
	out := make([]float64, len(features))
	for r, row := range features {
		if len(row) != f.NFeaturesIn {
			return nil, fmt.Errorf("random forest: row %d has %d features, expected %d", r, len(row), f.NFeaturesIn)
		}
		sum := 0.0
		for _, tree := range f.Estimators {
			v, err := tree.Predict(row)
			if err != nil {
				return nil, err
			}
			sum += v
		}
		out[r] = sum / float64(len(f.Estimators))
	}
	return out, nil
}

// FeatureImportances returns a copy of the normalized mean impurity decrease
// per input feature.
func (f *RandomForestRegressor) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

func (f *RandomForestRegressor) validate() error {
	if len(f.Estimators) == 0 {
		return fmt.Errorf("random forest: %w", ErrNotFitted)
	}
	if len(f.Importances) != f.NFeaturesIn {
		return errors.New("random forest: importances do not match n_features_in")
	}
	for i, tree := range f.Estimators {
		if tree == nil || tree.NFeatures != f.NFeaturesIn {
			return fmt.Errorf("random forest: estimator %d has wrong width", i)
		}
		if err := tree.validate(); err != nil {
			return fmt.Errorf("random forest: estimator %d: %w", i, err)
		}
	}
	return nil
}

func forestImportances(trees []*RegressionTree, width int) []float64 {
	out := make([]float64, width)
	for _, tree := range trees {
		decrease := tree.impurityDecrease()
		total := 0.0
		for _, v := range decrease {
			total += v
		}
		if total <= 0 {
			continue
		}
		for i, v := range decrease {
			out[i] += v / total
		}
	}
	total := 0.0
	for i := range out {
		out[i] /= float64(len(trees))
		total += out[i]
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}
