package ml

import (
	"math"
	"testing"
)

func TestRegressionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	targets := []float64{1, 1, 5, 5}

	model := &RegressionTree{}
	if err := model.Train(features, targets, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected 1, got %f", value)
	}
	value, err = model.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 5 {
		t.Fatalf("expected 5, got %f", value)
	}
	if err := model.validate(); err != nil {
		t.Fatalf("tree failed validation: %v", err)
	}
}

func TestRegressionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	targets := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	stump := &RegressionTree{}
	if err := stump.Train(features, targets, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stump.Nodes) != 3 {
		t.Fatalf("expected a stump with 3 nodes, got %d", len(stump.Nodes))
	}
	root := stump.Nodes[0]
	if root.Threshold != 4.5 {
		t.Fatalf("expected threshold 4.5, got %f", root.Threshold)
	}

	full := &RegressionTree{}
	if err := full.Train(features, targets, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		v, err := full.Predict(row)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if math.Abs(v-targets[i]) > 1e-9 {
			t.Fatalf("row %d: expected %f, got %f", i, targets[i], v)
		}
	}
}

func TestRegressionTreeConstantFeature(t *testing.T) {
	features := [][]float64{{1}, {1}, {1}}
	targets := []float64{1, 2, 3}

	model := &RegressionTree{}
	if err := model.Train(features, targets, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(model.Nodes) != 1 || !model.Nodes[0].IsLeaf {
		t.Fatalf("expected a single leaf, got %+v", model.Nodes)
	}
	v, _ := model.Predict([]float64{1})
	if v != 2 {
		t.Fatalf("expected mean 2, got %f", v)
	}
}

func TestRegressionTreeErrors(t *testing.T) {
	model := &RegressionTree{}
	if _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for untrained tree")
	}
	if err := model.Train(nil, nil, 0); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := model.Train([][]float64{{1}}, []float64{1, 2}, 0); err == nil {
		t.Fatal("expected error for size mismatch")
	}
	if err := model.Train([][]float64{{1}, {2}}, []float64{1, 2}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := model.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected error for wrong feature width")
	}
}
