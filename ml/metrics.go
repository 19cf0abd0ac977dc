package ml

import (
	"errors"
	"math"
)

// EvaluationMetrics summarizes regression quality on held-out rows.
type EvaluationMetrics struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

func Evaluate(actual, predicted []float64) (EvaluationMetrics, error) {
	if len(actual) == 0 {
		return EvaluationMetrics{}, errors.New("no rows to evaluate")
	}
	if len(actual) != len(predicted) {
		return EvaluationMetrics{}, errors.New("actual/predicted length mismatch")
	}
	return EvaluationMetrics{
		R2:   R2Score(actual, predicted),
		MAE:  MeanAbsoluteError(actual, predicted),
		RMSE: math.Sqrt(MeanSquaredError(actual, predicted)),
	}, nil
}

// R2Score is the coefficient of determination. A constant target scores 1
// when predicted exactly and 0 otherwise.
func R2Score(actual, predicted []float64) float64 {
	mean := 0.0
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))

	var ssRes, ssTot float64
	for i, v := range actual {
		d := v - predicted[i]
		ssRes += d * d
		m := v - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func MeanAbsoluteError(actual, predicted []float64) float64 {
	sum := 0.0
	for i, v := range actual {
		sum += math.Abs(v - predicted[i])
	}
	return sum / float64(len(actual))
}

func MeanSquaredError(actual, predicted []float64) float64 {
	sum := 0.0
	for i, v := range actual {
		d := v - predicted[i]
		sum += d * d
	}
	return sum / float64(len(actual))
}
