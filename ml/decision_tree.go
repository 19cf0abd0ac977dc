package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// featureThreshold is the smallest gap between two sorted feature values that
// still allows a split between them.
const featureThreshold = 1e-7

// RegressionTree is a CART regression tree stored as a flat node slice. Node 0
// is the root; children are addressed by absolute index.
type RegressionTree struct {
	Nodes     []TreeNode `json:"nodes"`
	NFeatures int        `json:"n_features"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Impurity   float64 `json:"impurity"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
}

func (p treeParams) normalized() treeParams {
	if p.minSamplesSplit < 2 {
		p.minSamplesSplit = 2
	}
	if p.minSamplesLeaf < 1 {
		p.minSamplesLeaf = 1
	}
	return p
}

// Train fits the tree on every row. maxDepth <= 0 grows the tree until leaves
// are pure.
func (dt *RegressionTree) Train(features [][]float64, targets []float64, maxDepth int) error {
	samples := make([]int, len(features))
	for i := range samples {
		samples[i] = i
	}
	return dt.fit(features, targets, samples, treeParams{maxDepth: maxDepth}, rand.New(rand.NewSource(0)))
}

func (dt *RegressionTree) fit(features [][]float64, targets []float64, samples []int, params treeParams, rng *rand.Rand) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	if len(samples) == 0 {
		return errors.New("no samples to fit")
	}
	width := len(features[0])
	for _, row := range features {
		if len(row) != width {
			return errors.New("ragged feature matrix")
		}
	}

	dt.Nodes = nil
	dt.NFeatures = width
	b := &treeBuilder{
		tree:     dt,
		features: features,
		targets:  targets,
		params:   params.normalized(),
		rng:      rng,
	}
	b.build(samples, 0)
	return nil
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != dt.NFeatures {
		return 0, errors.New("feature vector has wrong length")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// impurityDecrease sums the weighted variance reduction of every split, per
// feature.
func (dt *RegressionTree) impurityDecrease() []float64 {
	out := make([]float64, dt.NFeatures)
	for _, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		left := dt.Nodes[node.LeftChild]
		right := dt.Nodes[node.RightChild]
		gain := float64(node.Samples)*node.Impurity -
			float64(left.Samples)*left.Impurity -
			float64(right.Samples)*right.Impurity
		if gain > 0 {
			out[node.FeatureIdx] += gain
		}
	}
	return out
}

func (dt *RegressionTree) validate() error {
	if len(dt.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.RightChild <= i || node.LeftChild >= len(dt.Nodes) || node.RightChild >= len(dt.Nodes) {
			return errors.New("tree node has invalid children")
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= dt.NFeatures {
			return errors.New("tree node has invalid feature index")
		}
	}
	return nil
}

type treeBuilder struct {
	tree     *RegressionTree
	features [][]float64
	targets  []float64
	params   treeParams
	rng      *rand.Rand
}

func (b *treeBuilder) build(samples []int, depth int) int {
	n := len(samples)
	var sum, sumSq float64
	for _, i := range samples {
		sum += b.targets[i]
		sumSq += b.targets[i] * b.targets[i]
	}
	mean := sum / float64(n)
	impurity := sumSq/float64(n) - mean*mean
	if impurity < 0 {
		impurity = 0
	}

	nodeIdx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      mean,
		Impurity:   impurity,
		Samples:    n,
		IsLeaf:     true,
	})

	p := b.params
	if (p.maxDepth > 0 && depth >= p.maxDepth) || n < p.minSamplesSplit || n < 2*p.minSamplesLeaf || impurity <= epsilon {
		return nodeIdx
	}

	feature, threshold, ok := b.findBestSplit(samples, sum)
	if !ok {
		return nodeIdx
	}
	left, right := partition(b.features, samples, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	node := &b.tree.Nodes[nodeIdx]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return nodeIdx
}

// findBestSplit maximizes sum_l^2/n_l + sum_r^2/n_r, which is equivalent to
// minimizing the weighted child variance.
func (b *treeBuilder) findBestSplit(samples []int, total float64) (int, float64, bool) {
	n := len(samples)
	candidates := b.rng.Perm(b.tree.NFeatures)
	if mf := b.params.maxFeatures; mf > 0 && mf < len(candidates) {
		candidates = candidates[:mf]
	}

	parentProxy := total * total / float64(n)
	bestProxy := parentProxy
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, n)
	for _, f := range candidates {
		copy(sorted, samples)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.features[sorted[a]][f] < b.features[sorted[c]][f]
		})
		if b.features[sorted[n-1]][f] <= b.features[sorted[0]][f]+featureThreshold {
			continue
		}

		leftSum := 0.0
		for k := 0; k < n-1; k++ {
			leftSum += b.targets[sorted[k]]
			cur := b.features[sorted[k]][f]
			next := b.features[sorted[k+1]][f]
			if next <= cur+featureThreshold {
				continue
			}
			nLeft := k + 1
			nRight := n - nLeft
			if nLeft < b.params.minSamplesLeaf || nRight < b.params.minSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			proxy := leftSum*leftSum/float64(nLeft) + rightSum*rightSum/float64(nRight)
			if proxy > bestProxy+epsilon*math.Abs(bestProxy) {
				bestProxy = proxy
				bestFeature = f
				bestThreshold = cur/2 + next/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}
	if bestFeature < 0 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func partition(features [][]float64, samples []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, i := range samples {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
