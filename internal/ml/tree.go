package ml

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of an axis-aligned decision tree. Leaves carry the
// positive-class fraction of the training samples that reached them.
type treeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
	Leaf      bool      `json:"leaf"`
	Prob      float64   `json:"prob"`
}

// decisionTree is a single classification tree.
type decisionTree struct {
	Root *treeNode `json:"root"`
}

// treeConfig bounds tree growth.
type treeConfig struct {
	maxDepth       int
	minSamplesLeaf int
	featureSubset  int // features considered per split
}

// buildTree grows a tree on the given sample indices, accumulating split
// quality into importances (indexed by feature).
func buildTree(X [][]float64, y []int, indices []int, cfg treeConfig, rng *rand.Rand, importances []float64) *decisionTree {
	return &decisionTree{Root: growNode(X, y, indices, 0, cfg, rng, importances)}
}

func growNode(X [][]float64, y []int, indices []int, depth int, cfg treeConfig, rng *rand.Rand, importances []float64) *treeNode {
	prob := positiveFraction(y, indices)
	if depth >= cfg.maxDepth || len(indices) < 2*cfg.minSamplesLeaf || prob == 0 || prob == 1 {
		return &treeNode{Leaf: true, Prob: prob}
	}

	feature, threshold, gain := bestSplit(X, y, indices, cfg, rng)
	if gain <= 0 {
		return &treeNode{Leaf: true, Prob: prob}
	}

	var left, right []int
	for _, i := range indices {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.minSamplesLeaf || len(right) < cfg.minSamplesLeaf {
		return &treeNode{Leaf: true, Prob: prob}
	}

	importances[feature] += gain * float64(len(indices))

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growNode(X, y, left, depth+1, cfg, rng, importances),
		Right:     growNode(X, y, right, depth+1, cfg, rng, importances),
		Prob:      prob,
	}
}

// bestSplit searches a random feature subset for the split maximizing Gini
// impurity decrease. Candidate thresholds are midpoints between consecutive
// distinct sorted values.
func bestSplit(X [][]float64, y []int, indices []int, cfg treeConfig, rng *rand.Rand) (int, float64, float64) {
	numFeatures := len(X[0])
	parentImpurity := gini(y, indices)

	features := rng.Perm(numFeatures)
	if cfg.featureSubset < numFeatures {
		features = features[:cfg.featureSubset]
	}
	sort.Ints(features)

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	n := float64(len(indices))

	for _, f := range features {
		values := make([]float64, len(indices))
		for i, idx := range indices {
			values[i] = X[idx][f]
		}
		sort.Float64s(values)

		for i := 1; i < len(values); i++ {
			if values[i] == values[i-1] {
				continue
			}
			threshold := (values[i] + values[i-1]) / 2

			var left, right []int
			for _, idx := range indices {
				if X[idx][f] <= threshold {
					left = append(left, idx)
				} else {
					right = append(right, idx)
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			weighted := (float64(len(left))*gini(y, left) + float64(len(right))*gini(y, right)) / n
			gain := parentImpurity - weighted
			if gain > bestGain {
				bestFeature, bestThreshold, bestGain = f, threshold, gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

// gini computes the Gini impurity of a binary label subset.
func gini(y []int, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	p := positiveFraction(y, indices)
	return 2 * p * (1 - p)
}

func positiveFraction(y []int, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	pos := 0
	for _, i := range indices {
		if y[i] == 1 {
			pos++
		}
	}
	return float64(pos) / float64(len(indices))
}

// predict walks the tree and returns the leaf's positive-class probability.
func (t *decisionTree) predict(row []float64) float64 {
	node := t.Root
	for node != nil && !node.Leaf {
		if node.Left == nil || node.Right == nil {
			break
		}
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	if node == nil {
		return 0
	}
	return node.Prob
}

// sqrtSubset returns the default per-split feature subset size.
func sqrtSubset(numFeatures int) int {
	s := int(math.Sqrt(float64(numFeatures)))
	if s < 1 {
		return 1
	}
	return s
}
