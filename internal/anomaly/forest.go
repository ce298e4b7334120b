package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	numTrees      = 100
	maxSampleSize = 256

	// Fixed seed: retraining on the same data must produce the same model.
	forestSeed = 42
)

// eulerMascheroni for the average unsuccessful-search path length.
const eulerMascheroni = 0.5772156649

// treeNode is one node of an isolation tree. Leaf nodes have Left == nil
// and carry the subsample size that reached them.
type treeNode struct {
	Feature int       `json:"f,omitempty"`
	Value   float64   `json:"v,omitempty"`
	Left    *treeNode `json:"l,omitempty"`
	Right   *treeNode `json:"r,omitempty"`
	Size    int       `json:"n,omitempty"`
}

// scaler standardizes features column-wise with the training mean/stddev.
type scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(matrix [][]float64) *scaler {
	cols := len(matrix[0])
	s := &scaler{
		Mean: make([]float64, cols),
		Std:  make([]float64, cols),
	}
	n := float64(len(matrix))
	for _, row := range matrix {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range matrix {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] == 0 {
			// Constant column: pass through unscaled.
			s.Std[j] = 1
		}
	}
	return s
}

func (s *scaler) transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// forest is a fitted isolation forest.
type forest struct {
	Trees      []*treeNode `json:"trees"`
	SampleSize int         `json:"sampleSize"`
}

// avgPathLength is c(n): the average BST unsuccessful-search depth, the
// normalization constant from the isolation forest paper.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	f := float64(n)
	return 2*(math.Log(f-1)+eulerMascheroni) - 2*(f-1)/f
}

func buildTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(rows) <= 1 || depth >= maxDepth {
		return &treeNode{Size: len(rows)}
	}

	// Pick a feature with spread; give up after a few attempts when the
	// subsample is degenerate.
	cols := len(rows[0])
	for attempt := 0; attempt < cols; attempt++ {
		feature := rng.Intn(cols)
		lo, hi := rows[0][feature], rows[0][feature]
		for _, r := range rows[1:] {
			if r[feature] < lo {
				lo = r[feature]
			}
			if r[feature] > hi {
				hi = r[feature]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)

		var left, right [][]float64
		for _, r := range rows {
			if r[feature] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &treeNode{
			Feature: feature,
			Value:   split,
			Left:    buildTree(left, depth+1, maxDepth, rng),
			Right:   buildTree(right, depth+1, maxDepth, rng),
		}
	}
	return &treeNode{Size: len(rows)}
}

func pathLength(node *treeNode, row []float64, depth float64) float64 {
	if node.Left == nil {
		return depth + avgPathLength(node.Size)
	}
	if row[node.Feature] < node.Value {
		return pathLength(node.Left, row, depth+1)
	}
	return pathLength(node.Right, row, depth+1)
}

// anomalyScore is s(x) = 2^(-E[h(x)] / c(sampleSize)), in (0,1): values
// near 1 isolate quickly and are anomalous, values near 0.5 are typical.
func (f *forest) anomalyScore(row []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += pathLength(t, row, 0)
	}
	mean := total / float64(len(f.Trees))
	c := avgPathLength(f.SampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Exp2(-mean / c)
}

// model is the trained scorer: standardization, forest, and the decision
// threshold derived from the contamination ratio at training time.
type model struct {
	FeatureNames []string `json:"featureNames"`
	Scaler       *scaler  `json:"scaler"`
	Forest       *forest  `json:"forest"`
	Threshold    float64  `json:"threshold"`
}

var _ scorer = (*model)(nil)

// fitModel standardizes the feature matrix, grows the forest, and sets the
// anomaly threshold so roughly the contamination fraction of the training
// data scores above it.
func fitModel(matrix [][]float64, contamination float64) (*model, error) {
	if len(matrix) == 0 {
		return nil, errors.New("empty feature matrix")
	}
	for _, row := range matrix {
		if len(row) != FeatureCount {
			return nil, fmt.Errorf("feature row has %d columns, want %d", len(row), FeatureCount)
		}
	}

	sc := fitScaler(matrix)
	scaled := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled[i] = sc.transform(row)
	}

	sampleSize := maxSampleSize
	if len(scaled) < sampleSize {
		sampleSize = len(scaled)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	rng := rand.New(rand.NewSource(forestSeed))
	f := &forest{SampleSize: sampleSize}
	for i := 0; i < numTrees; i++ {
		idx := rng.Perm(len(scaled))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, k := range idx {
			sample[j] = scaled[k]
		}
		f.Trees = append(f.Trees, buildTree(sample, 0, maxDepth, rng))
	}

	// Threshold at the (1 - contamination) quantile of training scores.
	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = f.anomalyScore(row)
	}
	sort.Float64s(scores)
	cut := int(math.Ceil(float64(len(scores)) * (1 - contamination)))
	if cut >= len(scores) {
		cut = len(scores) - 1
	}
	threshold := scores[cut]

	return &model{
		FeatureNames: append([]string(nil), FeatureNames...),
		Scaler:       sc,
		Forest:       f,
		Threshold:    threshold,
	}, nil
}

func (m *model) Predict(tx Transaction, history []Transaction) Result {
	raw := ExtractFeatures(tx, history)
	score := m.Forest.anomalyScore(m.Scaler.transform(raw))

	// Normalize to [0,1]; the forest score tops out near 1 so this keeps
	// typical transactions well under 0.5.
	normalized := score / 2
	if normalized > 1 {
		normalized = 1
	}
	if normalized < 0 {
		normalized = 0
	}

	return Result{
		IsAnomaly: score >= m.Threshold,
		Score:     normalized,
		Reasons:   featureReasons(raw),
	}
}

// featureReasons compares raw (unscaled) feature values against fixed
// thresholds to explain a model decision in plain language.
func featureReasons(f []float64) []string {
	var reasons []string
	if f[0] > 200 {
		reasons = append(reasons, fmt.Sprintf("high transaction amount: %.2f drUSD", f[0]))
	}
	if f[3] > 5 {
		reasons = append(reasons, fmt.Sprintf("high transaction frequency: %d in last hour", int(f[3])))
	}
	if f[7] > 2 {
		reasons = append(reasons, "transaction amount significantly deviates from average")
	}
	if f[8] < 0.5 {
		reasons = append(reasons, "unusual spending category for this beneficiary")
	}
	if f[9] < 0.1 {
		reasons = append(reasons, "rapid successive transactions detected")
	}
	if len(reasons) == 0 {
		reasons = []string{"anomalous pattern detected by model"}
	}
	return reasons
}
