package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IsolationForestConfig holds configuration for Isolation Forest
type IsolationForestConfig struct {
	NumTrees      int     `msgpack:"num_trees" mapstructure:"num_trees"`           // default: 100
	SubsampleSize int     `msgpack:"subsample_size" mapstructure:"subsample_size"` // default: 256, capped at the row count
	MaxDepth      int     `msgpack:"max_depth" mapstructure:"max_depth"`           // default: ceil(log2(subsample))
	Contamination float64 `msgpack:"contamination" mapstructure:"contamination"`   // default: 0.05
	Seed          int64   `msgpack:"seed" mapstructure:"seed"`                     // default: 42
}

// DefaultIsolationForestConfig returns the stock configuration.
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: 0.05,
		Seed:          42,
	}
}

func (c IsolationForestConfig) withDefaults() IsolationForestConfig {
	d := DefaultIsolationForestConfig()
	if c.NumTrees <= 0 {
		c.NumTrees = d.NumTrees
	}
	if c.SubsampleSize <= 0 {
		c.SubsampleSize = d.SubsampleSize
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		c.Contamination = d.Contamination
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	return c
}

// IsolationNode is one node of an isolation tree. Leaves keep the number of
// training rows that reached them.
type IsolationNode struct {
	Feature int            `msgpack:"f"`
	Split   float64        `msgpack:"s"`
	Size    int            `msgpack:"n"`
	Leaf    bool           `msgpack:"l"`
	Left    *IsolationNode `msgpack:"lt,omitempty"`
	Right   *IsolationNode `msgpack:"rt,omitempty"`
}

// IsolationForest scores rows by how quickly random axis-aligned splits
// isolate them. Scores follow the decision-function convention: negative
// means outlier, lower means more anomalous.
//
// All fields are exported so the trained state can be encoded as a value.
type IsolationForest struct {
	Config      IsolationForestConfig `msgpack:"config"`
	Trees       []*IsolationNode      `msgpack:"trees"`
	SampleSize  int                   `msgpack:"sample_size"`
	NumFeatures int                   `msgpack:"num_features"`
	Offset      float64               `msgpack:"offset"`
}

// NewIsolationForest creates an untrained forest.
func NewIsolationForest(cfg IsolationForestConfig) *IsolationForest {
	return &IsolationForest{Config: cfg.withDefaults()}
}

// Name returns the algorithm name.
func (f *IsolationForest) Name() string {
	return "isolation_forest"
}

// Trained reports whether Fit has completed.
func (f *IsolationForest) Trained() bool {
	return len(f.Trees) > 0
}

// Fit builds the forest from rows and sets the decision offset so that the
// Contamination fraction of training rows scores below zero. ctx is checked
// between trees; on cancellation the forest is left untouched.
func (f *IsolationForest) Fit(ctx context.Context, rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("cannot fit on empty data")
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(r), width)
		}
	}

	cfg := f.Config.withDefaults()
	sampleSize := min(cfg.SubsampleSize, len(rows))
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	b := &treeBuilder{rng: rng, maxDepth: maxDepth, width: width}
	trees := make([]*IsolationNode, 0, cfg.NumTrees)
	for i := 0; i < cfg.NumTrees; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := rng.Perm(len(rows))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, k := range idx {
			sample[j] = rows[k]
		}
		trees = append(trees, b.build(sample, 0))
	}

	trained := &IsolationForest{
		Config:      cfg,
		Trees:       trees,
		SampleSize:  sampleSize,
		NumFeatures: width,
	}
	trained.Offset = percentile(trained.ScoreSamples(rows), 100*cfg.Contamination)
	*f = *trained
	return nil
}

// ScoreSamples returns the opposite of the anomaly score s(x) for each row,
// so values lie in [-1, 0] and lower is more anomalous.
func (f *IsolationForest) ScoreSamples(rows [][]float64) []float64 {
	norm := averagePathLength(f.SampleSize)
	scores := make([]float64, len(rows))
	for i, row := range rows {
		var total float64
		for _, tree := range f.Trees {
			total += pathLength(tree, row)
		}
		mean := total / float64(len(f.Trees))
		if norm == 0 {
			scores[i] = -0.5
			continue
		}
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores
}

// DecisionFunction returns ScoreSamples shifted by the fitted offset.
// Negative values are outliers.
func (f *IsolationForest) DecisionFunction(rows [][]float64) ([]float64, error) {
	if !f.Trained() {
		return nil, fmt.Errorf("forest not trained yet")
	}
	for i, r := range rows {
		if len(r) != f.NumFeatures {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(r), f.NumFeatures)
		}
	}
	scores := f.ScoreSamples(rows)
	for i := range scores {
		scores[i] -= f.Offset
	}
	return scores, nil
}

type treeBuilder struct {
	rng      *rand.Rand
	maxDepth int
	width    int
}

// build grows a tree. A node becomes a leaf at max depth, at one row, or
// when every feature is constant across its rows.
func (b *treeBuilder) build(rows [][]float64, depth int) *IsolationNode {
	if len(rows) <= 1 || depth >= b.maxDepth {
		return &IsolationNode{Leaf: true, Size: len(rows)}
	}

	type span struct {
		feature  int
		min, max float64
	}
	var candidates []span
	for j := 0; j < b.width; j++ {
		lo, hi := rows[0][j], rows[0][j]
		for _, r := range rows[1:] {
			lo, hi = math.Min(lo, r[j]), math.Max(hi, r[j])
		}
		if lo < hi {
			candidates = append(candidates, span{j, lo, hi})
		}
	}
	if len(candidates) == 0 {
		return &IsolationNode{Leaf: true, Size: len(rows)}
	}

	c := candidates[b.rng.Intn(len(candidates))]
	split := c.min + b.rng.Float64()*(c.max-c.min)

	var left, right [][]float64
	for _, r := range rows {
		if r[c.feature] <= split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return &IsolationNode{
		Feature: c.feature,
		Split:   split,
		Size:    len(rows),
		Left:    b.build(left, depth+1),
		Right:   b.build(right, depth+1),
	}
}

// pathLength is the depth at which row lands plus the expected remaining
// depth of the rows sharing its leaf.
func pathLength(node *IsolationNode, row []float64) float64 {
	depth := 0.0
	for node != nil && !node.Leaf {
		if row[node.Feature] <= node.Split {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	if node == nil {
		return depth
	}
	return depth + averagePathLength(node.Size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful
// binary-search-tree lookup over n items: 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	harmonic := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
