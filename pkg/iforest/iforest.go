// Package iforest implements an axis-aligned Isolation Forest: trees are
// grown on random subsamples by splitting a random feature at a random
// value, and points that isolate in few splits score as anomalous.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const (
	Version  = "iforest-v1"
	eulerGam = 0.57721566490153286060
)

var ErrEmptyTrainingSet = errors.New("iforest: empty training set")

type Options struct {
	Trees         int     // number of trees
	SampleSize    int     // subsample size per tree (psi)
	Contamination float64 // expected fraction of anomalies in the training set
	Seed          int64
}

func DefaultOptions() Options {
	return Options{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// Forest is the fitted model. The JSON shape is
//
//	{
//	  "version": "iforest-v1",
//	  "sample_size": 256,
//	  "threshold": 0.61,
//	  "trees": [
//	    { "nodes": [ {"f":0,"t":0.15,"l":1,"r":2}, {"leaf":true,"size":128}, {"leaf":true,"size":12} ] }
//	  ]
//	}
type Forest struct {
	Version    string  `json:"version"`
	SampleSize int     `json:"sample_size"`
	Threshold  float64 `json:"threshold"`
	Trees      []Tree  `json:"trees"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

type Node struct {
	F    int     `json:"f,omitempty"` // feature index
	T    float64 `json:"t,omitempty"` // split value
	L    int     `json:"l,omitempty"` // left child
	R    int     `json:"r,omitempty"` // right child
	Leaf bool    `json:"leaf,omitempty"`
	Size int     `json:"size,omitempty"` // training points that reached the leaf
}

// Fit grows a forest over data and sets the decision threshold so that
// roughly opts.Contamination of the training points score above it.
func Fit(data [][]float64, opts Options) (*Forest, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	dims := len(data[0])
	for i, row := range data {
		if len(row) != dims {
			return nil, fmt.Errorf("iforest: row %d has %d features, want %d", i, len(row), dims)
		}
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultOptions().Trees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultOptions().SampleSize
	}
	if opts.Contamination <= 0 || opts.Contamination >= 1 {
		return nil, fmt.Errorf("iforest: contamination %v outside (0, 1)", opts.Contamination)
	}

	psi := opts.SampleSize
	if psi > len(data) {
		psi = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewSource(opts.Seed))

	f := &Forest{
		Version:    Version,
		SampleSize: psi,
		Trees:      make([]Tree, 0, opts.Trees),
	}
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	for t := 0; t < opts.Trees; t++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		sample := make([][]float64, psi)
		for i := 0; i < psi; i++ {
			sample[i] = data[idx[i]]
		}
		b := &builder{rng: rng, dims: dims, limit: heightLimit}
		b.grow(sample, 0)
		f.Trees = append(f.Trees, Tree{Nodes: b.nodes})
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = f.Score(row)
	}
	f.Threshold = quantile(scores, 1-opts.Contamination)
	return f, nil
}

type builder struct {
	rng   *rand.Rand
	dims  int
	limit int
	nodes []Node
}

// grow appends the subtree for points and returns its root index.
func (b *builder) grow(points [][]float64, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	if depth >= b.limit || len(points) <= 1 {
		b.nodes[at] = Node{Leaf: true, Size: len(points)}
		return at
	}

	// Only features with spread can split; constant points end as a leaf.
	var candidates []int
	lows := make([]float64, b.dims)
	highs := make([]float64, b.dims)
	for d := 0; d < b.dims; d++ {
		lo, hi := points[0][d], points[0][d]
		for _, p := range points[1:] {
			lo = math.Min(lo, p[d])
			hi = math.Max(hi, p[d])
		}
		lows[d], highs[d] = lo, hi
		if hi > lo {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		b.nodes[at] = Node{Leaf: true, Size: len(points)}
		return at
	}

	feat := candidates[b.rng.Intn(len(candidates))]
	split := lows[feat] + b.rng.Float64()*(highs[feat]-lows[feat])

	var left, right [][]float64
	for _, p := range points {
		if p[feat] <= split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[at] = Node{F: feat, T: split, L: l, R: r}
	return at
}

// Score returns the anomaly score of x in [0, 1]; values near 1 isolate
// quickly and are anomalous, values well below 0.5 are normal.
func (f *Forest) Score(x []float64) float64 {
	if f == nil || len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += pathLength(t, x)
	}
	avg := sum / float64(len(f.Trees))
	cn := cOfN(float64(f.SampleSize))
	if cn <= 0 {
		cn = 1
	}
	score := math.Pow(2, -avg/cn)
	return math.Max(0, math.Min(1, score))
}

// IsAnomaly reports whether x scores above the fitted threshold.
func (f *Forest) IsAnomaly(x []float64) bool {
	if f == nil || len(f.Trees) == 0 {
		return false
	}
	return f.Score(x) > f.Threshold
}

func (f *Forest) Validate() error {
	if f == nil || len(f.Trees) == 0 {
		return errors.New("iforest: model has zero trees")
	}
	if f.SampleSize <= 0 {
		return errors.New("iforest: model has no sample size")
	}
	for ti, t := range f.Trees {
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.L <= ni || n.R <= ni || n.L >= len(t.Nodes) || n.R >= len(t.Nodes) {
				return fmt.Errorf("iforest: tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

func pathLength(t Tree, x []float64) float64 {
	i := 0
	depth := 0.0
	for i >= 0 && i < len(t.Nodes) {
		n := t.Nodes[i]
		if n.Leaf {
			return depth + cOfN(float64(n.Size))
		}
		val := 0.0
		if n.F >= 0 && n.F < len(x) {
			val = x[n.F]
		}
		if val <= n.T {
			i = n.L
		} else {
			i = n.R
		}
		depth++
	}
	return depth
}

// cOfN is the average path length of an unsuccessful BST search over n
// points: c(n) = 2H(n-1) - 2(n-1)/n, with H(m) ≈ ln(m) + γ.
func cOfN(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2.0*(math.Log(n-1.0)+eulerGam) - (2.0*(n-1.0))/n
}

// quantile returns the q-th quantile of values with linear interpolation.
func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
