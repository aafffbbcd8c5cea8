package ranker

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"time"

	"vehirec/internal/domain"
	"vehirec/internal/models"
	"vehirec/internal/pipeline"
)

// TreeConfig parameterizes TreeRanker.
type TreeConfig struct {
	Rounds         int           `yaml:"rounds"`
	MaxDepth       int           `yaml:"max_depth"`
	LearningRate   float64       `yaml:"learning_rate"`
	Lambda         float64       `yaml:"lambda"`
	MinChildWeight float64       `yaml:"min_child_weight"`
	MinSplitGain   float64       `yaml:"min_split_gain"`
	EarlyStopping  EarlyStopping `yaml:"early_stopping"`
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		Rounds:         100,
		MaxDepth:       3,
		LearningRate:   0.1,
		Lambda:         1.0,
		MinChildWeight: 1e-3,
		MinSplitGain:   0,
		EarlyStopping:  EarlyStopping{Patience: 10, MinDelta: 1e-4},
	}
}

const leafNode = -1

// treeNode is a flattened tree node. Leaves have Feature == leafNode.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

type regressionTree struct {
	Nodes []treeNode
}

func (t regressionTree) predict(row []float64) float64 {
	n := 0
	for {
		node := t.Nodes[n]
		if node.Feature == leafNode {
			return node.Value
		}
		if row[node.Feature] < node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

// TreeRanker is a second-order gradient boosted tree ensemble on log loss.
// Each row is item features, the user's profile, and their cosine similarity.
type TreeRanker struct {
	base
	config    TreeConfig
	baseScore float64
	trees     []regressionTree
}

func NewTreeRanker(cfg TreeConfig) *TreeRanker {
	def := DefaultTreeConfig()
	if cfg.Rounds <= 0 {
		cfg.Rounds = def.Rounds
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Lambda < 0 {
		cfg.Lambda = def.Lambda
	}
	if cfg.MinChildWeight <= 0 {
		cfg.MinChildWeight = def.MinChildWeight
	}
	return &TreeRanker{
		base:   base{name: models.RankerTree},
		config: cfg,
	}
}

func (r *TreeRanker) Config() TreeConfig {
	return r.config
}

// treeRow builds the model input for one (profile, item features) pair.
func treeRow(features, profile []float64) []float64 {
	row := make([]float64, 0, len(features)+len(profile)+1)
	row = append(row, features...)
	row = append(row, profile...)
	return append(row, pipeline.Cosine(features, profile))
}

func (r *TreeRanker) Train(ctx context.Context, data pipeline.TrainingSet) (TrainReport, error) {
	if err := checkTrainingSet(data); err != nil {
		return TrainReport{}, err
	}
	start := time.Now()

	x, y := treeMatrix(data.Train)
	vx, vy := treeMatrix(data.Validation)

	var positives float64
	for _, label := range y {
		positives += label
	}
	prior := math.Min(math.Max(positives/float64(len(y)), 1e-6), 1-1e-6)
	baseScore := math.Log(prior / (1 - prior))

	margin := filled(len(y), baseScore)
	vmargin := filled(len(vy), baseScore)
	grad := make([]float64, len(y))
	hess := make([]float64, len(y))

	report := TrainReport{Ranker: r.name, BestEpoch: -1}
	stop := newStopper(r.config.EarlyStopping)
	var trees []regressionTree

	for round := 0; round < r.config.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return TrainReport{}, err
		}

		for i := range y {
			p := sigmoid(margin[i])
			grad[i] = p - y[i]
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		idx := make([]int, len(y))
		for i := range idx {
			idx[i] = i
		}
		b := &treeBuilder{cfg: r.config, x: x, grad: grad, hess: hess}
		b.build(idx, 0)
		tree := regressionTree{Nodes: b.nodes}
		trees = append(trees, tree)

		for i, row := range x {
			margin[i] += tree.predict(row)
		}
		for i, row := range vx {
			vmargin[i] += tree.predict(row)
		}

		point := Epoch{
			Epoch:          round,
			TrainLoss:      marginLoss(margin, y),
			ValidationLoss: marginLoss(vmargin, vy),
		}
		report.Curve = append(report.Curve, point)

		if len(vy) == 0 {
			report.BestEpoch = round
			continue
		}
		improved, halt := stop.observe(round, point.ValidationLoss)
		if improved {
			report.BestEpoch = round
		}
		if halt {
			report.StoppedEarly = true
			break
		}
	}

	if report.BestEpoch >= 0 {
		trees = trees[:report.BestEpoch+1]
		bp := report.Curve[report.BestEpoch]
		report.TrainLoss, report.ValidationLoss = bp.TrainLoss, bp.ValidationLoss
	} else {
		trees = nil
	}
	report.Duration = time.Since(start)

	r.mu.Lock()
	r.baseScore = baseScore
	r.trees = trees
	r.shape = data.Shape
	r.trained = true
	r.mu.Unlock()

	return report, nil
}

func treeMatrix(examples []pipeline.Example) (x [][]float64, y []float64) {
	x = make([][]float64, len(examples))
	y = make([]float64, len(examples))
	for i, ex := range examples {
		x[i] = treeRow(ex.Features, ex.Profile)
		y[i] = ex.Label
	}
	return x, y
}

func marginLoss(margin, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var total float64
	for i := range y {
		total += logLoss(sigmoid(margin[i]), y[i])
	}
	return total / float64(len(y))
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type treeBuilder struct {
	cfg   TreeConfig
	x     [][]float64
	grad  []float64
	hess  []float64
	nodes []treeNode
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

// build grows the subtree for the given rows and returns its node index.
func (b *treeBuilder) build(rows []int, depth int) int {
	var g, h float64
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}

	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: leafNode, Value: b.cfg.LearningRate * (-g / (h + b.cfg.Lambda))})

	if depth >= b.cfg.MaxDepth || len(rows) < 2 {
		return pos
	}
	best, ok := b.bestSplit(rows, g, h)
	if !ok {
		return pos
	}

	var left, right []int
	for _, i := range rows {
		if b.x[i][best.feature] < best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	rn := b.build(right, depth+1)
	b.nodes[pos] = treeNode{Feature: best.feature, Threshold: best.threshold, Left: l, Right: rn}
	return pos
}

// bestSplit scans features in ascending order and thresholds in ascending order;
// only a strictly larger gain replaces the current best.
func (b *treeBuilder) bestSplit(rows []int, g, h float64) (split, bool) {
	lambda := b.cfg.Lambda
	parent := g * g / (h + lambda)
	best := split{gain: b.cfg.MinSplitGain}
	found := false

	width := len(b.x[rows[0]])
	sorted := make([]int, len(rows))
	for f := 0; f < width; f++ {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, c int) bool {
			va, vc := b.x[sorted[a]][f], b.x[sorted[c]][f]
			if va != vc {
				return va < vc
			}
			return sorted[a] < sorted[c]
		})

		var gl, hl float64
		for n := 0; n < len(sorted)-1; n++ {
			i := sorted[n]
			gl += b.grad[i]
			hl += b.hess[i]

			cur, next := b.x[i][f], b.x[sorted[n+1]][f]
			if cur == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.cfg.MinChildWeight || hr < b.cfg.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > best.gain {
				best = split{feature: f, threshold: (cur + next) / 2, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func (r *TreeRanker) Predict(q pipeline.Query) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQuery(q); err != nil {
		return nil, err
	}

	scores := make([]float64, len(q.Items))
	for n := range q.Items {
		row := treeRow(q.Features[n], q.Profile)
		m := r.baseScore
		for _, t := range r.trees {
			m += t.predict(row)
		}
		scores[n] = sigmoid(m)
	}
	return scores, nil
}

// Trees is the number of boosting rounds kept after training.
func (r *TreeRanker) Trees() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trees)
}

type treeWire struct {
	Config    TreeConfig
	Shape     pipeline.Shape
	BaseScore float64
	Trees     []regressionTree
}

func (r *TreeRanker) MarshalBinary() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.trained {
		return nil, fmt.Errorf("marshal %s ranker: %w", r.name, domain.ErrNotTrained)
	}
	var buf bytes.Buffer
	w := treeWire{Config: r.config, Shape: r.shape, BaseScore: r.baseScore, Trees: r.trees}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("marshal %s ranker: %w", r.name, err)
	}
	return buf.Bytes(), nil
}

func (r *TreeRanker) UnmarshalBinary(data []byte) error {
	var w treeWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("unmarshal %s ranker: %w", models.RankerTree, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = models.RankerTree
	r.config = w.Config
	r.shape = w.Shape
	r.baseScore = w.BaseScore
	r.trees = w.Trees
	r.trained = true
	return nil
}
