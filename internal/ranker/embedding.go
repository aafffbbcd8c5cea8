package ranker

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"
	"time"

	"vehirec/internal/domain"
	"vehirec/internal/models"
	"vehirec/internal/pipeline"
)

// EmbeddingConfig parameterizes EmbeddingRanker.
type EmbeddingConfig struct {
	Factors        int           `yaml:"factors"`
	LearningRate   float64       `yaml:"learning_rate"`
	Regularization float64       `yaml:"regularization"`
	Epochs         int           `yaml:"epochs"`
	InitStd        float64       `yaml:"init_std"`
	Seed           int64         `yaml:"seed"`
	EarlyStopping  EarlyStopping `yaml:"early_stopping"`
}

// DefaultEmbeddingConfig returns defaults sized for small catalogs.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Factors:        8,
		LearningRate:   0.05,
		Regularization: 0.01,
		Epochs:         50,
		InitStd:        0.1,
		Seed:           models.DefaultSeed,
		EarlyStopping:  EarlyStopping{Patience: 5, MinDelta: 1e-4},
	}
}

type embeddingParams struct {
	User    [][]float64
	Item    [][]float64
	History [][]float64
	Weights []float64
	ItemB   []float64
	Bias    float64
}

func (p embeddingParams) clone() embeddingParams {
	return embeddingParams{
		User:    cloneMatrix(p.User),
		Item:    cloneMatrix(p.Item),
		History: cloneMatrix(p.History),
		Weights: append([]float64(nil), p.Weights...),
		ItemB:   append([]float64(nil), p.ItemB...),
		Bias:    p.Bias,
	}
}

// EmbeddingRanker is a hybrid factorization model:
//
//	score = sigmoid((P[u] + mean(H[h] for h in history)) . Q[i] + w . x[i] + b[i] + b)
//
// trained with seeded SGD on log loss and L2 regularization.
type EmbeddingRanker struct {
	base
	config EmbeddingConfig
	params embeddingParams
}

func NewEmbeddingRanker(cfg EmbeddingConfig) *EmbeddingRanker {
	def := DefaultEmbeddingConfig()
	if cfg.Factors <= 0 {
		cfg.Factors = def.Factors
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Regularization < 0 {
		cfg.Regularization = def.Regularization
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.InitStd <= 0 {
		cfg.InitStd = def.InitStd
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &EmbeddingRanker{
		base:   base{name: models.RankerEmbedding},
		config: cfg,
	}
}

// Config returns the effective configuration.
func (r *EmbeddingRanker) Config() EmbeddingConfig {
	return r.config
}

func (r *EmbeddingRanker) Train(ctx context.Context, data pipeline.TrainingSet) (TrainReport, error) {
	if err := checkTrainingSet(data); err != nil {
		return TrainReport{}, err
	}
	start := time.Now()
	rng := rand.New(rand.NewSource(r.config.Seed))
	params := r.initParams(rng, data.Shape)

	report := TrainReport{Ranker: r.name, BestEpoch: -1}
	stop := newStopper(r.config.EarlyStopping)
	best := params.clone()

	order := make([]int, len(data.Train))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < r.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainReport{}, err
		}

		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		for _, n := range order {
			r.step(&params, data.Train[n])
		}

		point := Epoch{
			Epoch:          epoch,
			TrainLoss:      meanLoss(&params, data.Train),
			ValidationLoss: meanLoss(&params, data.Validation),
		}
		report.Curve = append(report.Curve, point)

		if len(data.Validation) == 0 {
			report.BestEpoch = epoch
			best = params
			continue
		}
		improved, halt := stop.observe(epoch, point.ValidationLoss)
		if improved {
			report.BestEpoch = epoch
			best = params.clone()
		}
		if halt {
			report.StoppedEarly = true
			break
		}
	}

	if report.BestEpoch >= 0 {
		bp := report.Curve[report.BestEpoch]
		report.TrainLoss, report.ValidationLoss = bp.TrainLoss, bp.ValidationLoss
	}
	report.Duration = time.Since(start)

	r.mu.Lock()
	r.params = best
	r.shape = data.Shape
	r.trained = true
	r.mu.Unlock()

	return report, nil
}

func (r *EmbeddingRanker) initParams(rng *rand.Rand, s pipeline.Shape) embeddingParams {
	k := r.config.Factors
	randMatrix := func(rows int) [][]float64 {
		m := make([][]float64, rows)
		for i := range m {
			m[i] = make([]float64, k)
			for f := range m[i] {
				m[i][f] = rng.NormFloat64() * r.config.InitStd
			}
		}
		return m
	}
	return embeddingParams{
		User:    randMatrix(s.Users),
		Item:    randMatrix(s.Items),
		History: randMatrix(s.Items),
		Weights: make([]float64, s.Features),
		ItemB:   make([]float64, s.Items),
	}
}

// step applies one SGD update for a single example.
func (r *EmbeddingRanker) step(p *embeddingParams, ex pipeline.Example) {
	lr, reg := r.config.LearningRate, r.config.Regularization
	k := r.config.Factors

	hist := pipeline.HistoryItems(ex.History)
	userVec := p.userVector(ex.UserIdx, hist)
	pred := sigmoid(p.logit(userVec, ex.ItemIdx, ex.Features))
	g := pred - ex.Label

	pu, qi := p.User[ex.UserIdx], p.Item[ex.ItemIdx]
	qiOld := append([]float64(nil), qi...)

	for f := 0; f < k; f++ {
		qi[f] -= lr * (g*userVec[f] + reg*qi[f])
		pu[f] -= lr * (g*qiOld[f] + reg*pu[f])
	}
	if len(hist) > 0 {
		share := 1 / float64(len(hist))
		for _, h := range hist {
			hv := p.History[h]
			for f := 0; f < k; f++ {
				hv[f] -= lr * (g*qiOld[f]*share + reg*hv[f])
			}
		}
	}
	for c := range p.Weights {
		if c < len(ex.Features) {
			p.Weights[c] -= lr * (g*ex.Features[c] + reg*p.Weights[c])
		}
	}
	p.ItemB[ex.ItemIdx] -= lr * (g + reg*p.ItemB[ex.ItemIdx])
	p.Bias -= lr * g
}

func (p *embeddingParams) userVector(u int, hist []int) []float64 {
	vec := append([]float64(nil), p.User[u]...)
	if len(hist) == 0 {
		return vec
	}
	share := 1 / float64(len(hist))
	for _, h := range hist {
		for f, v := range p.History[h] {
			vec[f] += v * share
		}
	}
	return vec
}

func (p *embeddingParams) logit(userVec []float64, item int, features []float64) float64 {
	return dot(userVec, p.Item[item]) + dot(p.Weights, features) + p.ItemB[item] + p.Bias
}

func meanLoss(p *embeddingParams, examples []pipeline.Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	var total float64
	for _, ex := range examples {
		uv := p.userVector(ex.UserIdx, pipeline.HistoryItems(ex.History))
		total += logLoss(sigmoid(p.logit(uv, ex.ItemIdx, ex.Features)), ex.Label)
	}
	return total / float64(len(examples))
}

func (r *EmbeddingRanker) Predict(q pipeline.Query) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQuery(q); err != nil {
		return nil, err
	}

	uv := r.params.userVector(q.UserIdx, pipeline.HistoryItems(q.History))
	scores := make([]float64, len(q.Items))
	for n, i := range q.Items {
		scores[n] = sigmoid(r.params.logit(uv, i, q.Features[n]))
	}
	return scores, nil
}

type embeddingWire struct {
	Config EmbeddingConfig
	Shape  pipeline.Shape
	Params embeddingParams
}

func (r *EmbeddingRanker) MarshalBinary() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.trained {
		return nil, fmt.Errorf("marshal %s ranker: %w", r.name, domain.ErrNotTrained)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(embeddingWire{Config: r.config, Shape: r.shape, Params: r.params}); err != nil {
		return nil, fmt.Errorf("marshal %s ranker: %w", r.name, err)
	}
	return buf.Bytes(), nil
}

func (r *EmbeddingRanker) UnmarshalBinary(data []byte) error {
	var w embeddingWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("unmarshal %s ranker: %w", models.RankerEmbedding, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = models.RankerEmbedding
	r.config = w.Config
	r.shape = w.Shape
	r.params = w.Params
	r.trained = true
	return nil
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
