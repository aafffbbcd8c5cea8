// Package ranker holds the two interchangeable scoring models and the top-N selection on top of them.
package ranker

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"vehirec/internal/domain"
	"vehirec/internal/models"
	"vehirec/internal/pipeline"
)

// ErrQueryShape is returned when a query's vectors do not fit the trained model.
var ErrQueryShape = errors.New("query does not match model shape")

// Ranker scores (user, item) pairs. Implementations marshal their own parameters;
// callers never depend on the layout.
type Ranker interface {
	Name() string
	Train(ctx context.Context, data pipeline.TrainingSet) (TrainReport, error)
	Predict(q pipeline.Query) ([]float64, error)
	IsTrained() bool
	Shape() pipeline.Shape

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// EarlyStopping stops training once validation loss fails to improve by MinDelta
// for Patience consecutive checks. Patience <= 0 disables it.
type EarlyStopping struct {
	Patience int     `yaml:"patience"`
	MinDelta float64 `yaml:"min_delta"`
}

// Config selects and parameterizes a ranker.
type Config struct {
	Seed      int64
	Embedding EmbeddingConfig
	Tree      TreeConfig
}

// New builds an untrained ranker of the given kind.
func New(kind string, cfg Config) (Ranker, error) {
	switch kind {
	case models.RankerEmbedding:
		ec := cfg.Embedding
		if ec.Seed == 0 {
			ec.Seed = cfg.Seed
		}
		return NewEmbeddingRanker(ec), nil
	case models.RankerTree:
		return NewTreeRanker(cfg.Tree), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRanker, kind)
	}
}

// Epoch is one point of the loss curve.
type Epoch struct {
	Epoch          int     `json:"epoch"`
	TrainLoss      float64 `json:"train_loss"`
	ValidationLoss float64 `json:"validation_loss"`
}

// TrainReport is diagnostic output of a training run.
type TrainReport struct {
	Ranker         string        `json:"ranker"`
	Curve          []Epoch       `json:"curve"`
	BestEpoch      int           `json:"best_epoch"`
	StoppedEarly   bool          `json:"stopped_early"`
	TrainLoss      float64       `json:"train_loss"`
	ValidationLoss float64       `json:"validation_loss"`
	Duration       time.Duration `json:"duration"`
}

// Final returns the last recorded point, or zero.
func (r TrainReport) Final() Epoch {
	if len(r.Curve) == 0 {
		return Epoch{}
	}
	return r.Curve[len(r.Curve)-1]
}

// stopper tracks the best validation loss seen so far.
type stopper struct {
	cfg   EarlyStopping
	best  float64
	epoch int
	bad   int
}

func newStopper(cfg EarlyStopping) *stopper {
	return &stopper{cfg: cfg, best: math.Inf(1), epoch: -1}
}

// observe records a validation loss and reports whether training should stop.
func (s *stopper) observe(epoch int, loss float64) (improved, stop bool) {
	if loss < s.best-s.cfg.MinDelta {
		s.best = loss
		s.epoch = epoch
		s.bad = 0
		return true, false
	}
	s.bad++
	return false, s.cfg.Patience > 0 && s.bad >= s.cfg.Patience
}

// base carries state shared by both rankers.
type base struct {
	mu      sync.RWMutex
	name    string
	trained bool
	shape   pipeline.Shape
}

func (b *base) Name() string { return b.name }

func (b *base) IsTrained() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trained
}

func (b *base) Shape() pipeline.Shape {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shape
}

// checkQuery validates indices against the fitted shape. Caller holds the read lock.
func (b *base) checkQuery(q pipeline.Query) error {
	if !b.trained {
		return domain.ErrNotTrained
	}
	if q.UserIdx < 0 || q.UserIdx >= b.shape.Users {
		return &domain.UnknownIDError{Kind: domain.KindUser, ID: int64(q.UserIdx)}
	}
	if len(q.Features) != len(q.Items) {
		return fmt.Errorf("%w: %d items but %d feature rows", ErrQueryShape, len(q.Items), len(q.Features))
	}
	if len(q.Profile) != b.shape.Features {
		return fmt.Errorf("%w: profile width %d, want %d", ErrQueryShape, len(q.Profile), b.shape.Features)
	}
	for n, i := range q.Items {
		if i < 0 || i >= b.shape.Items {
			return &domain.UnknownIDError{Kind: domain.KindItem, ID: int64(i)}
		}
		if len(q.Features[n]) != b.shape.Features {
			return fmt.Errorf("%w: item %d has %d features, want %d", ErrQueryShape, i, len(q.Features[n]), b.shape.Features)
		}
	}
	return checkHistory(q.History, b.shape.Items)
}

func checkTrainingSet(data pipeline.TrainingSet) error {
	if len(data.Train) == 0 {
		return fmt.Errorf("%w: no training examples", domain.ErrEmptyDataset)
	}
	s := data.Shape
	for _, set := range [][]pipeline.Example{data.Train, data.Validation} {
		for _, ex := range set {
			if ex.UserIdx < 0 || ex.UserIdx >= s.Users {
				return &domain.UnknownIDError{Kind: domain.KindUser, ID: int64(ex.UserIdx)}
			}
			if ex.ItemIdx < 0 || ex.ItemIdx >= s.Items {
				return &domain.UnknownIDError{Kind: domain.KindItem, ID: int64(ex.ItemIdx)}
			}
			if len(ex.Features) != s.Features || len(ex.Profile) != s.Features {
				return fmt.Errorf("%w: example (%d, %d) feature width %d/%d, want %d",
					ErrQueryShape, ex.UserIdx, ex.ItemIdx, len(ex.Features), len(ex.Profile), s.Features)
			}
			if err := checkHistory(ex.History, s.Items); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkHistory accepts padding (0) and item tokens 1..items.
func checkHistory(history []int, items int) error {
	for _, tok := range history {
		if tok < pipeline.PadToken || tok > items {
			return fmt.Errorf("%w: history token %d outside [0, %d]", ErrQueryShape, tok, items)
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

const lossEps = 1e-12

func logLoss(p, label float64) float64 {
	p = math.Min(math.Max(p, lossEps), 1-lossEps)
	return -(label*math.Log(p) + (1-label)*math.Log(1-p))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		if i >= len(b) {
			break
		}
		s += a[i] * b[i]
	}
	return s
}
