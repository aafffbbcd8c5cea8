package pipeline

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
)

// LabeledPair is a (user, item) pair with a binary label, before featurization.
type LabeledPair struct {
	UserIdx int
	ItemIdx int
	Label   float64
}

// Example is a fully featurized training row.
type Example struct {
	UserIdx  int
	ItemIdx  int
	History  []int
	Features []float64
	Profile  []float64
	Label    float64
}

// Shortfall lists users that received no negatives because too few items were left to sample.
type Shortfall struct {
	Users []int
}

// Count is the number of users skipped.
func (s Shortfall) Count() int {
	return len(s.Users)
}

// ExampleGenerator produces balanced positive/negative pairs with a seeded RNG.
type ExampleGenerator struct {
	seed   int64
	logger zerolog.Logger
}

func NewExampleGenerator(seed int64, logger *zerolog.Logger) *ExampleGenerator {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "example_generator").Logger()
	}
	return &ExampleGenerator{seed: seed, logger: l}
}

// Generate emits one positive per distinct observed (user, item) pair and, for every
// user, as many negatives as positives drawn without replacement from the items the
// user never booked. Users whose pool is smaller than their positive count get no
// negatives; they are logged and reported in the Shortfall instead of failing.
func (g *ExampleGenerator) Generate(interactions []Interaction, numItems int) ([]LabeledPair, Shortfall) {
	rng := rand.New(rand.NewSource(g.seed))

	taken := make(map[int]map[int]struct{})
	for _, it := range interactions {
		if taken[it.UserIdx] == nil {
			taken[it.UserIdx] = make(map[int]struct{})
		}
		taken[it.UserIdx][it.ItemIdx] = struct{}{}
	}

	users := make([]int, 0, len(taken))
	for u := range taken {
		users = append(users, u)
	}
	sort.Ints(users)

	var (
		pairs     []LabeledPair
		shortfall Shortfall
	)
	for _, u := range users {
		positives := sortedKeys(taken[u])
		for _, i := range positives {
			pairs = append(pairs, LabeledPair{UserIdx: u, ItemIdx: i, Label: 1})
		}

		pool := make([]int, 0, numItems)
		for i := 0; i < numItems; i++ {
			if _, ok := taken[u][i]; !ok {
				pool = append(pool, i)
			}
		}

		k := len(positives)
		if len(pool) < k {
			shortfall.Users = append(shortfall.Users, u)
			g.logger.Warn().
				Int("user_idx", u).
				Int("positives", k).
				Int("pool", len(pool)).
				Msg("Not enough unseen items for negative sampling, skipping negatives")
			continue
		}

		rng.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })
		negatives := pool[:k]
		sort.Ints(negatives)
		for _, i := range negatives {
			pairs = append(pairs, LabeledPair{UserIdx: u, ItemIdx: i, Label: 0})
		}
	}

	g.logger.Debug().
		Int("pairs", len(pairs)).
		Int("users", len(users)).
		Int("shortfall", shortfall.Count()).
		Msg("Generated labeled pairs")

	return pairs, shortfall
}

// Split shuffles examples with the seed and holds out ceil(n*fraction) of them for validation.
// At least one example always stays in the training part.
func Split(examples []Example, fraction float64, seed int64) (train, validation []Example) {
	n := len(examples)
	if n == 0 {
		return nil, nil
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })

	nVal := 0
	if fraction > 0 {
		nVal = int(math.Ceil(float64(n)*fraction - 1e-9))
	}
	if nVal >= n {
		nVal = n - 1
	}

	validation = make([]Example, 0, nVal)
	train = make([]Example, 0, n-nVal)
	for pos, idx := range order {
		if pos < nVal {
			validation = append(validation, examples[idx])
		} else {
			train = append(train, examples[idx])
		}
	}
	return train, validation
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
