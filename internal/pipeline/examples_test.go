package pipeline

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleGenerator_Balanced(t *testing.T) {
	interactions := []Interaction{
		{BookingID: 1, UserIdx: 0, ItemIdx: 0},
		{BookingID: 2, UserIdx: 0, ItemIdx: 2},
		{BookingID: 3, UserIdx: 0, ItemIdx: 2},
		{BookingID: 4, UserIdx: 1, ItemIdx: 1},
	}
	logger := zerolog.Nop()
	gen := NewExampleGenerator(42, &logger)

	pairs, shortfall := gen.Generate(interactions, 5)

	assert.Equal(t, 0, shortfall.Count())

	pos := map[int]map[int]bool{}
	neg := map[int]map[int]bool{}
	for _, p := range pairs {
		target := neg
		if p.Label == 1 {
			target = pos
		}
		if target[p.UserIdx] == nil {
			target[p.UserIdx] = map[int]bool{}
		}
		assert.False(t, target[p.UserIdx][p.ItemIdx], "duplicate pair")
		target[p.UserIdx][p.ItemIdx] = true
	}

	for u := range pos {
		assert.Equal(t, len(pos[u]), len(neg[u]), "user %d", u)
		for i := range neg[u] {
			assert.False(t, pos[u][i], "negative overlaps positive for user %d", u)
		}
	}
	assert.Len(t, pos[0], 2)
	assert.Len(t, pos[1], 1)
}

func TestExampleGenerator_Deterministic(t *testing.T) {
	interactions := []Interaction{
		{BookingID: 1, UserIdx: 0, ItemIdx: 0},
		{BookingID: 2, UserIdx: 1, ItemIdx: 3},
		{BookingID: 3, UserIdx: 1, ItemIdx: 4},
	}

	a, _ := NewExampleGenerator(7, nil).Generate(interactions, 10)
	b, _ := NewExampleGenerator(7, nil).Generate(interactions, 10)

	assert.Equal(t, a, b)
}

func TestExampleGenerator_Shortfall(t *testing.T) {
	interactions := []Interaction{
		{BookingID: 1, UserIdx: 0, ItemIdx: 0},
		{BookingID: 2, UserIdx: 0, ItemIdx: 1},
		{BookingID: 3, UserIdx: 0, ItemIdx: 2},
		{BookingID: 4, UserIdx: 1, ItemIdx: 0},
	}

	pairs, shortfall := NewExampleGenerator(1, nil).Generate(interactions, 4)

	require.Equal(t, 1, shortfall.Count())
	assert.Equal(t, []int{0}, shortfall.Users)

	var user0Neg, user1Neg int
	for _, p := range pairs {
		if p.Label == 0 && p.UserIdx == 0 {
			user0Neg++
		}
		if p.Label == 0 && p.UserIdx == 1 {
			user1Neg++
		}
	}
	assert.Zero(t, user0Neg)
	assert.Equal(t, 1, user1Neg)
}

func TestSplit(t *testing.T) {
	examples := make([]Example, 10)
	for i := range examples {
		examples[i] = Example{UserIdx: i}
	}

	train, val := Split(examples, 0.2, 42)
	assert.Len(t, train, 8)
	assert.Len(t, val, 2)

	train2, val2 := Split(examples, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, val, val2)

	seen := map[int]bool{}
	for _, e := range append(train, val...) {
		assert.False(t, seen[e.UserIdx])
		seen[e.UserIdx] = true
	}
	assert.Len(t, seen, 10)

	t.Run("KeepsOneForTraining", func(t *testing.T) {
		tr, v := Split(examples[:1], 0.5, 1)
		assert.Len(t, tr, 1)
		assert.Empty(t, v)
	})

	t.Run("Empty", func(t *testing.T) {
		tr, v := Split(nil, 0.2, 1)
		assert.Nil(t, tr)
		assert.Nil(t, v)
	})
}
