package sequence

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func TestBalancedEveryItemExactQuota(t *testing.T) {
	cases := []struct {
		items, trials int
	}{
		{1, 1},
		{1, 7},
		{2, 64},
		{10, 200},
		{20, 20},
		{20, 200},
		{13, 26},
	}

	for _, tc := range cases {
		for seed := uint64(0); seed < 20; seed++ {
			order, err := Balanced(seeded(seed), tc.items, tc.trials)
			require.NoError(t, err)
			require.Len(t, order, tc.trials)

			counts := make([]int, tc.items)
			for _, v := range order {
				require.GreaterOrEqual(t, v, 0)
				require.Less(t, v, tc.items)
				counts[v]++
			}
			for item, c := range counts {
				assert.Equal(t, tc.trials/tc.items, c, "items=%d trials=%d item=%d", tc.items, tc.trials, item)
			}
		}
	}
}

func TestBalancedRejectsNonDivisibleCount(t *testing.T) {
	_, err := Balanced(seeded(1), 3, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrInvalidTrialCount)

	_, err = Balanced(seeded(1), 0, 10)
	assert.ErrorIs(t, err, faults.ErrInvalidTrialCount)

	_, err = Balanced(seeded(1), 2, -2)
	assert.ErrorIs(t, err, faults.ErrInvalidTrialCount)
}

func TestBalancedZeroTrials(t *testing.T) {
	order, err := Balanced(seeded(1), 4, 0)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestBalancedIsDeterministicForSeed(t *testing.T) {
	a, err := Balanced(seeded(99), 10, 100)
	require.NoError(t, err)
	b, err := Balanced(seeded(99), 10, 100)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBalancedOrderVaries(t *testing.T) {
	seen := map[string]bool{}
	for seed := uint64(0); seed < 10; seed++ {
		order, err := Balanced(seeded(seed), 5, 10)
		require.NoError(t, err)
		key := ""
		for _, v := range order {
			key += string(rune('0' + v))
		}
		seen[key] = true
	}
	assert.Greater(t, len(seen), 1, "orders should not all be identical")
}

// 10 lines x 2 stimulus types, one block of 20 trials: each pair exactly
// once and the index set is a permutation of [0,20).
func TestBlockTenLinesTwoTypes(t *testing.T) {
	s := NewSeeded(7)
	block, err := s.Block(10, 2, 20)
	require.NoError(t, err)
	require.Len(t, block.Cells, 20)

	sorted := append([]int(nil), block.Order...)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v)
	}

	pairs := map[Assignment]int{}
	for _, a := range block.Trials() {
		pairs[a]++
	}
	assert.Len(t, pairs, 20)
	for a, n := range pairs {
		assert.Equal(t, 1, n, "pair %+v", a)
		assert.Less(t, a.Location, 10)
		assert.Less(t, a.Condition, 2)
	}
}

func TestBlockRejectsEmptyCrossProduct(t *testing.T) {
	_, err := NewSeeded(1).Block(0, 2, 4)
	assert.ErrorIs(t, err, faults.ErrInvalidTrialCount)

	_, err = NewSeeded(1).Block(10, 2, 30)
	assert.ErrorIs(t, err, faults.ErrInvalidTrialCount)
}

func TestCrossProductLayout(t *testing.T) {
	cells := CrossProduct(3, 2)
	require.Len(t, cells, 6)
	assert.Equal(t, Assignment{Location: 0, Condition: 1}, cells[1])
	assert.Equal(t, Assignment{Location: 2, Condition: 0}, cells[4])
	assert.Nil(t, CrossProduct(0, 2))
}
