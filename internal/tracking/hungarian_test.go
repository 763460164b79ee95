package tracking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bruteForceAssign enumerates every row-to-column mapping and returns the
// maximum number of admissible assignments and, among mappings of that
// cardinality, the minimum total cost. Exponential; test sizes only.
func bruteForceAssign(cost [][]float64) (int, float64) {
	n := len(cost)
	m := len(cost[0])
	bestCount := 0
	bestCost := math.Inf(1)
	used := make([]bool, m)

	var walk func(row int, total float64, assigned int)
	walk = func(row int, total float64, assigned int) {
		if row == n {
			if assigned > bestCount || (assigned == bestCount && total < bestCost) {
				bestCount = assigned
				bestCost = total
			}
			return
		}
		walk(row+1, total, assigned) // leave row unassigned
		for j := 0; j < m; j++ {
			if used[j] || cost[row][j] >= forbiddenCost {
				continue
			}
			used[j] = true
			walk(row+1, total+cost[row][j], assigned+1)
			used[j] = false
		}
	}
	walk(0, 0, 0)
	return bestCount, bestCost
}

func assignmentCost(cost [][]float64, assign []int) float64 {
	var total float64
	for i, j := range assign {
		if j >= 0 {
			total += cost[i][j]
		}
	}
	return total
}

func TestHungarianSquare(t *testing.T) {
	cost := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	assign := hungarianAssign(cost)
	require.Len(t, assign, 3)
	assert.Equal(t, []int{1, 0, 2}, assign)
	assert.InDelta(t, 5, assignmentCost(cost, assign), 1e-9)
}

func TestHungarianRectangular(t *testing.T) {
	// More rows than columns: one row stays unassigned.
	cost := [][]float64{
		{1, 10},
		{10, 1},
		{2, 2},
	}
	assign := hungarianAssign(cost)
	require.Len(t, assign, 3)

	unassigned := 0
	seen := make(map[int]bool)
	for _, j := range assign {
		if j < 0 {
			unassigned++
			continue
		}
		assert.False(t, seen[j], "column assigned twice")
		seen[j] = true
	}
	assert.Equal(t, 1, unassigned)
	assert.InDelta(t, 2, assignmentCost(cost, assign), 1e-9)
}

func TestHungarianForbiddenPairs(t *testing.T) {
	cost := [][]float64{
		{forbiddenCost, 1},
		{1, forbiddenCost},
	}
	assign := hungarianAssign(cost)
	assert.Equal(t, []int{1, 0}, assign)

	// A row with only forbidden entries stays unassigned.
	cost = [][]float64{
		{forbiddenCost, forbiddenCost},
		{1, 2},
	}
	assign = hungarianAssign(cost)
	assert.Equal(t, -1, assign[0])
	assert.Equal(t, 0, assign[1])
}

func TestHungarianMatchesBruteForce(t *testing.T) {
	// Deterministic pseudo-random costs; no seed dependence across runs.
	next := uint64(0x9e3779b97f4a7c15)
	rnd := func() float64 {
		next = next*6364136223846793005 + 1442695040888963407
		return float64(next>>40) / float64(1<<24)
	}

	for trial := 0; trial < 50; trial++ {
		rows := 1 + int(rnd()*4)
		cols := 1 + int(rnd()*4)
		cost := make([][]float64, rows)
		for i := range cost {
			cost[i] = make([]float64, cols)
			for j := range cost[i] {
				if rnd() < 0.2 {
					cost[i][j] = forbiddenCost
				} else {
					cost[i][j] = rnd()
				}
			}
		}
		assign := hungarianAssign(cost)
		gotCount := 0
		for _, j := range assign {
			if j >= 0 {
				gotCount++
			}
		}
		wantCount, wantCost := bruteForceAssign(cost)

		require.Equal(t, wantCount, gotCount, "trial %d: cardinality", trial)
		assert.InDelta(t, wantCost, assignmentCost(cost, assign), 1e-6, "trial %d: cost", trial)
	}
}
