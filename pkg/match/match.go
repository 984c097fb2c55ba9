// Package match pairs up descriptors from two frames by brute force
// nearest neighbour search.
package match

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/abworrall/burstfuse/pkg/parallel"
	"github.com/abworrall/burstfuse/pkg/surf"
)

// A Match says train descriptor TrainIdx is the closest one to query
// descriptor QueryIdx. The indices refer to positions in the slices
// given to the matcher.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

func (m Match) String() string {
	return fmt.Sprintf("match[q:%d t:%d d:%.4f]", m.QueryIdx, m.TrainIdx, m.Distance)
}

const (
	// Train descriptors are scanned in blocks of this many; each block
	// is reduced to its own minimum, then the block minima are reduced.
	blockSize = 64

	minMatchChunk = 16
)

// MatchKeypoints finds, for every query descriptor, the train
// descriptor at the smallest L2 distance (the lowest index wins ties).
// The result has one Match per query descriptor, sorted by ascending
// distance; matches with equal distance stay in query order.
func MatchKeypoints(exec parallel.Executor, query, train []surf.Descriptor) []Match {
	return sortMatches(knn(exec, query, train, 1, 0))
}

// RatioTest is MatchKeypoints, but drops any query whose best match is
// not clearly better than its second best: the best distance has to be
// below ratio times the second. With fewer than two train descriptors
// there is nothing to compare against, so every match is kept.
func RatioTest(exec parallel.Executor, query, train []surf.Descriptor, ratio float64) []Match {
	return sortMatches(knn(exec, query, train, 2, ratio))
}

// FilterByDistance keeps the matches closer than max.
func FilterByDistance(matches []Match, max float64) []Match {
	out := []Match{}
	for _, m := range matches {
		if m.Distance < max {
			out = append(out, m)
		}
	}
	return out
}

func sortMatches(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches
}

// knn runs the search, partitioned by query index. With k == 2 the
// runner-up is tracked too, and queries failing the ratio test are
// dropped.
func knn(exec parallel.Executor, query, train []surf.Descriptor, k int, ratio float64) []Match {
	if len(query) == 0 || len(train) == 0 {
		return []Match{}
	}

	best := make([]Match, len(query))
	keep := make([]bool, len(query))

	parallel.ForChunks(exec, len(query), minMatchChunk, func(lo, hi int) {
		nBlocks := (len(train) + blockSize - 1) / blockSize
		blockMins := make([]pair, nBlocks)

		for q := lo; q < hi; q++ {
			// Pass 1: best and runner-up within each block
			for b := 0; b < nBlocks; b++ {
				end := (b + 1) * blockSize
				if end > len(train) {
					end = len(train)
				}
				blockMins[b] = nearestInRange(&query[q], train, b*blockSize, end)
			}

			// Pass 2: reduce over the blocks, in block order
			m := blockMins[0]
			for _, bm := range blockMins[1:] {
				m = m.merge(bm)
			}

			best[q] = Match{QueryIdx: q, TrainIdx: m.first.idx, Distance: m.first.dist}
			keep[q] = k < 2 || len(train) < 2 || m.first.dist < ratio*m.second.dist
		}
	})

	out := make([]Match, 0, len(query))
	for q := range best {
		if keep[q] {
			out = append(out, best[q])
		}
	}
	return out
}

type candidate struct {
	idx  int
	dist float64
}

// pair is the best and second best candidates seen so far.
type pair struct {
	first, second candidate
}

func newPair() pair {
	return pair{
		first:  candidate{-1, math.Inf(1)},
		second: candidate{-1, math.Inf(1)},
	}
}

// offer considers c. Only a strictly smaller distance displaces an
// existing candidate, so earlier indices win ties.
func (p *pair) offer(c candidate) {
	switch {
	case c.dist < p.first.dist:
		p.second = p.first
		p.first = c
	case c.dist < p.second.dist:
		p.second = c
	}
}

// merge combines p with a pair covering later indices.
func (p pair) merge(o pair) pair {
	p.offer(o.first)
	p.offer(o.second)
	return p
}

func nearestInRange(q *surf.Descriptor, train []surf.Descriptor, lo, hi int) pair {
	p := newPair()
	for t := lo; t < hi; t++ {
		p.offer(candidate{t, floats.Distance(q[:], train[t][:], 2)})
	}
	return p
}
