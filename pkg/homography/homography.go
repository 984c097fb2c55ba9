// Package homography estimates the projective transform between two
// frames from matched keypoints, robustly, with RANSAC.
package homography

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/codahale/hdrhistogram"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/match"
	"github.com/abworrall/burstfuse/pkg/surf"
)

var (
	ErrTooFewPoints = errors.New("too few correspondences")
	ErrNoModel      = errors.New("no non-degenerate homography found")
)

type Point struct {
	X, Y float64
}

// A Pair is one correspondence: Train (in the frame being registered)
// should map onto Query (in the reference frame).
type Pair struct {
	Query, Train Point
}

// PairsFromMatches looks up the keypoints each match refers to.
func PairsFromMatches(matches []match.Match, query, train []surf.KeyPoint) []Pair {
	pairs := make([]Pair, len(matches))
	for i, m := range matches {
		q, t := query[m.QueryIdx], train[m.TrainIdx]
		pairs[i] = Pair{Query: Point{q.X, q.Y}, Train: Point{t.X, t.Y}}
	}
	return pairs
}

type Config struct {
	InlierThreshold float64 // max reprojection error of an inlier, in pixels
	MaxIterations   int
	Confidence      float64 // for the adaptive iteration bound
	Seed            int64
}

func NewConfig() Config {
	return Config{
		InlierThreshold: 3.0,
		MaxIterations:   2000,
		Confidence:      0.995,
		Seed:            1,
	}
}

func (c Config) Validate() error {
	if c.InlierThreshold <= 0 {
		return fmt.Errorf("ransac inlierthreshold %f must be positive", c.InlierThreshold)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("ransac maxiterations %d must be positive", c.MaxIterations)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("ransac confidence %f must be in (0,1)", c.Confidence)
	}
	return nil
}

// ResidualStats summarizes the inliers' reprojection errors, in pixels.
type ResidualStats struct {
	Mean, P50, P90, Max float64
}

func (r ResidualStats) String() string {
	return fmt.Sprintf("resid[mean:%.3f p50:%.2f p90:%.2f max:%.2f]", r.Mean, r.P50, r.P90, r.Max)
}

type Result struct {
	H          emath.Mat3 // maps Train points onto Query points
	Inliers    []int      // indices into the pairs
	Iterations int
	Residuals  ResidualStats
}

const sampleSize = 4

// FindHomography runs RANSAC over the pairs: it repeatedly fits a
// transform to a random minimal sample, keeps whichever has the most
// inliers, then refits that on all of its inliers. Random draws come
// from cfg.Seed, so the result is reproducible.
func FindHomography(pairs []Pair, cfg Config) (Result, error) {
	if len(pairs) < sampleSize {
		return Result{}, fmt.Errorf("%d pairs: %w", len(pairs), ErrTooFewPoints)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	thresh2 := cfg.InlierThreshold * cfg.InlierThreshold

	best := emath.Mat3{}
	bestCount := 0
	nIters := cfg.MaxIterations
	iter := 0
	sample := make([]Pair, sampleSize)

	for ; iter < nIters; iter++ {
		for i, j := range drawSample(rng, len(pairs)) {
			sample[i] = pairs[j]
		}
		if !validSample(sample) {
			continue
		}
		h, ok := FitDLT(sample)
		if !ok {
			continue
		}

		if count := countInliers(h, pairs, thresh2); count > bestCount {
			best, bestCount = h, count
			outlierRatio := float64(len(pairs)-count) / float64(len(pairs))
			nIters = updateNumIters(cfg.Confidence, outlierRatio, sampleSize, nIters)
		}
	}

	if bestCount < sampleSize {
		return Result{Iterations: iter}, fmt.Errorf("%d pairs, %d iterations: %w", len(pairs), iter, ErrNoModel)
	}

	// Refit on everything the best model agreed with; keep the refit
	// only if it doesn't lose inliers
	inliers := inlierIndices(best, pairs, thresh2)
	sub := make([]Pair, len(inliers))
	for i, j := range inliers {
		sub[i] = pairs[j]
	}
	if h, ok := FitDLT(sub); ok {
		if refit := inlierIndices(h, pairs, thresh2); len(refit) >= len(inliers) {
			best, inliers = h, refit
		}
	}

	return Result{
		H:          best,
		Inliers:    inliers,
		Iterations: iter,
		Residuals:  residualStats(best, pairs, inliers),
	}, nil
}

// ScaleHomography re-expresses h for coordinates scaled by s: if h was
// estimated on a plane half the size of the one it will be applied to,
// use s = 2. The result is S.h.S^-1, with S = diag(s, s, 1).
func ScaleHomography(h emath.Mat3, s float64) emath.Mat3 {
	return emath.Scaling(s).Mult(h).Mult(emath.Scaling(1 / s))
}

// ReprojectionError is how far (in pixels) h puts p.Train from p.Query.
func ReprojectionError(h emath.Mat3, p Pair) float64 {
	x, y, ok := h.Project(p.Train.X, p.Train.Y)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(x-p.Query.X, y-p.Query.Y)
}

func sqError(h emath.Mat3, p Pair) float64 {
	x, y, ok := h.Project(p.Train.X, p.Train.Y)
	if !ok {
		return math.Inf(1)
	}
	dx, dy := x-p.Query.X, y-p.Query.Y
	return dx*dx + dy*dy
}

func countInliers(h emath.Mat3, pairs []Pair, thresh2 float64) int {
	n := 0
	for _, p := range pairs {
		if sqError(h, p) < thresh2 {
			n++
		}
	}
	return n
}

func inlierIndices(h emath.Mat3, pairs []Pair, thresh2 float64) []int {
	idx := []int{}
	for i, p := range pairs {
		if sqError(h, p) < thresh2 {
			idx = append(idx, i)
		}
	}
	return idx
}

// drawSample picks sampleSize distinct indices from [0,n).
func drawSample(rng *rand.Rand, n int) [sampleSize]int {
	var idx [sampleSize]int
	for i := 0; i < sampleSize; {
		idx[i] = rng.Intn(n)
		dup := false
		for j := 0; j < i; j++ {
			dup = dup || idx[j] == idx[i]
		}
		if !dup {
			i++
		}
	}
	return idx
}

// validSample rejects samples that can't define a sensible homography:
// any three points collinear (in either frame), or any triangle whose
// winding flips between frames, which would mean a mirror image.
func validSample(s []Pair) bool {
	const eps = 1e-6
	for i := 0; i < len(s); i++ {
		for j := i + 1; j < len(s); j++ {
			for k := j + 1; k < len(s); k++ {
				a := cross(s[i].Train, s[j].Train, s[k].Train)
				b := cross(s[i].Query, s[j].Query, s[k].Query)
				if math.Abs(a) < eps || math.Abs(b) < eps {
					return false
				}
				if (a > 0) != (b > 0) {
					return false
				}
			}
		}
	}
	return true
}

func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// updateNumIters is the number of iterations needed to have drawn, with
// the given confidence, at least one all-inlier sample, when a fraction
// outlierRatio of the points are outliers. It never exceeds maxIters.
func updateNumIters(confidence, outlierRatio float64, modelPoints, maxIters int) int {
	confidence = math.Max(0, math.Min(1, confidence))
	outlierRatio = math.Max(0, math.Min(1, outlierRatio))

	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(1-outlierRatio, float64(modelPoints))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}

	num, denom = math.Log(num), math.Log(denom)
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return emath.Round(num / denom)
}

// residualStats histograms the inliers' errors in hundredths of a
// pixel.
func residualStats(h emath.Mat3, pairs []Pair, inliers []int) ResidualStats {
	if len(inliers) == 0 {
		return ResidualStats{}
	}

	hist := hdrhistogram.New(0, 100*1000*1000, 3)
	for _, i := range inliers {
		cp := int64(math.Round(100 * ReprojectionError(h, pairs[i])))
		if cp > hist.HighestTrackableValue() {
			cp = hist.HighestTrackableValue()
		}
		_ = hist.RecordValue(cp)
	}

	return ResidualStats{
		Mean: hist.Mean() / 100,
		P50:  float64(hist.ValueAtQuantile(50)) / 100,
		P90:  float64(hist.ValueAtQuantile(90)) / 100,
		Max:  float64(hist.Max()) / 100,
	}
}
