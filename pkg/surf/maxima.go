package surf

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/burstfuse/pkg/emath"
)

// keypointSink is the one list all the maxima workers append to.
type keypointSink struct {
	mu  sync.Mutex
	kps []KeyPoint
}

func (s *keypointSink) add(kps ...KeyPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kps = append(s.kps, kps...)
}

// findMaxima runs non-maximum suppression over every middle layer, one
// task per layer.
func (d *Detector) findMaxima() []KeyPoint {
	middle := []int{}
	for i := range d.layers {
		l := i % (d.OctaveLayers + 2)
		if l > 0 && l <= d.OctaveLayers {
			middle = append(middle, i)
		}
	}

	sink := &keypointSink{}
	d.exec.Run(len(middle), func(m int) {
		sink.add(d.findMaximaInLayer(middle[m])...)
	})
	return sink.kps
}

// findMaximaInLayer returns the samples of layer li that beat the
// threshold and all 26 neighbours in the 3x3x3 cube spanning the layers
// either side, after sub-pixel refinement.
func (d *Detector) findMaximaInLayer(li int) []KeyPoint {
	below, cur, above := &d.layers[li-1], &d.layers[li], &d.layers[li+1]
	size, step := cur.size, cur.step
	rows, cols := cur.det.Dy(), cur.det.Dx()

	// Skip samples without a full neighbourhood in the layer above
	margin := (above.size/2)/step + 1

	found := []KeyPoint{}
	for i := margin; i < rows-margin; i++ {
		detRow := cur.det.Row(i)
		for j := margin; j < cols-margin; j++ {
			val0 := detRow[j]
			if val0 <= d.HessianThreshold {
				continue
			}

			var n9 [3][9]float64
			for k, l := range []*layer{below, cur, above} {
				for r := -1; r <= 1; r++ {
					row := l.det.Row(i + r)
					for c := -1; c <= 1; c++ {
						n9[k][(r+1)*3+c+1] = row[j+c]
					}
				}
			}
			if !isStrictMax(val0, &n9) {
				continue
			}

			// Coordinates of the wavelet's top-left in the integral table.
			// The integer divisions matter; don't cancel the steps out.
			sumI := step * (i - (size/2)/step)
			sumJ := step * (j - (size/2)/step)

			trace := cur.trace.Get(j, i)
			kp := KeyPoint{
				X:         float64(sumJ) + float64(size-1)*0.5,
				Y:         float64(sumI) + float64(size-1)*0.5,
				Size:      float64(size),
				Angle:     -1,
				Response:  val0,
				Octave:    cur.octave,
				Laplacian: sign(trace),
			}

			if d.interpolateKeyPoint(&n9, step, size-below.size, &kp) {
				found = append(found, kp)
			}
		}
	}

	return found
}

func isStrictMax(v float64, n9 *[3][9]float64) bool {
	for k := 0; k < 3; k++ {
		for m := 0; m < 9; m++ {
			if k == 1 && m == 4 {
				continue
			}
			if v <= n9[k][m] {
				return false
			}
		}
	}
	return true
}

// interpolateKeyPoint fits a quadratic to the 3x3x3 neighbourhood and
// moves kp to the fitted peak. It returns false (and leaves kp alone)
// when the fit is degenerate or the peak lies outside the cube.
func (d *Detector) interpolateKeyPoint(n9 *[3][9]float64, step, ds int, kp *KeyPoint) bool {
	b := mat.NewVecDense(3, []float64{
		-(n9[1][5] - n9[1][3]) / 2, // -dD/dx
		-(n9[1][7] - n9[1][1]) / 2, // -dD/dy
		-(n9[2][4] - n9[0][4]) / 2, // -dD/ds
	})

	dxx := n9[1][3] - 2*n9[1][4] + n9[1][5]
	dyy := n9[1][1] - 2*n9[1][4] + n9[1][7]
	dss := n9[0][4] - 2*n9[1][4] + n9[2][4]
	dxy := (n9[1][8] - n9[1][6] - n9[1][2] + n9[1][0]) / 4
	dxs := (n9[2][5] - n9[2][3] - n9[0][5] + n9[0][3]) / 4
	dys := (n9[2][7] - n9[2][1] - n9[0][7] + n9[0][1]) / 4
	a := mat.NewDense(3, 3, []float64{
		dxx, dxy, dxs,
		dxy, dyy, dys,
		dxs, dys, dss,
	})

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		d.degenerate.Add(1)
		d.log.Debug("degenerate sub-pixel fit, candidate dropped",
			"x", kp.X, "y", kp.Y, "size", kp.Size, "err", err)
		return false
	}

	ox, oy, os := x.AtVec(0), x.AtVec(1), x.AtVec(2)
	if ox == 0 && oy == 0 && os == 0 {
		return false
	}
	if math.Abs(ox) > 1 || math.Abs(oy) > 1 || math.Abs(os) > 1 {
		return false
	}

	kp.X += ox * float64(step)
	kp.Y += oy * float64(step)
	kp.Size = float64(emath.Round(kp.Size + os*float64(ds)))
	return true
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
