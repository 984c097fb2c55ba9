package fusion

import (
	"fmt"
	"math"
	"sync"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
)

// A Diff scores how well a frame lines up with the reference once
// warped: the mean absolute difference in L* (0 to 1) over the pixels
// both cover with a usable exposure.
type Diff struct {
	Mean       float64
	Comparable float64     // fraction of reference pixels that were compared
	Plane      emath.Plane // per-pixel |dL*|, for debugging
}

func (d Diff) String() string {
	return fmt.Sprintf("diff[mean:%.5f, %.1f%% comparable]", d.Mean, 100*d.Comparable)
}

// Pixels this dark or bright in either image are skipped; they have
// clipped, and tell us nothing about alignment.
const (
	diffTooLow  = 0.02
	diffTooHigh = 0.98
)

// ImgDiff compares ref with frame warped through h (which maps frame
// coordinates into ref's).
func ImgDiff(exec parallel.Executor, ref, frame *Image, h emath.Mat3) (Diff, error) {
	hInv, ok := h.Inverse()
	if !ok {
		return Diff{}, ErrSingular
	}

	diff := emath.NewPlane(ref.Width, ref.Height)
	var mu sync.Mutex
	totErr, nErr := 0.0, 0

	exec.Run(ref.Height, func(y int) {
		rowErr, rowN := 0.0, 0
		for x := 0; x < ref.Width; x++ {
			sx, sy, ok := hInv.Project(float64(x), float64(y))
			if !ok {
				continue
			}
			c2, ok := frame.Bilinear(sx, sy)
			if !ok {
				continue
			}
			l1, l2 := Lightness(ref.Get(x, y)), Lightness(c2)
			if l1 < diffTooLow || l2 < diffTooLow || l1 > diffTooHigh || l2 > diffTooHigh {
				continue
			}

			pixErr := math.Abs(l1 - l2)
			diff.Set(x, y, pixErr)
			rowErr += pixErr
			rowN++
		}

		mu.Lock()
		defer mu.Unlock()
		totErr += rowErr
		nErr += rowN
	})

	d := Diff{Plane: diff}
	if nErr > 0 {
		d.Mean = totErr / float64(nErr)
		d.Comparable = float64(nErr) / float64(ref.Width*ref.Height)
	}
	return d, nil
}
