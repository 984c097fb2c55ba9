// Package fusion warps frames into a reference frame's coordinates and
// averages them into a running composite.
package fusion

import (
	"errors"
	"fmt"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
)

var (
	ErrOutOfOrder = errors.New("frame fused out of order")
	ErrSingular   = errors.New("homography is not invertible")
)

type State int

const (
	Uninitialized State = iota // no reference yet
	Accumulating
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Accumulating:
		return "accumulating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// An Accumulator holds the running mean of every frame fused so far,
// in the first frame's coordinates. Each output pixel also counts how
// many frames actually covered it, since a warped frame may not reach
// all the way to the edges.
type Accumulator struct {
	*Image

	state  State
	count  int
	counts []int32
	exec   parallel.Executor
}

func NewAccumulator(exec parallel.Executor) *Accumulator {
	if exec == nil {
		exec = parallel.Sequential{}
	}
	return &Accumulator{exec: exec}
}

func (a *Accumulator) State() State { return a.state }

// Count is the number of frames fused so far.
func (a *Accumulator) Count() int { return a.count }

// Coverage is how many frames contributed to pixel (x,y).
func (a *Accumulator) Coverage(x, y int) int { return int(a.counts[y*a.Width+x]) }

func (a *Accumulator) String() string {
	return fmt.Sprintf("accumulator[%s, %d frames, %s]", a.state, a.count, a.Image)
}

// RegisterAndFuse fuses frame k (counting from 1) into acc; see
// Accumulator.Fuse.
func RegisterAndFuse(acc *Accumulator, frame *Image, h emath.Mat3, k int) (*Accumulator, error) {
	return acc, acc.Fuse(frame, h, k)
}

// Fuse adds frame number k. Frame 1 is the reference: it is copied in
// as-is, and defines the output coordinates. Every later frame must
// come with the homography h that maps its pixel coordinates into the
// reference frame's, and must be fused in sequence.
//
// For frame k, each output pixel p is pulled back through h^-1 into
// the frame, sampled bilinearly, and blended in as
// ((n-1)*prev + sample)/n, where n is the number of frames (this one
// included) that have covered p. For pixels every frame covers, n == k.
// Output rows are split across the executor; each row is written by
// exactly one task.
func (a *Accumulator) Fuse(frame *Image, h emath.Mat3, k int) error {
	if k != a.count+1 {
		return fmt.Errorf("frame %d after %d frames: %w", k, a.count, ErrOutOfOrder)
	}

	if a.state == Uninitialized {
		a.Image = frame.Copy()
		a.counts = make([]int32, len(a.Pix))
		for i := range a.counts {
			a.counts[i] = 1
		}
		a.state = Accumulating
		a.count = 1
		return nil
	}

	if frame.Width != a.Width || frame.Height != a.Height {
		panic(fmt.Sprintf("fusion: frame %s does not match accumulator %s", frame, a.Image))
	}

	hInv, ok := h.Inverse()
	if !ok {
		return fmt.Errorf("frame %d: %w", k, ErrSingular)
	}

	a.exec.Run(a.Height, func(y int) {
		for x := 0; x < a.Width; x++ {
			sx, sy, ok := hInv.Project(float64(x), float64(y))
			if !ok {
				continue
			}
			sample, ok := frame.Bilinear(sx, sy)
			if !ok {
				continue
			}

			i := y*a.Width + x
			a.counts[i]++
			n := float64(a.counts[i])
			prev := a.Pix[i]
			for c := range prev {
				a.Pix[i][c] = ((n-1)*prev[c] + sample[c]) / n
			}
		}
	})

	a.count = k
	return nil
}
