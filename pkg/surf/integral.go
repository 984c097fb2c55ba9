package surf

import (
	"github.com/abworrall/burstfuse/pkg/emath"
)

// integralOffset is subtracted from every source sample before it is
// accumulated. Keeping the running sums centred on zero loses less
// precision when big sums are differenced by the box filters; the
// balanced Haar patterns cancel it out exactly.
const integralOffset = 0.5

// An Integral is a summed-area table over a source plane. It is one
// sample bigger than the source in each direction; row 0 and column 0
// are zero, and cell (x,y) holds the sum of (v - 0.5) over the source
// rectangle [0,x) x [0,y).
type Integral struct {
	width  int // of the source plane
	height int
	stride int
	sum    []float64
}

func NewIntegral(p emath.Plane) *Integral {
	w, h := p.Dx(), p.Dy()
	in := &Integral{
		width:  w,
		height: h,
		stride: w + 1,
		sum:    make([]float64, (w+1)*(h+1)),
	}

	for y := 0; y < h; y++ {
		above := in.sum[y*in.stride : (y+1)*in.stride]
		cur := in.sum[(y+1)*in.stride : (y+2)*in.stride]
		rowSum := 0.0
		for x, v := range p.Row(y) {
			rowSum += v - integralOffset
			cur[x+1] = above[x+1] + rowSum
		}
	}

	return in
}

func (in *Integral) Dx() int { return in.width + 1 }
func (in *Integral) Dy() int { return in.height + 1 }

// At returns the raw (offset) table entry.
func (in *Integral) At(x, y int) float64 { return in.sum[y*in.stride+x] }

// RectSum returns the sum of the source samples in the w x h rectangle
// whose top-left corner is (x,y), using four table lookups.
func (in *Integral) RectSum(x, y, w, h int) float64 {
	s := in.At(x+w, y+h) - in.At(x, y+h) - in.At(x+w, y) + in.At(x, y)
	return s + integralOffset*float64(w*h)
}

// Plane returns a view of the table as a plane, sharing memory.
func (in *Integral) Plane() emath.Plane {
	return emath.NewPlaneFrom(in.sum, in.width+1, in.height+1, in.stride)
}
