package surf

import (
	"github.com/abworrall/burstfuse/pkg/emath"
)

// A haarBox is one weighted rectangle of a Haar wavelet, stored as the
// offsets of its four corners relative to the wavelet's origin in the
// integral table.
type haarBox struct {
	p0, p1, p2, p3 int
	w              float64
}

// Wavelet layouts, as {x1, y1, x2, y2, weight} on a base grid of 9
// (scale space) or 4 (gradients).
var (
	dxPattern  = [][5]int{{0, 2, 3, 7, 1}, {3, 2, 6, 7, -2}, {6, 2, 9, 7, 1}}
	dyPattern  = [][5]int{{2, 0, 7, 3, 1}, {2, 3, 7, 6, -2}, {2, 6, 7, 9, 1}}
	dxyPattern = [][5]int{{1, 1, 4, 4, 1}, {5, 1, 8, 4, -1}, {1, 5, 4, 8, -1}, {5, 5, 8, 8, 1}}

	gradXPattern = [][5]int{{0, 0, 2, 4, -1}, {2, 0, 4, 4, 1}}
	gradYPattern = [][5]int{{0, 0, 4, 2, 1}, {0, 2, 4, 4, -1}}
)

// resizeHaar scales a wavelet from oldSize to newSize, and resolves its
// corners into offsets in a table with the given row stride. Weights
// are divided by the box area, so responses are mean differences.
func resizeHaar(src [][5]int, oldSize, newSize, stride int) []haarBox {
	ratio := float64(newSize) / float64(oldSize)
	dst := make([]haarBox, len(src))
	for k, s := range src {
		dx1 := emath.Round(ratio * float64(s[0]))
		dy1 := emath.Round(ratio * float64(s[1]))
		dx2 := emath.Round(ratio * float64(s[2]))
		dy2 := emath.Round(ratio * float64(s[3]))
		dst[k] = haarBox{
			p0: dy1*stride + dx1,
			p1: dy2*stride + dx1,
			p2: dy1*stride + dx2,
			p3: dy2*stride + dx2,
			w:  float64(s[4]) / float64((dx2-dx1)*(dy2-dy1)),
		}
	}
	return dst
}

func haarAt(sum []float64, origin int, boxes []haarBox) float64 {
	d := 0.0
	for _, b := range boxes {
		d += (sum[origin+b.p0] + sum[origin+b.p3] - sum[origin+b.p1] - sum[origin+b.p2]) * b.w
	}
	return d
}
