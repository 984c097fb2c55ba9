package homography

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/burstfuse/pkg/emath"
)

// normalizer returns the similarity transform that moves the points'
// centroid to the origin and scales their mean distance from it to
// sqrt(2). ok is false if the points all coincide.
func normalizer(pts []Point) (emath.Mat3, bool) {
	cx, cy := 0.0, 0.0
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	d := 0.0
	for _, p := range pts {
		d += math.Hypot(p.X-cx, p.Y-cy)
	}
	d /= float64(len(pts))
	if d < 1e-12 {
		return emath.Mat3{}, false
	}

	s := math.Sqrt2 / d
	return emath.Mat3{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	}, true
}

// FitDLT fits the homography mapping every pair's Train point onto its
// Query point, by the normalized direct linear transform: least squares
// over all the pairs, so four pairs give an exact fit and more give the
// best algebraic fit. ok is false if the pairs don't pin down an
// invertible transform.
func FitDLT(pairs []Pair) (emath.Mat3, bool) {
	if len(pairs) < 4 {
		return emath.Mat3{}, false
	}

	src := make([]Point, len(pairs))
	dst := make([]Point, len(pairs))
	for i, p := range pairs {
		src[i], dst[i] = p.Train, p.Query
	}
	tSrc, ok1 := normalizer(src)
	tDst, ok2 := normalizer(dst)
	if !ok1 || !ok2 {
		return emath.Mat3{}, false
	}

	// Four pairs give 8 equations; a zero row keeps the system square
	rows := 2 * len(pairs)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range pairs {
		s := tSrc.Apply(emath.Vec3{src[i].X, src[i].Y, 1})
		d := tDst.Apply(emath.Vec3{dst[i].X, dst[i].Y, 1})
		x, y, u, v := s[0], s[1], d[0], d[1]
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	// The solution is the right singular vector of the smallest
	// singular value
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return emath.Mat3{}, false
	}
	var vt mat.Dense
	svd.VTo(&vt)

	var hn emath.Mat3
	for i := range hn {
		hn[i] = vt.At(i, 8)
	}

	tDstInv, ok := tDst.Inverse()
	if !ok {
		return emath.Mat3{}, false
	}
	h := tDstInv.Mult(hn).Mult(tSrc)
	if math.Abs(h[8]) < emath.SingularEpsilon {
		return emath.Mat3{}, false
	}
	h = h.Normalized()
	if _, ok := h.Inverse(); !ok {
		return emath.Mat3{}, false
	}
	return h, true
}
