package surf

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
)

const (
	oriRadius    = 6   // orientation samples lie in a disc of this radius (in units of s)
	oriWindow    = 60  // degrees
	oriSearchInc = 5   // degrees
	oriSigma     = 2.5 // of the orientation sample weights
	descSigma    = 3.3 // of the descriptor sample weights
	patchSize    = 20  // descriptor gradients are taken on a patchSize x patchSize grid

	// Below this many keypoints, describing them inline beats farming
	// them out.
	minDescribeChunk = 32

	descEpsilon = 1.192092896e-07
)

type oriSample struct {
	x, y int
	w    float64
}

var (
	oriSamples  = makeOriSamples()
	descWeights = makeDescWeights()
)

// gaussianKernel returns n normalized taps of a Gaussian centred on the
// middle of the kernel.
func gaussianKernel(n int, sigma float64) []float64 {
	k := make([]float64, n)
	c := float64(n-1) / 2
	for i := range k {
		x := float64(i) - c
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

func makeOriSamples() []oriSample {
	g := gaussianKernel(2*oriRadius+1, oriSigma)
	samples := []oriSample{}
	for i := -oriRadius; i <= oriRadius; i++ {
		for j := -oriRadius; j <= oriRadius; j++ {
			if i*i+j*j <= oriRadius*oriRadius {
				samples = append(samples, oriSample{i, j, g[i+oriRadius] * g[j+oriRadius]})
			}
		}
	}
	return samples
}

func makeDescWeights() []float64 {
	g := gaussianKernel(patchSize, descSigma)
	w := make([]float64, patchSize*patchSize)
	for i := 0; i < patchSize; i++ {
		for j := 0; j < patchSize; j++ {
			w[i*patchSize+j] = g[i] * g[j]
		}
	}
	return w
}

// describe assigns an orientation to every keypoint and, if descs is
// not nil, fills in descs[k] for keypoint k. Keypoints that can't be
// described are marked rejected, and dropped by compact.
func (d *Detector) describe(img emath.Plane, in *Integral, kps []KeyPoint, descs []Descriptor) {
	parallel.ForChunks(d.exec, len(kps), minDescribeChunk, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			var desc *Descriptor
			if descs != nil {
				desc = &descs[k]
			}
			describeKeyPoint(&img, in, &kps[k], d.Upright, desc)
		}
	})
}

// compact removes rejected keypoints, keeping descs index-aligned.
func compact(kps []KeyPoint, descs []Descriptor) ([]KeyPoint, []Descriptor) {
	j := 0
	for i := range kps {
		if kps[i].rejected() {
			continue
		}
		kps[j] = kps[i]
		if descs != nil {
			descs[j] = descs[i]
		}
		j++
	}
	if descs != nil {
		descs = descs[:j]
	}
	return kps[:j], descs
}

func describeKeyPoint(img *emath.Plane, in *Integral, kp *KeyPoint, upright bool, desc *Descriptor) {
	// Sampling intervals and wavelet sizes are all relative to s
	s := kp.Size * 1.2 / 9.0

	// Gradient wavelets are 4s, rounded to even so they're symmetric
	gradWav := 2 * emath.Round(2*s)
	if in.Dy() < gradWav || in.Dx() < gradWav {
		kp.Size = -1
		return
	}

	dir := 360.0 - 90.0
	if !upright {
		var ok bool
		if dir, ok = dominantOrientation(in, kp, s, gradWav); !ok {
			kp.Size = -1
			return
		}
	}
	kp.Angle = dir

	if desc == nil {
		return
	}

	// Pull out a window of 20s (plus a pixel, for the gradients) aligned
	// with the orientation, then shrink it to a fixed size patch so each
	// patch pixel is s wide.
	winSize := int(float64(patchSize+1) * s)
	if winSize < 1 {
		winSize = 1
	}
	win := sampleWindow(img, kp, dir, winSize)
	patch := resizeArea(win, winSize, patchSize+1)

	var dx, dy [patchSize * patchSize]float64
	for i := 0; i < patchSize; i++ {
		for j := 0; j < patchSize; j++ {
			dw := descWeights[i*patchSize+j]
			p00, p01 := patch.At(i, j), patch.At(i, j+1)
			p10, p11 := patch.At(i+1, j), patch.At(i+1, j+1)
			dx[i*patchSize+j] = (p01 - p00 + p11 - p10) * dw
			dy[i*patchSize+j] = (p10 - p00 + p11 - p01) * dw
		}
	}

	*desc = Descriptor{}
	v := 0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for y := i * 5; y < i*5+5; y++ {
				for x := j * 5; x < j*5+5; x++ {
					tx, ty := dx[y*patchSize+x], dy[y*patchSize+x]
					desc[v+0] += tx
					desc[v+1] += ty
					desc[v+2] += math.Abs(tx)
					desc[v+3] += math.Abs(ty)
				}
			}
			v += 4
		}
	}

	// Unit length, for contrast invariance
	floats.Scale(1/(math.Sqrt(floats.Dot(desc[:], desc[:]))+descEpsilon), desc[:])
}

// dominantOrientation samples Haar gradients over a disc of radius 6s
// and slides a 60 degree window around, picking the window with the
// biggest summed gradient. ok is false if no sample fit in the plane.
func dominantOrientation(in *Integral, kp *KeyPoint, s float64, gradWav int) (float64, bool) {
	dxT := resizeHaar(gradXPattern, 4, gradWav, in.stride)
	dyT := resizeHaar(gradYPattern, 4, gradWav, in.stride)

	var X, Y, angle [(2*oriRadius + 1) * (2*oriRadius + 1)]float64
	n := 0
	half := float64(gradWav-1) / 2
	for _, pt := range oriSamples {
		x := emath.Round(kp.X + float64(pt.x)*s - half)
		y := emath.Round(kp.Y + float64(pt.y)*s - half)
		if y < 0 || y >= in.Dy()-gradWav || x < 0 || x >= in.Dx()-gradWav {
			continue
		}
		origin := y*in.stride + x
		X[n] = haarAt(in.sum, origin, dxT) * pt.w
		Y[n] = haarAt(in.sum, origin, dyT) * pt.w
		angle[n] = phaseDeg(Y[n], X[n])
		n++
	}
	if n == 0 {
		return 0, false
	}

	bestX, bestY, bestMod := 0.0, 0.0, 0.0
	for i := 0; i < 360; i += oriSearchInc {
		sumX, sumY := 0.0, 0.0
		for j := 0; j < n; j++ {
			d := emath.Round(angle[j]) - i
			if d < 0 {
				d = -d
			}
			if d < oriWindow/2 || d > 360-oriWindow/2 {
				sumX += X[j]
				sumY += Y[j]
			}
		}
		if mod := sumX*sumX + sumY*sumY; mod > bestMod {
			bestMod, bestX, bestY = mod, sumX, sumY
		}
	}

	return phaseDeg(-bestY, bestX), true
}

// phaseDeg is atan2 in degrees, in [0,360).
func phaseDeg(y, x float64) float64 {
	a := math.Atan2(y, x) * 180 / math.Pi
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}

// sampleWindow resamples a winSize x winSize window of img centred on
// kp and rotated to dir (degrees). Row i, column j of the result is
// at win[i*winSize+j].
func sampleWindow(img *emath.Plane, kp *KeyPoint, dir float64, winSize int) []float64 {
	rad := dir * math.Pi / 180
	sinDir := -math.Sin(rad)
	cosDir := math.Cos(rad)

	off := -float64(winSize-1) / 2
	startX := kp.X + off*cosDir + off*sinDir
	startY := kp.Y - off*sinDir + off*cosDir

	win := make([]float64, winSize*winSize)
	for i := 0; i < winSize; i++ {
		px, py := startX, startY
		for j := 0; j < winSize; j++ {
			win[i*winSize+j] = sampleClamped(img, px, py)
			px += cosDir
			py -= sinDir
		}
		startX += sinDir
		startY += cosDir
	}
	return win
}

// sampleClamped interpolates bilinearly where the 2x2 stencil fits in
// the plane, and takes the nearest edge pixel where it doesn't.
func sampleClamped(img *emath.Plane, x, y float64) float64 {
	w1, h1 := img.Dx()-1, img.Dy()-1
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	if ix >= 0 && ix < w1 && iy >= 0 && iy < h1 {
		a, b := x-float64(ix), y-float64(iy)
		return img.Get(ix, iy)*(1-a)*(1-b) +
			img.Get(ix+1, iy)*a*(1-b) +
			img.Get(ix, iy+1)*(1-a)*b +
			img.Get(ix+1, iy+1)*a*b
	}
	cx := emath.ClampInt(emath.Round(x), 0, w1)
	cy := emath.ClampInt(emath.Round(y), 0, h1)
	return img.Get(cx, cy)
}

// areaWeights is the m x n matrix that resamples n values down (or up)
// to m, each output averaging the inputs its footprint overlaps.
func areaWeights(n, m int) *mat.Dense {
	w := mat.NewDense(m, n, nil)
	scale := float64(n) / float64(m)
	for d := 0; d < m; d++ {
		lo, hi := float64(d)*scale, float64(d+1)*scale
		for i := int(math.Floor(lo)); i < n && float64(i) < hi; i++ {
			overlap := math.Min(hi, float64(i+1)) - math.Max(lo, float64(i))
			if overlap > 0 {
				w.Set(d, i, overlap/scale)
			}
		}
	}
	return w
}

// resizeArea resamples a square n x n window to m x m.
func resizeArea(win []float64, n, m int) *mat.Dense {
	w := areaWeights(n, m)
	var tmp, out mat.Dense
	tmp.Mul(w, mat.NewDense(n, n, win))
	out.Mul(&tmp, w.T())
	return &out
}
