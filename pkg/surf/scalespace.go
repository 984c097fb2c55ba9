package surf

import (
	"github.com/abworrall/burstfuse/pkg/emath"
)

const (
	haarSize0   = 9 // box size of the first layer
	haarSizeInc = 6 // growth per layer, before octave doubling
)

// A layer of the scale space: the Hessian determinant and trace
// responses for one box size, sampled every `step` source pixels.
type layer struct {
	octave int
	size   int
	step   int
	det    emath.Plane
	trace  emath.Plane
}

// newScaleSpace allocates every layer for a w x h source. Octave o,
// layer l has box size (9 + 6l) << o; each octave has two guard layers
// around its nOctaveLayers middle layers.
func newScaleSpace(w, h, nOctaves, nOctaveLayers int) []layer {
	layers := make([]layer, 0, (nOctaveLayers+2)*nOctaves)
	step := 1
	for o := 0; o < nOctaves; o++ {
		for l := 0; l < nOctaveLayers+2; l++ {
			layers = append(layers, layer{
				octave: o,
				size:   (haarSize0 + haarSizeInc*l) << o,
				step:   step,
				det:    emath.NewPlane(w/step, h/step),
				trace:  emath.NewPlane(w/step, h/step),
			})
		}
		step *= 2
	}
	return layers
}

// calcDetAndTrace fills l from the integral table. Samples whose
// wavelet would poke outside the table are left alone (at zero), which
// is what keeps them from ever becoming maxima. A layer whose box is
// bigger than the source is left entirely zero.
func calcDetAndTrace(in *Integral, l *layer) {
	size, step := l.size, l.step
	if size > in.height || size > in.width {
		return
	}

	dx := resizeHaar(dxPattern, haarSize0, size, in.stride)
	dy := resizeHaar(dyPattern, haarSize0, size, in.stride)
	dxy := resizeHaar(dxyPattern, haarSize0, size, in.stride)

	samplesI := 1 + (in.height-size)/step
	samplesJ := 1 + (in.width-size)/step
	margin := (size / 2) / step

	for i := 0; i < samplesI; i++ {
		origin := i * step * in.stride
		detRow := l.det.Row(i + margin)
		traceRow := l.trace.Row(i + margin)
		for j := 0; j < samplesJ; j++ {
			vx := haarAt(in.sum, origin, dx)
			vy := haarAt(in.sum, origin, dy)
			vxy := haarAt(in.sum, origin, dxy)
			origin += step

			detRow[margin+j] = vx*vy - 0.81*vxy*vxy
			traceRow[margin+j] = vx + vy
		}
	}
}
