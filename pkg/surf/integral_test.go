package surf

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/burstfuse/pkg/emath"
)

func randomPlane(seed int64, w, h int) emath.Plane {
	r := rand.New(rand.NewSource(seed))
	p := emath.NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := p.Row(y)
		for x := range row {
			row[x] = 255 * r.Float64()
		}
	}
	return p
}

func bruteSum(p emath.Plane, x, y, w, h int) float64 {
	s := 0.0
	for j := y; j < y+h; j++ {
		for i := x; i < x+w; i++ {
			s += p.Get(i, j)
		}
	}
	return s
}

func TestIntegralRectSum(t *testing.T) {
	big := randomPlane(1, 90, 70)
	for name, p := range map[string]emath.Plane{
		"whole": big,
		"view":  big.View(image.Rect(13, 7, 77, 61)),
	} {
		t.Run(name, func(t *testing.T) {
			in := NewIntegral(p)
			require.Equal(t, p.Dx()+1, in.Dx())
			require.Equal(t, p.Dy()+1, in.Dy())

			r := rand.New(rand.NewSource(2))
			for n := 0; n < 200; n++ {
				x, y := r.Intn(p.Dx()), r.Intn(p.Dy())
				w, h := 1+r.Intn(p.Dx()-x), 1+r.Intn(p.Dy()-y)
				want := bruteSum(p, x, y, w, h)
				assert.InDelta(t, want, in.RectSum(x, y, w, h), 1e-6*want+1e-6,
					"rect (%d,%d) %dx%d", x, y, w, h)
			}
		})
	}
}

func TestIntegralBorderIsZero(t *testing.T) {
	in := NewIntegral(randomPlane(3, 20, 10))
	for x := 0; x < in.Dx(); x++ {
		assert.Equal(t, 0.0, in.At(x, 0))
	}
	for y := 0; y < in.Dy(); y++ {
		assert.Equal(t, 0.0, in.At(0, y))
	}
}

func TestIntegralSignedOffset(t *testing.T) {
	p := emath.NewPlane(3, 2)
	p.Fill(0.5)
	in := NewIntegral(p)

	// Every sample contributes v - 0.5, so a plane of 0.5s sums to zero
	assert.Equal(t, 0.0, in.At(3, 2))
	assert.Equal(t, 3.0, in.RectSum(0, 0, 3, 2))

	pl := in.Plane()
	assert.Equal(t, 4, pl.Dx())
	assert.Equal(t, 3, pl.Dy())
}

func TestResizeHaarAtBaseSize(t *testing.T) {
	stride := 100
	boxes := resizeHaar(dxPattern, 9, 9, stride)
	require.Len(t, boxes, 3)

	// {0, 2, 3, 7, 1}: a 3x5 box
	assert.Equal(t, 2*stride+0, boxes[0].p0)
	assert.Equal(t, 7*stride+0, boxes[0].p1)
	assert.Equal(t, 2*stride+3, boxes[0].p2)
	assert.Equal(t, 7*stride+3, boxes[0].p3)
	assert.InDelta(t, 1.0/15, boxes[0].w, 1e-12)
	assert.InDelta(t, -2.0/15, boxes[1].w, 1e-12)

	// A flat table gives no response from a balanced wavelet
	in := NewIntegral(func() emath.Plane { p := emath.NewPlane(20, 20); p.Fill(42); return p }())
	for _, pattern := range [][][5]int{dxPattern, dyPattern, dxyPattern} {
		assert.InDelta(t, 0.0, haarAt(in.sum, 0, resizeHaar(pattern, 9, 15, in.stride)), 1e-9)
	}
}
