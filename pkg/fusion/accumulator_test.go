package fusion

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
)

func constImage(w, h int, v float64) *Image {
	im := NewImage(w, h)
	for i := range im.Pix {
		im.Pix[i] = RGBA{v, v, v, 1}
	}
	return im
}

// rampImage has smoothly varying channels, so bilinear sampling at
// integer offsets reproduces shifted pixels exactly.
func rampImage(w, h int, dx, dy float64) *Image {
	im := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x)-dx, float64(y)-dy
			im.Set(x, y, RGBA{fx / float64(w), fy / float64(h), (fx + fy) / float64(w+h), 1})
		}
	}
	return im
}

func TestFirstFrameIsCopied(t *testing.T) {
	frame := rampImage(16, 12, 0, 0)
	acc := NewAccumulator(nil)
	assert.Equal(t, Uninitialized, acc.State())

	// The homography is ignored for the reference frame.
	acc, err := RegisterAndFuse(acc, frame, emath.Translation(5, 5), 1)
	require.NoError(t, err)
	assert.Equal(t, Accumulating, acc.State())
	assert.Equal(t, 1, acc.Count())
	assert.Empty(t, cmp.Diff(frame.Pix, acc.Pix))

	// A copy, not an alias.
	frame.Set(0, 0, RGBA{9, 9, 9, 9})
	assert.NotEqual(t, frame.Get(0, 0), acc.Get(0, 0))
}

func TestRunningMean(t *testing.T) {
	acc := NewAccumulator(parallel.NewPool(4))
	values := []float64{0.2, 0.4, 0.9, 0.5}
	for i, v := range values {
		require.NoError(t, acc.Fuse(constImage(10, 8, v), emath.Identity(), i+1))
	}

	mean := (0.2 + 0.4 + 0.9 + 0.5) / 4
	for _, c := range acc.Pix {
		assert.InDelta(t, mean, c[0], 1e-12)
		assert.InDelta(t, 1.0, c[3], 1e-12)
	}
	assert.Equal(t, 4, acc.Count())
	assert.Equal(t, 4, acc.Coverage(3, 3))
}

func TestOutOfOrder(t *testing.T) {
	acc := NewAccumulator(nil)
	err := acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 2)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 1))
	assert.ErrorIs(t, acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 3), ErrOutOfOrder)
	assert.ErrorIs(t, acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 1), ErrOutOfOrder)
	assert.Equal(t, 1, acc.Count())
}

func TestSingularHomography(t *testing.T) {
	acc := NewAccumulator(nil)
	require.NoError(t, acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 1))

	var zero emath.Mat3
	err := acc.Fuse(constImage(4, 4, 0.1), zero, 2)
	assert.ErrorIs(t, err, ErrSingular)
	assert.Equal(t, 1, acc.Count())
	assert.InDelta(t, 0.5, acc.Get(2, 2)[0], 1e-12)
}

func TestShapeMismatchPanics(t *testing.T) {
	acc := NewAccumulator(nil)
	require.NoError(t, acc.Fuse(constImage(4, 4, 0.5), emath.Identity(), 1))
	assert.Panics(t, func() { acc.Fuse(constImage(5, 4, 0.5), emath.Identity(), 2) })
}

func TestWarpedFrameRegisters(t *testing.T) {
	const w, h = 20, 16
	ref := rampImage(w, h, 0, 0)
	// Content moved by (+2,+1); H maps the shifted frame back onto ref.
	shifted := rampImage(w, h, 2, 1)

	for _, exec := range []parallel.Executor{parallel.Sequential{}, parallel.NewPool(3), parallel.NewGrid(5)} {
		acc := NewAccumulator(exec)
		require.NoError(t, acc.Fuse(ref, emath.Identity(), 1))
		require.NoError(t, acc.Fuse(shifted, emath.Translation(-2, -1), 2))

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				want, got := ref.Get(x, y), acc.Get(x, y)
				assert.InDeltaSlice(t, want[:], got[:], 1e-9)
			}
		}

		// The frame only reaches so far; pixels near the far edges keep
		// just the reference.
		assert.Equal(t, 2, acc.Coverage(0, 0))
		assert.Equal(t, 1, acc.Coverage(w-1, h-1))
	}
}

func TestExecutorsAgree(t *testing.T) {
	fuse := func(exec parallel.Executor) *Accumulator {
		acc := NewAccumulator(exec)
		require.NoError(t, acc.Fuse(rampImage(33, 17, 0, 0), emath.Identity(), 1))
		h := emath.Mat3{1.01, 0.02, -1.3, -0.01, 0.99, 0.7, 0, 0, 1}
		require.NoError(t, acc.Fuse(rampImage(33, 17, 0.5, -0.25), h, 2))
		return acc
	}

	want := fuse(parallel.Sequential{})
	for _, exec := range []parallel.Executor{parallel.NewPool(4), parallel.NewGrid(7)} {
		got := fuse(exec)
		assert.Empty(t, cmp.Diff(want.Pix, got.Pix))
	}
}

func TestBilinear(t *testing.T) {
	im := rampImage(8, 8, 0, 0)

	c, ok := im.Bilinear(2.5, 3.25)
	require.True(t, ok)
	assert.InDelta(t, 2.5/8, c[0], 1e-12)
	assert.InDelta(t, 3.25/8, c[1], 1e-12)

	_, ok = im.Bilinear(7, 7)
	assert.True(t, ok)
	for _, p := range [][2]float64{{-0.1, 0}, {7.5, 1}, {1, 7.01}, {8, 0}} {
		_, ok := im.Bilinear(p[0], p[1])
		assert.False(t, ok, "%v", p)
	}
}

func TestLuminance(t *testing.T) {
	black, white := constImage(3, 3, 0), constImage(3, 3, 1)

	lb, lw := black.Luminance(), white.Luminance()
	assert.InDelta(t, 0, lb.Get(1, 1), 1e-6)
	assert.InDelta(t, 255, lw.Get(1, 1), 1e-3)

	grey := constImage(3, 3, 0.5).Luminance()
	assert.Greater(t, grey.Get(0, 0), 0.0)
	assert.Less(t, grey.Get(0, 0), 255.0)
}

func TestImgDiff(t *testing.T) {
	// Mid tones, so nothing counts as clipped.
	scene := func(dx, dy float64) *Image {
		im := NewImage(40, 30)
		for y := 0; y < 30; y++ {
			for x := 0; x < 40; x++ {
				v := 0.4 + 0.2*math.Sin((float64(x)-dx)/3)*math.Cos((float64(y)-dy)/4)
				im.Set(x, y, RGBA{v, v, v, 1})
			}
		}
		return im
	}

	ref, moved := scene(0, 0), scene(3, 2)
	exec := parallel.NewPool(2)

	good, err := ImgDiff(exec, ref, moved, emath.Translation(-3, -2))
	require.NoError(t, err)
	bad, err := ImgDiff(exec, ref, moved, emath.Identity())
	require.NoError(t, err)

	assert.InDelta(t, 0, good.Mean, 1e-9)
	assert.Greater(t, bad.Mean, 0.01)
	assert.Greater(t, good.Comparable, 0.8)
	assert.Less(t, good.Comparable, 1.0)
	assert.InDelta(t, 1.0, bad.Comparable, 1e-12)

	_, err = ImgDiff(exec, ref, moved, emath.Mat3{})
	assert.ErrorIs(t, err, ErrSingular)
}

func TestFromImageRoundTrip(t *testing.T) {
	im := rampImage(12, 9, 0, 0)
	back := FromImage(im.ToRGBA64())
	assert.Empty(t, cmp.Diff(im.Pix, back.Pix, cmpopts.EquateApprox(0, 1.0/0xFFFF)))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	acc := NewAccumulator(nil)
	require.NoError(t, acc.Fuse(rampImage(12, 9, 0, 0), emath.Identity(), 1))

	require.NoError(t, acc.WriteHDR(filepath.Join(dir, "fused.hdr")))
	require.NoError(t, acc.WriteTIFF(filepath.Join(dir, "fused.tif")))
	assert.FileExists(t, filepath.Join(dir, "fused.hdr"))
	assert.FileExists(t, filepath.Join(dir, "fused.tif"))

	assert.Error(t, acc.WriteHDR(filepath.Join(dir, "no-such-dir", "x.hdr")))
}
