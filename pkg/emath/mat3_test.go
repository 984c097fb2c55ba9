package emath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMat3InverseRoundTrip(t *testing.T) {
	m := Mat3{
		1.02, 0.01, 5.5,
		-0.02, 0.98, -3.25,
		1e-4, -2e-4, 1,
	}

	inv, ok := m.Inverse()
	require.True(t, ok)
	assert.True(t, m.Mult(inv).ApproxEqual(Identity(), 1e-9), "m*inv:\n%s", m.Mult(inv))
}

func TestMat3InverseSingular(t *testing.T) {
	m := Mat3{
		1, 2, 3,
		2, 4, 6,
		0, 0, 1,
	}
	_, ok := m.Inverse()
	assert.False(t, ok)
	assert.InDelta(t, 0.0, m.Det(), 1e-12)
}

func TestMat3Project(t *testing.T) {
	x, y, ok := Translation(3, -2).Project(10, 10)
	require.True(t, ok)
	assert.InDelta(t, 13.0, x, 1e-12)
	assert.InDelta(t, 8.0, y, 1e-12)

	_, _, ok = Mat3{1, 0, 0, 0, 1, 0, 1, 0, 0}.Project(0, 5)
	assert.False(t, ok)
}

func TestMat3Normalized(t *testing.T) {
	m := Translation(4, 5)
	for i := range m {
		m[i] *= 2.5
	}
	tx, ty := m.Translation()
	assert.InDelta(t, 4.0, tx, 1e-12)
	assert.InDelta(t, 5.0, ty, 1e-12)
	assert.InDelta(t, 1.0, m.Normalized()[8], 1e-12)
}

func TestScalingMult(t *testing.T) {
	s := Scaling(2)
	sInv, ok := s.Inverse()
	require.True(t, ok)
	assert.Equal(t, Identity(), s.Mult(sInv))

	v := s.Apply(Vec3{3, 4, 1})
	assert.Equal(t, Vec3{6, 8, 1}, v)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 2, Round(2.5))
	assert.Equal(t, 4, Round(3.5))
	assert.Equal(t, -2, Round(-1.6))
	assert.Equal(t, 7, Round(7.2))
	assert.False(t, math.IsNaN(GammaExpand_F64(0.5)))
}
