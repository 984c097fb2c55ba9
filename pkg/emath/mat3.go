package emath

// 3x3 matrices over float64, used for homographies

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use local types so we can hang methods off them. Mat3 is row major.
type Vec3 f64.Vec3
type Mat3 f64.Mat3

// The smallest |det| we treat as invertible.
const SingularEpsilon = 1e-12

func Identity() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

func Translation(tx, ty float64) Mat3 {
	return Mat3{
		1, 0, tx,
		0, 1, ty,
		0, 0, 1,
	}
}

// Scaling is the uniform scale matrix diag(s, s, 1).
func Scaling(s float64) Mat3 {
	return Mat3{
		s, 0, 0,
		0, s, 0,
		0, 0, 1,
	}
}

func (a Mat3) Mult(b Mat3) Mat3 {
	return Mat3{
		a[3*0+0]*b[3*0+0] + a[3*0+1]*b[3*1+0] + a[3*0+2]*b[3*2+0],
		a[3*0+0]*b[3*0+1] + a[3*0+1]*b[3*1+1] + a[3*0+2]*b[3*2+1],
		a[3*0+0]*b[3*0+2] + a[3*0+1]*b[3*1+2] + a[3*0+2]*b[3*2+2],

		a[3*1+0]*b[3*0+0] + a[3*1+1]*b[3*1+0] + a[3*1+2]*b[3*2+0],
		a[3*1+0]*b[3*0+1] + a[3*1+1]*b[3*1+1] + a[3*1+2]*b[3*2+1],
		a[3*1+0]*b[3*0+2] + a[3*1+1]*b[3*1+2] + a[3*1+2]*b[3*2+2],

		a[3*2+0]*b[3*0+0] + a[3*2+1]*b[3*1+0] + a[3*2+2]*b[3*2+0],
		a[3*2+0]*b[3*0+1] + a[3*2+1]*b[3*1+1] + a[3*2+2]*b[3*2+1],
		a[3*2+0]*b[3*0+2] + a[3*2+1]*b[3*1+2] + a[3*2+2]*b[3*2+2],
	}
}

func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		m[3*0+0]*v[0] + m[3*0+1]*v[1] + m[3*0+2]*v[2],
		m[3*1+0]*v[0] + m[3*1+1]*v[1] + m[3*1+2]*v[2],
		m[3*2+0]*v[0] + m[3*2+1]*v[1] + m[3*2+2]*v[2],
	}
}

// Project maps the point (x,y) through the projective transform. The bool
// is false when the point lands on the line at infinity.
func (m Mat3) Project(x, y float64) (float64, float64, bool) {
	w := m[6]*x + m[7]*y + m[8]
	if math.Abs(w) < SingularEpsilon {
		return 0, 0, false
	}
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w, true
}

func (m Mat3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Inverse returns the inverse via the adjugate; ok is false if m is singular.
func (m Mat3) Inverse() (Mat3, bool) {
	det := m.Det()
	if math.Abs(det) < SingularEpsilon {
		return Mat3{}, false
	}
	inv := 1.0 / det
	return Mat3{
		(m[4]*m[8] - m[5]*m[7]) * inv,
		(m[2]*m[7] - m[1]*m[8]) * inv,
		(m[1]*m[5] - m[2]*m[4]) * inv,

		(m[5]*m[6] - m[3]*m[8]) * inv,
		(m[0]*m[8] - m[2]*m[6]) * inv,
		(m[2]*m[3] - m[0]*m[5]) * inv,

		(m[3]*m[7] - m[4]*m[6]) * inv,
		(m[1]*m[6] - m[0]*m[7]) * inv,
		(m[0]*m[4] - m[1]*m[3]) * inv,
	}, true
}

// Normalized scales m so that m[8] == 1. Matrices with m[8] ~ 0 are returned as-is.
func (m Mat3) Normalized() Mat3 {
	if math.Abs(m[8]) < SingularEpsilon {
		return m
	}
	for i := range m {
		m[i] /= m[8]
	}
	return m
}

// Translation returns the (tx, ty) components of a normalized matrix.
func (m Mat3) Translation() (float64, float64) {
	n := m.Normalized()
	return n[2], n[5]
}

// ApproxEqual compares element-wise after normalizing both matrices.
func (m Mat3) ApproxEqual(o Mat3, tol float64) bool {
	a, b := m.Normalized(), o.Normalized()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func (m Mat3) String() string {
	str := fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*0+0], m[3*0+1], m[3*0+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*1+0], m[3*1+1], m[3*1+2])
	str += fmt.Sprintf("[%10f, %10f, %10f]\n", m[3*2+0], m[3*2+1], m[3*2+2])
	return str
}

func (v Vec3) String() string {
	return fmt.Sprintf("[%12.10f, %12.10f, %12.10f]", v[0], v[1], v[2])
}
