// Package frame remaps sparse reconstructions between world axis conventions.
//
// An AxisSwap is a permutation of the three world axes. Applied to a point it
// reorders the coordinates; applied to a camera pose it reorders the
// translation and the vector part of the orientation quaternion, leaving the
// scalar part alone. The quaternion is permuted as is: it is neither
// renormalised nor checked for unit length.
package frame

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/colmap-zup/internal/sparse"
)

// AxisSwap maps output axis i to input axis s[i].
type AxisSwap [3]int

var (
	// Identity leaves every axis in place.
	Identity = AxisSwap{0, 1, 2}

	// YUpToZUp converts COLMAP's Y-up world to Z-up by exchanging the second
	// and third axes. It is its own inverse.
	YUpToZUp = AxisSwap{0, 2, 1}
)

// Validate checks that s is a permutation of {0, 1, 2}.
func (s AxisSwap) Validate() error {
	var seen [3]bool
	for i, a := range s {
		if a < 0 || a > 2 {
			return fmt.Errorf("axis %d maps to %d, want 0..2", i, a)
		}
		if seen[a] {
			return fmt.Errorf("axis %d used twice", a)
		}
		seen[a] = true
	}
	return nil
}

// Inverse returns the permutation that undoes s.
func (s AxisSwap) Inverse() AxisSwap {
	var inv AxisSwap
	for i, a := range s {
		inv[a] = i
	}
	return inv
}

// Then returns the permutation equivalent to applying s and then o.
func (s AxisSwap) Then(o AxisSwap) AxisSwap {
	return AxisSwap{s[o[0]], s[o[1]], s[o[2]]}
}

// IsInvolution reports whether applying s twice is the identity.
func (s AxisSwap) IsInvolution() bool {
	return s.Then(s) == Identity
}

// Permute reorders a triple according to s.
func Permute[T any](s AxisSwap, v [3]T) [3]T {
	return [3]T{v[s[0]], v[s[1]], v[s[2]]}
}

// Vec remaps a point or translation.
func (s AxisSwap) Vec(v r3.Vec) r3.Vec {
	p := Permute(s, [3]float64{v.X, v.Y, v.Z})
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}

// Quat remaps an orientation by permuting its vector part.
func (s AxisSwap) Quat(q quat.Number) quat.Number {
	p := Permute(s, [3]float64{q.Imag, q.Jmag, q.Kmag})
	return quat.Number{Real: q.Real, Imag: p[0], Jmag: p[1], Kmag: p[2]}
}

// Point remaps a 3D point record. Its trailing fields are untouched.
func (s AxisSwap) Point(p sparse.Point3D) sparse.Point3D {
	p.Position = Permute(s, p.Position)
	return p
}

// Pose remaps an image pose record: translation (tx, ty, tz) and the vector
// part (qx, qy, qz) of the orientation.
func (s AxisSwap) Pose(p sparse.ImagePose) sparse.ImagePose {
	p.Translation = Permute(s, p.Translation)
	vec := Permute(s, [3]sparse.Coord{p.Rotation[1], p.Rotation[2], p.Rotation[3]})
	p.Rotation = [4]sparse.Coord{p.Rotation[0], vec[0], vec[1], vec[2]}
	return p
}

// Report counts what ApplyModel changed and what it passed through.
type Report struct {
	Points        int
	Poses         int
	SkippedPoints int
	SkippedPoses  int
}

// ApplyModel remaps every parsed point and pose of m in place. Absent
// collections and malformed lines are left alone.
func (s AxisSwap) ApplyModel(m *sparse.Model) Report {
	var r Report
	if m == nil {
		return r
	}
	if m.Points != nil {
		for i := range m.Points.Lines {
			l := &m.Points.Lines[i]
			switch {
			case l.Point != nil:
				p := s.Point(*l.Point)
				l.Point = &p
				r.Points++
			case l.Malformed:
				r.SkippedPoints++
			}
		}
	}
	if m.Images != nil {
		for i := range m.Images.Lines {
			l := &m.Images.Lines[i]
			switch {
			case l.Pose != nil:
				p := s.Pose(*l.Pose)
				l.Pose = &p
				r.Poses++
			case l.Malformed:
				r.SkippedPoses++
			}
		}
	}
	return r
}
