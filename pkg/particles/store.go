package particles

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrLengthMismatch is returned when coordinate axes differ in length.
var ErrLengthMismatch = errors.New("coordinate axes differ in length")

// Store is the single source of truth for point coordinates during an
// alignment run.
//
// Alignment workers write through ScatterXY and ScatterZ without locking.
// This is only correct because each worker writes the indices of exactly
// one group per round and an Index partitions the points, so no two
// concurrent writers ever touch the same element. Whole-store operations
// (Snapshot, Recenter, CenterGroups) must only run while no worker is
// active.
type Store struct {
	x, y, z []float32
	hasZ    bool
}

// NewStore copies the given axes into a new store. Pass a nil z for 2D data.
func NewStore(x, y, z []float32) (*Store, error) {
	if len(x) != len(y) || (z != nil && len(z) != len(x)) {
		return nil, fmt.Errorf("x=%d y=%d z=%d: %w", len(x), len(y), len(z), ErrLengthMismatch)
	}
	s := &Store{
		x:    append([]float32(nil), x...),
		y:    append([]float32(nil), y...),
		hasZ: z != nil,
	}
	if s.hasZ {
		s.z = append([]float32(nil), z...)
	}
	return s, nil
}

// Len returns the number of points.
func (s *Store) Len() int {
	return len(s.x)
}

// HasZ reports whether the store carries an axial coordinate.
func (s *Store) HasZ() bool {
	return s.hasZ
}

// Gather copies the coordinates of idx out of the store. z is nil for 2D.
func (s *Store) Gather(idx []int) (x, y, z []float32) {
	x = make([]float32, len(idx))
	y = make([]float32, len(idx))
	for k, i := range idx {
		x[k] = s.x[i]
		y[k] = s.y[i]
	}
	if s.hasZ {
		z = make([]float32, len(idx))
		for k, i := range idx {
			z[k] = s.z[i]
		}
	}
	return x, y, z
}

// ScatterXY overwrites the lateral coordinates of idx.
func (s *Store) ScatterXY(idx []int, x, y []float32) {
	for k, i := range idx {
		s.x[i] = x[k]
		s.y[i] = y[k]
	}
}

// ScatterZ overwrites the axial coordinate of idx. It is a no-op for 2D.
func (s *Store) ScatterZ(idx []int, z []float32) {
	if !s.hasZ {
		return
	}
	for k, i := range idx {
		s.z[i] = z[k]
	}
}

// Snapshot returns copies of every axis. z is nil for 2D.
func (s *Store) Snapshot() (x, y, z []float32) {
	x = append([]float32(nil), s.x...)
	y = append([]float32(nil), s.y...)
	if s.hasZ {
		z = append([]float32(nil), s.z...)
	}
	return x, y, z
}

// View exposes the live axes for read-only rendering between rounds.
func (s *Store) View() (x, y, z []float32) {
	return s.x, s.y, s.z
}

// Mean returns the per-axis mean over all points.
func (s *Store) Mean() (mx, my, mz float64) {
	mx = mean(s.x)
	my = mean(s.y)
	if s.hasZ {
		mz = mean(s.z)
	}
	return mx, my, mz
}

// Recenter subtracts the mean of every axis so the point cloud is centered
// on the origin. It returns the offsets that were removed.
func (s *Store) Recenter() (mx, my, mz float64) {
	mx, my, mz = s.Mean()
	shift(s.x, mx)
	shift(s.y, my)
	if s.hasZ {
		shift(s.z, mz)
	}
	return mx, my, mz
}

// CenterGroups moves every group so that its own centroid sits at the
// origin.
func (s *Store) CenterGroups(ix *Index) {
	for g := 0; g < ix.Len(); g++ {
		idx := ix.Members(g)
		x, y, z := s.Gather(idx)
		shift(x, mean(x))
		shift(y, mean(y))
		s.ScatterXY(idx, x, y)
		if s.hasZ {
			shift(z, mean(z))
			s.ScatterZ(idx, z)
		}
	}
}

// LateralRadius returns twice the root mean square lateral distance from
// the origin, the half-width used for the alignment window.
func (s *Store) LateralRadius() float64 {
	if len(s.x) == 0 {
		return 0
	}
	sq := make([]float64, len(s.x))
	for i := range s.x {
		x, y := float64(s.x[i]), float64(s.y[i])
		sq[i] = x*x + y*y
	}
	return 2 * math.Sqrt(stat.Mean(sq, nil))
}

// AxialRadius returns six population standard deviations of z, or zero
// for 2D data.
func (s *Store) AxialRadius() float64 {
	if !s.hasZ || len(s.z) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(widen(s.z), nil)
	return 6 * std
}

func mean(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(widen(v), nil)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func shift(v []float32, by float64) {
	for i := range v {
		v[i] = float32(float64(v[i]) - by)
	}
}
