// Package render rasterizes localizations into oversampled histogram images.
//
// All functions are pure: they never modify the coordinate slices they are
// given and return freshly allocated grids.
package render

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Image is a row-major 2D grid of accumulated counts.
type Image struct {
	Rows, Cols int
	Data       []float64
}

// NewImage allocates a zeroed rows x cols image.
func NewImage(rows, cols int) *Image {
	return &Image{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at row r, column c.
func (im *Image) At(r, c int) float64 {
	return im.Data[r*im.Cols+c]
}

// Sum returns the total count held by the image.
func (im *Image) Sum() float64 {
	return floats.Sum(im.Data)
}

// Volume is a 3D grid indexed as [x][y][z], stored row-major.
type Volume struct {
	NX, NY, NZ int
	Data       []float64
}

// At returns the count of voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[(x*v.NY+y)*v.NZ+z]
}

// Window is the half-open rendering range [Min, Max) of one axis.
type Window struct {
	Min, Max float64
}

// Symmetric returns the window [-r, r).
func Symmetric(r float64) Window {
	return Window{Min: -r, Max: r}
}

func (w Window) contains(v float64) bool {
	return v >= w.Min && v < w.Max
}

// Pixels returns the number of cells the window spans at the given
// oversampling, with scale dividing the extent (1 for lateral axes).
func (w Window) Pixels(oversampling, scale float64) int {
	return int(math.Ceil(oversampling * (w.Max - w.Min) / scale))
}

// Validate rejects a window or oversampling that would produce an empty grid.
func (w Window) Validate(oversampling, scale float64) error {
	if oversampling <= 0 || scale <= 0 {
		return fmt.Errorf("oversampling %g and scale %g must be positive", oversampling, scale)
	}
	if !(w.Max > w.Min) || w.Pixels(oversampling, scale) < 1 {
		return fmt.Errorf("window [%g, %g) renders to an empty image", w.Min, w.Max)
	}
	return nil
}

// Hist renders the lateral (x, y) histogram over the square window. Rows
// index y, columns index x. It returns the number of points in view.
func Hist(x, y []float32, oversampling float64, win Window) (int, *Image) {
	n := win.Pixels(oversampling, 1)
	if n < 0 {
		n = 0
	}
	image := NewImage(n, n)
	count := 0
	for i := range x {
		xi, yi := float64(x[i]), float64(y[i])
		if !win.contains(xi) || !win.contains(yi) {
			continue
		}
		count++
		c := int(oversampling * (xi - win.Min))
		r := int(oversampling * (yi - win.Min))
		if r < n && c < n {
			image.Data[r*n+c]++
		}
	}
	return count, image
}

// HistZ renders the axial projection: rows index x, columns index z. The z
// axis is divided by pixelSize before oversampling so that both axes share
// camera-pixel units.
func HistZ(x, z []float32, oversampling float64, xWin, zWin Window, pixelSize float64) (int, *Image) {
	rows := xWin.Pixels(oversampling, 1)
	cols := zWin.Pixels(oversampling, pixelSize)
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	image := NewImage(rows, cols)
	count := 0
	for i := range x {
		xi, zi := float64(x[i]), float64(z[i])
		if !xWin.contains(xi) || !zWin.contains(zi) {
			continue
		}
		count++
		r := int(oversampling * (xi - xWin.Min))
		c := int(oversampling * (zi - zWin.Min) / pixelSize)
		if r < rows && c < cols {
			image.Data[r*cols+c]++
		}
	}
	return count, image
}

// Hist3D renders the full volume histogram over a square lateral window and
// an axial window scaled by pixelSize.
func Hist3D(x, y, z []float32, oversampling float64, win, zWin Window, pixelSize float64) (int, *Volume) {
	n := win.Pixels(oversampling, 1)
	nz := zWin.Pixels(oversampling, pixelSize)
	if n < 0 {
		n = 0
	}
	if nz < 0 {
		nz = 0
	}
	vol := &Volume{NX: n, NY: n, NZ: nz, Data: make([]float64, n*n*nz)}
	count := 0
	for i := range x {
		xi, yi, zi := float64(x[i]), float64(y[i]), float64(z[i])
		if !win.contains(xi) || !win.contains(yi) || !zWin.contains(zi) {
			continue
		}
		count++
		a := int(oversampling * (xi - win.Min))
		b := int(oversampling * (yi - win.Min))
		c := int(oversampling * (zi - zWin.Min) / pixelSize)
		if a < n && b < n && c < nz {
			vol.Data[(a*n+b)*nz+c]++
		}
	}
	return count, vol
}
