package xcorr

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"particlealign/pkg/render"
)

// Plan holds the 1D transforms needed for a fixed rows x cols 2D FFT.
// A Plan keeps scratch space and must not be shared between goroutines.
type Plan struct {
	rows, cols int

	// rowReal transforms real image rows, rowCmplx and colCmplx are
	// used for the complex passes
	rowReal  *fourier.FFT
	rowCmplx *fourier.CmplxFFT
	colCmplx *fourier.CmplxFFT

	rowIn   []float64
	rowHalf []complex128
	line    []complex128
	col     []complex128
}

// NewPlan prepares transforms for rows x cols images.
func NewPlan(rows, cols int) *Plan {
	return &Plan{
		rows:     rows,
		cols:     cols,
		rowReal:  fourier.NewFFT(cols),
		rowCmplx: fourier.NewCmplxFFT(cols),
		colCmplx: fourier.NewCmplxFFT(rows),
		rowIn:    make([]float64, cols),
		rowHalf:  make([]complex128, cols/2+1),
		line:     make([]complex128, cols),
		col:      make([]complex128, rows),
	}
}

// Forward computes the unnormalized 2D DFT of a real image.
func (p *Plan) Forward(im *render.Image) ([]complex128, error) {
	if im.Rows != p.rows || im.Cols != p.cols {
		return nil, fmt.Errorf("image %dx%d does not match plan %dx%d", im.Rows, im.Cols, p.rows, p.cols)
	}
	size := p.cols
	result := make([]complex128, p.rows*p.cols)

	// Row pass on real data, then rebuild the full spectrum from the
	// conjugate symmetry F(n-k) = F*(k)
	for i := 0; i < p.rows; i++ {
		copy(p.rowIn, im.Data[i*size:(i+1)*size])
		p.rowReal.Coefficients(p.rowHalf, p.rowIn)

		out := result[i*size : (i+1)*size]
		copy(out, p.rowHalf)
		for j := len(p.rowHalf); j < size; j++ {
			k := size - j
			out[j] = complex(real(p.rowHalf[k]), -imag(p.rowHalf[k]))
		}
	}

	// Column pass on the complex row spectra
	p.columns(result, false)

	return result, nil
}

// Inverse computes the normalized inverse 2D DFT and returns its real part
// as an image.
func (p *Plan) Inverse(coeff []complex128) (*render.Image, error) {
	if len(coeff) != p.rows*p.cols {
		return nil, fmt.Errorf("spectrum length %d does not match plan %dx%d", len(coeff), p.rows, p.cols)
	}
	work := make([]complex128, len(coeff))
	copy(work, coeff)

	p.columns(work, true)
	for i := 0; i < p.rows; i++ {
		row := work[i*p.cols : (i+1)*p.cols]
		copy(p.line, row)
		p.rowCmplx.Sequence(row, p.line)
	}

	scale := 1 / float64(p.rows*p.cols)
	out := render.NewImage(p.rows, p.cols)
	for i, v := range work {
		out.Data[i] = real(v) * scale
	}
	return out, nil
}

func (p *Plan) columns(data []complex128, inverse bool) {
	for j := 0; j < p.cols; j++ {
		for i := 0; i < p.rows; i++ {
			p.col[i] = data[i*p.cols+j]
		}
		var out []complex128
		if inverse {
			out = p.colCmplx.Sequence(nil, p.col)
		} else {
			out = p.colCmplx.Coefficients(nil, p.col)
		}
		for i := 0; i < p.rows; i++ {
			data[i*p.cols+j] = out[i]
		}
	}
}

// Shift moves the zero-frequency (zero-lag) element to the center of the
// image, element (rows/2, cols/2).
func Shift(im *render.Image) *render.Image {
	out := render.NewImage(im.Rows, im.Cols)
	sr, sc := im.Rows/2, im.Cols/2
	for r := 0; r < im.Rows; r++ {
		dr := (r + sr) % im.Rows
		for c := 0; c < im.Cols; c++ {
			dc := (c + sc) % im.Cols
			out.Data[dr*im.Cols+dc] = im.Data[r*im.Cols+c]
		}
	}
	return out
}
