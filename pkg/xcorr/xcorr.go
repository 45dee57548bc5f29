// Package xcorr scores image alignment by FFT cross-correlation against a
// matched-filter template.
package xcorr

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"particlealign/pkg/render"
)

// Template is the complex conjugate of a reference image's 2D spectrum.
// It is read-only once built and may be shared between goroutines.
type Template struct {
	Rows, Cols int
	Coeff      []complex128
}

// NewTemplate builds the matched filter for a reference image.
func NewTemplate(ref *render.Image) (*Template, error) {
	if ref.Rows < 1 || ref.Cols < 1 {
		return nil, fmt.Errorf("reference image %dx%d is empty", ref.Rows, ref.Cols)
	}
	spectrum, err := NewPlan(ref.Rows, ref.Cols).Forward(ref)
	if err != nil {
		return nil, err
	}
	for i, v := range spectrum {
		spectrum[i] = cmplx.Conj(v)
	}
	return &Template{Rows: ref.Rows, Cols: ref.Cols, Coeff: spectrum}, nil
}

// Correlator cross-correlates images against one template. Each goroutine
// needs its own Correlator.
type Correlator struct {
	template *Template
	plan     *Plan
}

// NewCorrelator returns a correlator with private FFT scratch space.
func (t *Template) NewCorrelator() *Correlator {
	return &Correlator{template: t, plan: NewPlan(t.Rows, t.Cols)}
}

// Correlate returns the cross-correlation surface of im against the
// template, shifted so that zero lag sits at the image center.
func (c *Correlator) Correlate(im *render.Image) (*render.Image, error) {
	spectrum, err := c.plan.Forward(im)
	if err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	for i := range spectrum {
		spectrum[i] *= c.template.Coeff[i]
	}
	surface, err := c.plan.Inverse(spectrum)
	if err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	return Shift(surface), nil
}

// Peak is the brightest element of a correlation surface.
type Peak struct {
	Row, Col int
	Value    float64
}

// ArgMax returns the first maximum in row-major order. An empty image
// yields a zero Peak.
func ArgMax(im *render.Image) Peak {
	if len(im.Data) == 0 {
		return Peak{}
	}
	best := floats.MaxIdx(im.Data)
	return Peak{Row: best / im.Cols, Col: best % im.Cols, Value: im.Data[best]}
}
