package alignment

import (
	"math"

	"particlealign/pkg/particles"
	"particlealign/pkg/render"
	"particlealign/pkg/xcorr"
)

// Transform is the rigid motion chosen for one group in one phase.
// Offsets are in camera pixels; they are subtracted from the rotated
// coordinates when applied.
type Transform struct {
	Angle  float64
	DX, DY float64
	DZ     float64

	// Score is the correlation peak of the chosen candidate
	Score float64

	// Found is false when every candidate produced a flat correlation
	// surface; the group is then left untouched
	Found bool
}

// aligner runs group alignments for one session. Its fields are shared
// read-only across workers; only the store indices of the group being
// aligned are written.
type aligner struct {
	index  *particles.Index
	store  *particles.Store
	geo    Geometry
	angles []float64
}

// alignLateral searches every candidate rotation of group g against ref and
// writes the best rotation and (x, y) shift back to the store.
func (a *aligner) alignLateral(g int, ref *Reference) (Transform, error) {
	idx := a.index.Members(g)
	x0, y0, _ := a.store.Gather(idx)

	best, _, err := searchRotation(x0, y0, a.angles, ref, a.geo)
	if err != nil || !best.Found {
		return best, err
	}

	x, y := rotate(x0, y0, best.Angle)
	for i := range x {
		x[i] = float32(float64(x[i]) - best.DX)
		y[i] = float32(float64(y[i]) - best.DY)
	}
	a.store.ScatterXY(idx, x, y)
	return best, nil
}

// searchRotation scores each angle by the peak of the cross-correlation
// between the rotated group and the reference. Only a strictly higher peak
// replaces the current best, so ties keep the earliest angle. scores holds
// the peak of every candidate in angle order.
func searchRotation(x0, y0 []float32, angles []float64, ref *Reference, geo Geometry) (best Transform, scores []float64, err error) {
	corr := ref.Template.NewCorrelator()
	scores = make([]float64, len(angles))
	for k, angle := range angles {
		x, y := rotate(x0, y0, angle)
		_, image := render.Hist(x, y, geo.Oversampling, geo.Lateral)
		surface, err := corr.Correlate(image)
		if err != nil {
			return Transform{}, nil, err
		}
		peak := xcorr.ArgMax(surface)
		scores[k] = peak.Value
		if peak.Value > best.Score {
			best = Transform{
				Angle: angle,
				DX:    math.Ceil(float64(peak.Col)-ref.Half) / geo.Oversampling,
				DY:    math.Ceil(float64(peak.Row)-ref.Half) / geo.Oversampling,
				Score: peak.Value,
				Found: true,
			}
		}
	}
	return best, scores, nil
}

// alignAxial correlates the (x, z) projection of group g against ref and
// shifts the group along z. The x offset of the same peak is reported in
// the returned transform but never applied.
func (a *aligner) alignAxial(g int, ref *Reference) (Transform, error) {
	idx := a.index.Members(g)
	x0, _, z0 := a.store.Gather(idx)

	_, image := render.HistZ(x0, z0, a.geo.Oversampling, a.geo.Lateral, a.geo.Axial, a.geo.PixelSize)
	surface, err := ref.Template.NewCorrelator().Correlate(image)
	if err != nil {
		return Transform{}, err
	}
	peak := xcorr.ArgMax(surface)
	if peak.Value <= 0 {
		return Transform{}, nil
	}

	t := Transform{
		DZ:    math.Ceil(float64(peak.Col)-ref.Half) / a.geo.Oversampling,
		DX:    math.Ceil(float64(peak.Row)-float64(image.Rows)/2) / a.geo.Oversampling,
		Score: peak.Value,
		Found: true,
	}

	// DZ counts camera pixels of the scaled axial axis
	shift := t.DZ * a.geo.PixelSize
	z := make([]float32, len(z0))
	for i := range z0 {
		z[i] = float32(float64(z0[i]) - shift)
	}
	a.store.ScatterZ(idx, z)
	return t, nil
}

// rotate returns x0, y0 rotated counter-clockwise by angle about the origin.
func rotate(x0, y0 []float32, angle float64) (x, y []float32) {
	sin, cos := math.Sincos(angle)
	x = make([]float32, len(x0))
	y = make([]float32, len(y0))
	for i := range x0 {
		xi, yi := float64(x0[i]), float64(y0[i])
		x[i] = float32(cos*xi - sin*yi)
		y[i] = float32(sin*xi + cos*yi)
	}
	return x, y
}
