package alignment

import (
	"fmt"

	"particlealign/pkg/particles"
	"particlealign/pkg/render"
	"particlealign/pkg/xcorr"
)

// Phase names one registration pass within a round.
type Phase int

const (
	// PhaseLateral searches rotation and (x, y) translation.
	PhaseLateral Phase = iota
	// PhaseAxial searches a z translation only.
	PhaseAxial
)

func (p Phase) String() string {
	switch p {
	case PhaseLateral:
		return "lateral"
	case PhaseAxial:
		return "axial"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Geometry fixes the rendering of one session: the oversampling, the
// lateral and axial windows and the axial pixel size.
type Geometry struct {
	Oversampling float64
	Lateral      render.Window
	Axial        render.Window
	PixelSize    float64
}

// Reference is the ensemble average of one round or sub-phase together
// with its matched-filter template. It is read-only once built.
type Reference struct {
	Phase    Phase
	Image    *render.Image
	Template *xcorr.Template

	// Volume is the full 3D average rendered alongside the lateral
	// reference of 3D datasets. It does not take part in scoring.
	Volume *render.Volume

	// Half is the image half-size, in pixels, used to turn a peak
	// position into an offset from zero lag
	Half float64
}

// BuildLateral renders the (x, y) average of every point in the store and
// derives its template. For 3D stores the volume average is rendered too.
func BuildLateral(store *particles.Store, geo Geometry) (*Reference, error) {
	x, y, z := store.View()
	_, image := render.Hist(x, y, geo.Oversampling, geo.Lateral)
	tmpl, err := xcorr.NewTemplate(image)
	if err != nil {
		return nil, fmt.Errorf("lateral reference: %w", err)
	}
	ref := &Reference{
		Phase:    PhaseLateral,
		Image:    image,
		Template: tmpl,
		Half:     float64(image.Rows) / 2,
	}
	if store.HasZ() {
		_, ref.Volume = render.Hist3D(x, y, z, geo.Oversampling, geo.Lateral, geo.Axial, geo.PixelSize)
	}
	return ref, nil
}

// BuildAxial renders the (x, z) projection average of every point in the
// store and derives its template.
func BuildAxial(store *particles.Store, geo Geometry) (*Reference, error) {
	if !store.HasZ() {
		return nil, fmt.Errorf("axial reference requires z coordinates")
	}
	x, _, z := store.View()
	_, image := render.HistZ(x, z, geo.Oversampling, geo.Lateral, geo.Axial, geo.PixelSize)
	tmpl, err := xcorr.NewTemplate(image)
	if err != nil {
		return nil, fmt.Errorf("axial reference: %w", err)
	}
	return &Reference{
		Phase:    PhaseAxial,
		Image:    image,
		Template: tmpl,
		Half:     float64(image.Cols) / 2,
	}, nil
}
