package models

import "sort"

// Localization is a single point sample belonging to one particle.
type Localization struct {
	// X and Y are the lateral coordinates in camera pixels
	X, Y float32

	// Z is the axial coordinate in nm, only meaningful when the
	// dataset is 3D
	Z float32

	// Group identifies the particle this sample belongs to
	Group int
}

// Info is one metadata block attached to a dataset, kept as loose key/value
// pairs so that blocks written by other tools survive a round trip.
type Info map[string]interface{}

// Dataset is a loaded set of localizations together with its metadata.
type Dataset struct {
	// Locs holds every point; group ids partition it into particles
	Locs []Localization

	// HasZ selects the 3D alignment variant
	HasZ bool

	// Info is the ordered list of metadata blocks, the first one
	// carries the frame Width and Height
	Info []Info
}

// FrameSize returns the Width and Height of the first metadata block.
// Missing or non-numeric entries are reported as zero.
func (d *Dataset) FrameSize() (width, height float64) {
	if len(d.Info) == 0 {
		return 0, 0
	}
	return number(d.Info[0]["Width"]), number(d.Info[0]["Height"])
}

// Groups returns the distinct group ids in ascending order.
func (d *Dataset) Groups() []int {
	seen := make(map[int]struct{})
	for _, l := range d.Locs {
		seen[l.Group] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
