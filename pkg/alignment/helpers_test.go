package alignment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"particlealign/internal/models"
	"particlealign/pkg/particles"
	"particlealign/pkg/render"
)

// markedSquare returns the outline of a square with half-side 0.95 and a
// doubled 3x3 marker near the (+x, +y) corner that breaks its symmetry.
func markedSquare() (x, y []float32) {
	const h = 0.95
	for i := 0; i < 20; i++ {
		u := -h + 2*h*(float64(i)+0.5)/20
		for _, p := range [][2]float64{{u, -h}, {u, h}, {-h, u}, {h, u}} {
			x = append(x, float32(p[0]))
			y = append(y, float32(p[1]))
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for rep := 0; rep < 2; rep++ {
				x = append(x, float32(0.55+0.1*float64(i)))
				y = append(y, float32(0.55+0.1*float64(j)))
			}
		}
	}
	return x, y
}

// moved rotates x, y by angle about the origin, then shifts by (dx, dy).
func moved(x, y []float32, angle, dx, dy float64) (mx, my []float32) {
	mx, my = rotate(x, y, angle)
	for i := range mx {
		mx[i] = float32(float64(mx[i]) + dx)
		my[i] = float32(float64(my[i]) + dy)
	}
	return mx, my
}

// groupDataset concatenates 2D groups into a dataset, group ids 0..n-1.
func groupDataset(groups ...[2][]float32) *models.Dataset {
	ds := &models.Dataset{Info: []models.Info{{"Width": 32, "Height": 32}}}
	for g, xy := range groups {
		for i := range xy[0] {
			ds.Locs = append(ds.Locs, models.Localization{X: xy[0][i], Y: xy[1][i], Group: g})
		}
	}
	return ds
}

// newTestAligner wraps a single-group store for direct aligner calls.
func newTestAligner(t *testing.T, x, y, z []float32, groupOf []int, geo Geometry) *aligner {
	t.Helper()
	store, err := particles.NewStore(x, y, z)
	require.NoError(t, err)
	if groupOf == nil {
		groupOf = make([]int, len(x))
	}
	return &aligner{
		index:  particles.NewIndex(groupOf),
		store:  store,
		geo:    geo,
		angles: CandidateAngles(geo.Lateral.Max, geo.Oversampling),
	}
}

// angleDiff is the absolute angular distance between a and b on the circle.
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 2*math.Pi)
	return math.Min(d, 2*math.Pi-d)
}

var squareGeometry = Geometry{
	Oversampling: 10,
	Lateral:      render.Symmetric(2),
	PixelSize:    1,
}
