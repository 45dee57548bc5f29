package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"particlealign/internal/models"
	"particlealign/pkg/alignment"
	"particlealign/pkg/render"
)

// Viewer turns a rendered average into image files.
type Viewer struct {
	// image is the rendered histogram, rows along the vertical axis
	image *render.Image

	// origin and pixel map grid cells back to coordinate units
	origin [2]float64
	pixel  [2]float64

	title  string
	xLabel string
	yLabel string
}

// NewViewer wraps an already rendered image; cells are labelled by index.
func NewViewer(im *render.Image, title string) *Viewer {
	return &Viewer{
		image:  im,
		pixel:  [2]float64{1, 1},
		title:  title,
		xLabel: "column",
		yLabel: "row",
	}
}

// Average renders the lateral ensemble average of locs.
func Average(locs []models.Localization, geo alignment.Geometry) *Viewer {
	x := make([]float32, len(locs))
	y := make([]float32, len(locs))
	for i, l := range locs {
		x[i], y[i] = l.X, l.Y
	}
	_, im := render.Hist(x, y, geo.Oversampling, geo.Lateral)
	px := 1 / geo.Oversampling
	return &Viewer{
		image:  im,
		origin: [2]float64{geo.Lateral.Min, geo.Lateral.Min},
		pixel:  [2]float64{px, px},
		title:  "Average",
		xLabel: "x [px]",
		yLabel: "y [px]",
	}
}

// AxialAverage renders the (x, z) projection of locs with z on the
// horizontal axis.
func AxialAverage(locs []models.Localization, geo alignment.Geometry) *Viewer {
	x := make([]float32, len(locs))
	z := make([]float32, len(locs))
	for i, l := range locs {
		x[i], z[i] = l.X, l.Z
	}
	_, im := render.HistZ(x, z, geo.Oversampling, geo.Lateral, geo.Axial, geo.PixelSize)
	return &Viewer{
		image:  im,
		origin: [2]float64{geo.Axial.Min, geo.Lateral.Min},
		pixel:  [2]float64{geo.PixelSize / geo.Oversampling, 1 / geo.Oversampling},
		title:  "Axial average",
		xLabel: "z [nm]",
		yLabel: "x [px]",
	}
}

// Image returns the underlying histogram.
func (v *Viewer) Image() *render.Image {
	return v.image
}

// Gray returns the histogram scaled so that its brightest cell is white.
// Row 0 is drawn at the bottom.
func (v *Viewer) Gray() *image.Gray {
	im := v.image
	img := image.NewGray(image.Rect(0, 0, im.Cols, im.Rows))
	peak := 0.0
	if len(im.Data) > 0 {
		peak = floats.Max(im.Data)
	}
	for r := 0; r < im.Rows; r++ {
		for c := 0; c < im.Cols; c++ {
			var value uint8
			if peak > 0 {
				value = uint8(math.Round(255 * math.Min(1, im.At(r, c)/peak)))
			}
			img.SetGray(c, im.Rows-1-r, color.Gray{Y: value})
		}
	}
	return img
}

// SaveGray writes the normalized histogram as a grayscale PNG.
func (v *Viewer) SaveGray(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, v.Gray()); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveHeatMap writes the histogram as a color heat map with labelled axes.
// The format follows the file extension (png, svg, pdf, ...).
func (v *Viewer) SaveHeatMap(filename string) error {
	if len(v.image.Data) == 0 {
		return fmt.Errorf("image is empty")
	}
	if floats.Max(v.image.Data) == floats.Min(v.image.Data) {
		return fmt.Errorf("image is flat, nothing to draw")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = v.title
	p.X.Label.Text = v.xLabel
	p.Y.Label.Text = v.yLabel
	p.Add(plotter.NewHeatMap(grid{v}, palette.Heat(64, 1)))

	if err := p.Save(6*vg.Inch, 6*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save heat map %s: %w", filename, err)
	}
	return nil
}

// ExportAverages writes the lateral average of ds as a heat map and as a
// grayscale PNG. An empty path skips that output. For 3D datasets the
// axial projection is written next to each file with an "_xz" suffix.
func ExportAverages(ds *models.Dataset, geo alignment.Geometry, heatMap, gray string) error {
	views := []*Viewer{Average(ds.Locs, geo)}
	suffixes := []string{""}
	if ds.HasZ {
		views = append(views, AxialAverage(ds.Locs, geo))
		suffixes = append(suffixes, "_xz")
	}
	for i, v := range views {
		if heatMap != "" {
			if err := v.SaveHeatMap(withSuffix(heatMap, suffixes[i])); err != nil {
				return err
			}
		}
		if gray != "" {
			if err := v.SaveGray(withSuffix(gray, suffixes[i])); err != nil {
				return fmt.Errorf("failed to save gray image: %w", err)
			}
		}
	}
	return nil
}

func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// grid adapts a Viewer to plotter.GridXYZ.
type grid struct {
	v *Viewer
}

func (g grid) Dims() (c, r int) {
	return g.v.image.Cols, g.v.image.Rows
}

func (g grid) Z(c, r int) float64 {
	return g.v.image.At(r, c)
}

func (g grid) X(c int) float64 {
	return g.v.origin[0] + (float64(c)+0.5)*g.v.pixel[0]
}

func (g grid) Y(r int) float64 {
	return g.v.origin[1] + (float64(r)+0.5)*g.v.pixel[1]
}
