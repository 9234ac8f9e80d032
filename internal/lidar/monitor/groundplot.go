package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/scanground/internal/lidar/l4perception"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	groundColor = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	objectColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
)

// GroundPlotter renders debug plots of a classified frame: ground returns
// in grey, object returns in red.
type GroundPlotter struct {
	outputDir string
	width     vg.Length
	height    vg.Length
}

// NewGroundPlotter creates a plotter writing into outputDir. An empty
// outputDir means paths passed to the Plot methods are used as given.
func NewGroundPlotter(outputDir string) *GroundPlotter {
	return &GroundPlotter{
		outputDir: outputDir,
		width:     10 * vg.Inch,
		height:    10 * vg.Inch,
	}
}

// FrameFile returns the default file name for a frame's top-down plot.
func FrameFile(header l4perception.FrameHeader) string {
	return fmt.Sprintf("frame_%06d_topdown.png", header.Seq)
}

// ProfileFile returns the default file name for one sector's profile plot.
func ProfileFile(header l4perception.FrameHeader, sector int) string {
	return fmt.Sprintf("frame_%06d_sector_%03d_profile.png", header.Seq, sector)
}

func (gp *GroundPlotter) resolve(path string) string {
	if gp.outputDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(gp.outputDir, path)
}

// splitPoints partitions cloud into ground and object XYs using the
// non-ground indices. project maps a point to plot coordinates.
func splitPoints(points []l4perception.Point3D, indices []int, project func(l4perception.Point3D) plotter.XY) (ground, objects plotter.XYs, err error) {
	isObject := make([]bool, len(points))
	for _, i := range indices {
		if i < 0 || i >= len(points) {
			return nil, nil, fmt.Errorf("non-ground index %d out of range [0, %d)", i, len(points))
		}
		isObject[i] = true
	}
	ground = make(plotter.XYs, 0, len(points))
	objects = make(plotter.XYs, 0, len(indices))
	for i, p := range points {
		if isObject[i] {
			objects = append(objects, project(p))
		} else {
			ground = append(ground, project(p))
		}
	}
	return ground, objects, nil
}

// PlotFrame writes a top-down X/Y scatter of cloud to path.
func (gp *GroundPlotter) PlotFrame(cloud l4perception.PointCloud, indices []int, path string) error {
	ground, objects, err := splitPoints(cloud.Points, indices, func(p l4perception.Point3D) plotter.XY {
		return plotter.XY{X: p.X, Y: p.Y}
	})
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s seq %d - ground %d / objects %d",
		cloud.Header.FrameID, cloud.Header.Seq, len(ground), len(objects))
	p.X.Label.Text = "X forward (m)"
	p.Y.Label.Text = "Y left (m)"

	if err := addSeries(p, ground, objects); err != nil {
		return err
	}
	squareAxes(p, cloud.Points)
	return gp.save(p, path)
}

// PlotProfile writes a radius/height scatter of the points in one sector,
// the view the sweep itself works in.
func (gp *GroundPlotter) PlotProfile(cloud l4perception.PointCloud, indices []int, dividerAngleRad float64, sector int, path string) error {
	sectors := l4perception.BucketizePoints(cloud.Points, dividerAngleRad)
	if sector < 0 || sector >= len(sectors) {
		return fmt.Errorf("sector %d out of range [0, %d)", sector, len(sectors))
	}

	refs := sectors[sector]
	inSector := make([]l4perception.Point3D, len(refs))
	remap := make(map[int]int, len(refs))
	for j, ref := range refs {
		inSector[j] = cloud.Points[ref.OrigIndex]
		remap[ref.OrigIndex] = j
	}
	local := make([]int, 0, len(indices))
	for _, i := range indices {
		if j, ok := remap[i]; ok {
			local = append(local, j)
		}
	}

	ground, objects, err := splitPoints(inSector, local, func(p l4perception.Point3D) plotter.XY {
		return plotter.XY{X: math.Hypot(p.X, p.Y), Y: p.Z}
	})
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s seq %d - sector %d profile", cloud.Header.FrameID, cloud.Header.Seq, sector)
	p.X.Label.Text = "Radius (m)"
	p.Y.Label.Text = "Height (m)"
	if err := addSeries(p, ground, objects); err != nil {
		return err
	}
	return gp.save(p, path)
}

func addSeries(p *plot.Plot, ground, objects plotter.XYs) error {
	for _, s := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"ground", ground, groundColor},
		{"objects", objects, objectColor},
	} {
		if len(s.pts) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(s.pts)
		if err != nil {
			return fmt.Errorf("%s scatter: %w", s.name, err)
		}
		scatter.GlyphStyle.Color = s.c
		scatter.GlyphStyle.Radius = vg.Points(1)
		p.Add(scatter)
		p.Legend.Add(s.name, scatter)
	}
	p.Add(plotter.NewGrid())
	return nil
}

// squareAxes gives both axes the same extent so the top-down view is not
// distorted.
func squareAxes(p *plot.Plot, points []l4perception.Point3D) {
	extent := 1.0
	for _, pt := range points {
		extent = math.Max(extent, math.Max(math.Abs(pt.X), math.Abs(pt.Y)))
	}
	p.X.Min, p.X.Max = -extent, extent
	p.Y.Min, p.Y.Max = -extent, extent
}

func (gp *GroundPlotter) save(p *plot.Plot, path string) error {
	path = gp.resolve(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	if err := p.Save(gp.width, gp.height, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
