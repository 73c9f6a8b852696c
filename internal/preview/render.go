// Package preview draws plan views of a sparse reconstruction so a run can
// be sanity-checked without a 3D viewer: an interactive go-echarts page and
// a static gonum/plot image, both looking down the Z axis.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/colmap-zup/internal/fsutil"
	"github.com/banshee-data/colmap-zup/internal/sparse"
)

// Output file names inside the preview directory.
const (
	HTMLFile = "points.html"
	PNGFile  = "points.png"
)

// DefaultMaxPoints caps how many points are drawn.
const DefaultMaxPoints = 20000

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Renderer writes the preview files.
type Renderer struct {
	FS        fsutil.FileSystem
	MaxPoints int
	// Assets overrides the echarts JavaScript host. Empty uses the CDN.
	Assets string
}

// NewRenderer creates a Renderer writing through fsys.
func NewRenderer(fsys fsutil.FileSystem) *Renderer {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Renderer{FS: fsys, MaxPoints: DefaultMaxPoints}
}

// Cloud is the data drawn by a preview.
type Cloud struct {
	Points  []r3.Vec
	Cameras []r3.Vec
	Stride  int
	// Total is the number of points before downsampling.
	Total int
}

// Extract collects point positions and camera centres from m, keeping every
// stride-th point so at most maxPoints remain.
func Extract(m *sparse.Model, maxPoints int) Cloud {
	var c Cloud
	c.Stride = 1
	if m == nil {
		return c
	}
	if m.Points != nil {
		var all []r3.Vec
		for _, l := range m.Points.Lines {
			if l.Point != nil {
				all = append(all, l.Point.Vec())
			}
		}
		c.Total = len(all)
		if maxPoints > 0 && len(all) > maxPoints {
			c.Stride = int(math.Ceil(float64(len(all)) / float64(maxPoints)))
		}
		for i := 0; i < len(all); i += c.Stride {
			c.Points = append(c.Points, all[i])
		}
	}
	if m.Images != nil {
		for _, l := range m.Images.Lines {
			if l.Pose != nil {
				c.Cameras = append(c.Cameras, CameraCenter(l.Pose.Quat(), l.Pose.Vec()))
			}
		}
	}
	return c
}

// CameraCenter returns the camera position in world coordinates for a
// world-to-camera rotation q and translation t, i.e. -R^T t.
func CameraCenter(q quat.Number, t r3.Vec) r3.Vec {
	if quat.Abs(q) == 0 {
		return r3.Scale(-1, t)
	}
	v := quat.Number{Imag: t.X, Jmag: t.Y, Kmag: t.Z}
	r := quat.Mul(quat.Mul(quat.Inv(q), v), q)
	return r3.Vec{X: -r.Imag, Y: -r.Jmag, Z: -r.Kmag}
}

// Render writes HTMLFile and PNGFile into dir and returns their paths.
// A model without points writes nothing.
func (r *Renderer) Render(ctx context.Context, m *sparse.Model, dir string) ([]string, error) {
	cloud := Extract(m, r.MaxPoints)
	if len(cloud.Points) == 0 {
		opsf("no points to preview in %s", dir)
		return nil, nil
	}
	diagf("previewing %d of %d points (stride %d), %d cameras", len(cloud.Points), cloud.Total, cloud.Stride, len(cloud.Cameras))

	var written []string

	html, err := r.HTML(cloud)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, HTMLFile)
	if err := fsutil.WriteFileAtomic(r.FS, path, html, 0644); err != nil {
		return nil, err
	}
	written = append(written, path)

	if err := ctx.Err(); err != nil {
		return written, err
	}

	png, err := PNG(cloud)
	if err != nil {
		return written, err
	}
	path = filepath.Join(dir, PNGFile)
	if err := fsutil.WriteFileAtomic(r.FS, path, png, 0644); err != nil {
		return written, err
	}
	written = append(written, path)
	tracef("wrote %v", written)
	return written, nil
}

func bounds(c Cloud) (pad float64, minZ, maxZ float64) {
	minZ, maxZ = math.Inf(1), math.Inf(-1)
	maxAbs := 0.0
	for _, p := range c.Points {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		minZ = math.Min(minZ, p.Z)
		maxZ = math.Max(maxZ, p.Z)
	}
	for _, p := range c.Cameras {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	// Small padding so points at the edges stay visible.
	pad = maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if minZ == maxZ {
		maxZ = minZ + 1
	}
	return pad, minZ, maxZ
}

// HTML renders the interactive scatter page.
func (r *Renderer) HTML(c Cloud) ([]byte, error) {
	pad, minZ, maxZ := bounds(c)

	points := make([]opts.ScatterData, 0, len(c.Points))
	for _, p := range c.Points {
		points = append(points, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Z}})
	}
	cameras := make([]opts.ScatterData, 0, len(c.Cameras))
	for _, p := range c.Cameras {
		cameras = append(cameras, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Z}})
	}

	initOpts := opts.Initialization{PageTitle: "Sparse Reconstruction", Theme: "dark", Width: "900px", Height: "900px"}
	if r.Assets != "" {
		initOpts.AssetsHost = r.Assets
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Sparse points (plan view)", Subtitle: fmt.Sprintf("points=%d/%d stride=%d cameras=%d", len(c.Points), c.Total, c.Stride, len(c.Cameras))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minZ),
			Max:        float32(maxZ),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("points", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("cameras", cameras,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}),
	)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// PNG renders the static plan view.
func PNG(c Cloud) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sparse points (%d, stride %d)", len(c.Points), c.Stride)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(c.Points))
	for _, v := range c.Points {
		pts = append(pts, plotter.XY{X: v.X, Y: v.Y})
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("points scatter: %w", err)
	}
	s.GlyphStyle.Radius = vg.Points(0.8)
	s.GlyphStyle.Color = color.RGBA{R: 38, G: 130, B: 142, A: 255}
	p.Add(s)
	p.Legend.Add("points", s)

	if len(c.Cameras) > 0 {
		cams := make(plotter.XYs, 0, len(c.Cameras))
		for _, v := range c.Cameras {
			cams = append(cams, plotter.XY{X: v.X, Y: v.Y})
		}
		cs, err := plotter.NewScatter(cams)
		if err != nil {
			return nil, fmt.Errorf("camera scatter: %w", err)
		}
		cs.GlyphStyle.Radius = vg.Points(3)
		cs.GlyphStyle.Color = color.RGBA{R: 255, G: 82, B: 82, A: 255}
		p.Add(cs)
		p.Legend.Add("cameras", cs)
	}

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
