package boundary

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	sheetColorA = color.RGBA{R: 180, G: 40, B: 40, A: 255}
	sheetColorB = color.RGBA{R: 30, G: 70, B: 180, A: 255}
)

// ReviewRenderer draws near-duplicate pairs as overlay sheets for human review.
type ReviewRenderer struct {
	Dir        string
	PNG        bool              // also write a labelled PNG thumbnail
	Width      float64           // sheet width in millimetres
	Padding    float64           // padding in millimetres
	Resolution canvas.Resolution // resolution for PNG output
}

// NewReviewRenderer creates a renderer writing into dir.
func NewReviewRenderer(dir string, withPNG bool) *ReviewRenderer {
	return &ReviewRenderer{
		Dir:        dir,
		PNG:        withPNG,
		Width:      160,
		Padding:    8,
		Resolution: canvas.DPI(100),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// sheetName is a stable file stem for a pair.
func sheetName(item ReviewItem) string {
	sum := sha1.Sum([]byte(item.LayerA + "\n" + item.LayerB))
	return hex.EncodeToString(sum[:])[:16]
}

// sheetLayout maps projected metres to sheet millimetres.
type sheetLayout struct {
	bound         orb.Bound
	scale         float64
	width, height float64
	padding       float64
	projectedA    orb.Geometry
	projectedB    orb.Geometry
}

func (r *ReviewRenderer) layout(a, b orb.MultiPolygon) (sheetLayout, error) {
	if len(a) == 0 || len(b) == 0 {
		return sheetLayout{}, fmt.Errorf("both geometries are required")
	}
	center := a.Bound().Union(b.Bound()).Center()
	pa := projectEqualArea(a, center)
	pb := projectEqualArea(b, center)
	bound := pa.Bound().Union(pb.Bound())

	spanX := bound.Max.X() - bound.Min.X()
	spanY := bound.Max.Y() - bound.Min.Y()
	if spanX <= 0 || spanY <= 0 {
		return sheetLayout{}, fmt.Errorf("geometries have no extent")
	}
	inner := r.Width - 2*r.Padding
	scale := inner / spanX
	return sheetLayout{
		bound:      bound,
		scale:      scale,
		width:      r.Width,
		height:     spanY*scale + 2*r.Padding,
		padding:    r.Padding,
		projectedA: pa,
		projectedB: pb,
	}, nil
}

func (l sheetLayout) toCanvas(p orb.Point) (float64, float64) {
	x := (p.X()-l.bound.Min.X())*l.scale + l.padding
	y := (p.Y()-l.bound.Min.Y())*l.scale + l.padding
	return x, y
}

func (l sheetLayout) path(g orb.Geometry) *canvas.Path {
	cp := &canvas.Path{}
	for _, poly := range polygonal(g) {
		for _, ring := range poly {
			for i, pt := range ring {
				x, y := l.toCanvas(pt)
				if i == 0 {
					cp.MoveTo(x, y)
				} else {
					cp.LineTo(x, y)
				}
			}
			cp.Close()
		}
	}
	return cp
}

func (l sheetLayout) render(renderer canvasRenderer) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	for _, layer := range []struct {
		g orb.Geometry
		c color.RGBA
	}{{l.projectedA, sheetColorA}, {l.projectedB, sheetColorB}} {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: translucent(layer.c, 70)}
		style.Stroke = canvas.Paint{Color: layer.c}
		style.StrokeWidth = 0.4
		style.FillRule = canvas.EvenOdd
		renderer.RenderPath(l.path(layer.g), style, canvas.Identity)
	}
}

// translucent returns c premultiplied to the given alpha.
func translucent(c color.RGBA, alpha uint8) color.RGBA {
	a := uint32(alpha)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: alpha,
	}
}

// RenderSVG writes the overlay of a and b as SVG.
func (r *ReviewRenderer) RenderSVG(w io.Writer, a, b orb.MultiPolygon) error {
	l, err := r.layout(a, b)
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, l.width, l.height, nil)
	l.render(svgRenderer)
	return svgRenderer.Close()
}

// RenderPNG writes the overlay of a and b as a PNG labelled with the scores.
func (r *ReviewRenderer) RenderPNG(w io.Writer, item ReviewItem, a, b orb.MultiPolygon) error {
	l, err := r.layout(a, b)
	if err != nil {
		return err
	}
	rast := rasterizer.New(l.width, l.height, r.Resolution, canvas.DefaultColorSpace)
	l.render(rast)

	drawText(rast, 6, 16, fmt.Sprintf("IoU %.3f  name %.3f", item.IoUScore, item.NameSimilarity), color.RGBA{0, 0, 0, 255})
	drawText(rast, 6, 32, "A: "+item.NameA, sheetColorA)
	drawText(rast, 6, 48, "B: "+item.NameB, sheetColorB)

	return png.Encode(w, rast)
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// WriteSheet renders one review item into the renderer's directory and
// returns the written file paths.
func (r *ReviewRenderer) WriteSheet(item ReviewItem, a, b orb.MultiPolygon) ([]string, error) {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating review sheet directory: %w", err)
	}
	stem := filepath.Join(r.Dir, sheetName(item))

	var written []string
	write := func(path string, fn func(io.Writer) error) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
		}
		if err := fn(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("rendering %s: %w", filepath.Base(path), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := write(stem+".svg", func(w io.Writer) error { return r.RenderSVG(w, a, b) }); err != nil {
		return written, err
	}
	if r.PNG {
		if err := write(stem+".png", func(w io.Writer) error { return r.RenderPNG(w, item, a, b) }); err != nil {
			return written, err
		}
	}
	return written, nil
}
