package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strings"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomediumitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Flatten draws the background and every object, in order, onto a new
// image the size of the background.
func (c *Canvas) Flatten() (*image.RGBA, error) {
	bounds := c.background.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), c.background, bounds.Min, draw.Src)
	for _, object := range c.objects {
		if err := drawObject(dst, object); err != nil {
			return nil, fmt.Errorf("draw %s: %w", object.ID, err)
		}
	}
	return dst, nil
}

// EncodePNG flattens the canvas and encodes the result as PNG.
func (c *Canvas) EncodePNG() ([]byte, error) {
	flattened, err := c.Flatten()
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, flattened); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func drawObject(dst *image.RGBA, object Object) error {
	switch object.Kind {
	case KindImage:
		target := image.Rect(
			round(object.X), round(object.Y),
			round(object.X+object.Width), round(object.Y+object.Height),
		)
		xdraw.CatmullRom.Scale(dst, target, object.Image, object.Image.Bounds(), xdraw.Over, nil)
	case KindRect:
		if object.Fill != "" {
			target := image.Rect(round(object.X), round(object.Y), round(object.X+object.Width), round(object.Y+object.Height))
			draw.Draw(dst, target, image.NewUniform(parseColor(object.Fill)), image.Point{}, draw.Over)
		}
		stroke := parseColor(object.Stroke)
		x0, y0 := object.X, object.Y
		x1, y1 := object.X+object.Width, object.Y+object.Height
		half := object.StrokeWidth / 2
		strokeLine(dst, x0-half, y0, x1+half, y0, object.StrokeWidth, stroke)
		strokeLine(dst, x0-half, y1, x1+half, y1, object.StrokeWidth, stroke)
		strokeLine(dst, x0, y0, x0, y1, object.StrokeWidth, stroke)
		strokeLine(dst, x1, y0, x1, y1, object.StrokeWidth, stroke)
	case KindLine:
		strokeLine(dst, object.X, object.Y, object.X2, object.Y2, object.StrokeWidth, parseColor(object.Stroke))
	case KindText:
		return drawText(dst, object)
	}
	return nil
}

// strokeLine fills the quad covering a segment of the given width.
func strokeLine(dst *image.RGBA, x0, y0, x1, y1, width float64, c color.Color) {
	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length == 0 || width <= 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	bounds := dst.Bounds()
	rasterizer := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	rasterizer.MoveTo(float32(x0+nx), float32(y0+ny))
	rasterizer.LineTo(float32(x1+nx), float32(y1+ny))
	rasterizer.LineTo(float32(x1-nx), float32(y1-ny))
	rasterizer.LineTo(float32(x0-nx), float32(y0-ny))
	rasterizer.ClosePath()
	rasterizer.Draw(dst, bounds, image.NewUniform(c), image.Point{})
}

func drawText(dst *image.RGBA, object Object) error {
	face, err := faces.face(object.Font, object.Bold, object.Italic, object.FontSize)
	if err != nil {
		return err
	}
	defer face.Close()
	textColor := parseColor(object.Color)
	metrics := face.Metrics()
	lineHeight := metrics.Height
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(textColor), Face: face}
	baseline := fixed.Int26_6(round(object.Y*64)) + metrics.Ascent
	for _, line := range strings.Split(object.Text, "\n") {
		drawer.Dot = fixed.Point26_6{X: fixed.Int26_6(round(object.X * 64)), Y: baseline}
		drawer.DrawString(line)
		if object.Underline && line != "" {
			width := float64(font.MeasureString(face, line)) / 64
			y := float64(baseline+metrics.Descent/2) / 64
			strokeLine(dst, object.X, y, object.X+width, y, math.Max(1, object.FontSize/15), textColor)
		}
		baseline += lineHeight
	}
	return nil
}

func round(value float64) int {
	return int(math.Round(value))
}

// faceCache parses each bundled font once. Faces hold glyph buffers and
// are not shared between goroutines, so every draw gets its own.
type faceCache struct {
	mu    sync.Mutex
	fonts map[string]*opentype.Font
}

var faces = &faceCache{fonts: make(map[string]*opentype.Font)}

// fontData maps a family and style to a bundled Go font. The Go fonts ship
// no serif face, so serif text uses Go Medium.
func fontData(family FontFamily, bold, italic bool) (string, []byte) {
	switch family {
	case FontMono:
		switch {
		case bold && italic:
			return "gomonobolditalic", gomonobolditalic.TTF
		case bold:
			return "gomonobold", gomonobold.TTF
		case italic:
			return "gomonoitalic", gomonoitalic.TTF
		}
		return "gomono", gomono.TTF
	case FontSerif:
		if italic {
			return "gomediumitalic", gomediumitalic.TTF
		}
		return "gomedium", gomedium.TTF
	}
	switch {
	case bold && italic:
		return "gobolditalic", gobolditalic.TTF
	case bold:
		return "gobold", gobold.TTF
	case italic:
		return "goitalic", goitalic.TTF
	}
	return "goregular", goregular.TTF
}

func (f *faceCache) face(family FontFamily, bold, italic bool, size float64) (font.Face, error) {
	name, data := fontData(family, bold, italic)
	f.mu.Lock()
	parsed, ok := f.fonts[name]
	if !ok {
		var err error
		parsed, err = opentype.Parse(data)
		if err != nil {
			f.mu.Unlock()
			return nil, fmt.Errorf("parse font %s: %w", name, err)
		}
		f.fonts[name] = parsed
	}
	f.mu.Unlock()
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("font face %s: %w", name, err)
	}
	return face, nil
}
