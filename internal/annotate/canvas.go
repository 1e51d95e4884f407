// Package annotate implements the certificate overlay editor: a raster
// background with text, image, rectangle and line objects on top, a bounded
// undo history and flattening to a single image.
package annotate

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"regexp"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
)

// Kind is the type of a drawable object.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindRect  Kind = "rect"
	KindLine  Kind = "line"
)

// FontFamily selects the face used for text objects.
type FontFamily string

const (
	FontSans  FontFamily = "sans"
	FontSerif FontFamily = "serif"
	FontMono  FontFamily = "mono"
)

const (
	// MaxImageEdge caps the longest edge of images placed on the canvas.
	MaxImageEdge = 800

	defaultFontSize    = 24
	minFontSize        = 6
	maxFontSize        = 400
	defaultStrokeWidth = 2
	maxStrokeWidth     = 50
	defaultColor       = "#000000"
)

var (
	ErrObjectNotFound = errors.New("annotate: object not found")
	ErrInvalidObject  = errors.New("annotate: invalid object")

	hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// Object is one drawable on the canvas. X and Y are the top-left corner, or
// the start point of a line.
type Object struct {
	ID   string  `json:"id"`
	Kind Kind    `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`

	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	X2     float64 `json:"x2,omitempty"`
	Y2     float64 `json:"y2,omitempty"`

	Text      string     `json:"text,omitempty"`
	Font      FontFamily `json:"font,omitempty"`
	FontSize  float64    `json:"font_size,omitempty"`
	Bold      bool       `json:"bold,omitempty"`
	Italic    bool       `json:"italic,omitempty"`
	Underline bool       `json:"underline,omitempty"`
	Color     string     `json:"color,omitempty"`

	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`
	Fill        string  `json:"fill,omitempty"`

	// Image is never modified after the object is added, so snapshots can
	// share it.
	Image image.Image `json:"-"`
}

// Canvas is a non-interactive background plus the objects drawn over it.
// It is not safe for concurrent use; Session serialises access.
type Canvas struct {
	background image.Image
	objects    []Object
	nextID     int
	history    *History
}

// NewCanvas starts an empty canvas over background with an empty history.
func NewCanvas(background image.Image) *Canvas {
	if background == nil {
		background = image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	return &Canvas{background: background, history: NewHistory(HistoryLimit)}
}

// Size is the pixel size of the background, which is also the output size.
func (c *Canvas) Size() (int, int) {
	bounds := c.background.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// Objects returns a copy of the objects in drawing order.
func (c *Canvas) Objects() []Object {
	return slices.Clone(c.objects)
}

func (c *Canvas) CanUndo() bool { return c.history.CanUndo() }
func (c *Canvas) CanRedo() bool { return c.history.CanRedo() }

// AddText places a text object. Missing style values take defaults.
func (c *Canvas) AddText(object Object) (Object, error) {
	object.Kind = KindText
	return c.add(object)
}

// AddImage places img with its top-left corner at (x, y). Images larger
// than MaxImageEdge are scaled down to fit.
func (c *Canvas) AddImage(img image.Image, x, y float64) (Object, error) {
	if img == nil {
		return Object{}, fmt.Errorf("%w: image is required", ErrInvalidObject)
	}
	bounds := img.Bounds()
	if bounds.Dx() > MaxImageEdge || bounds.Dy() > MaxImageEdge {
		img = imaging.Fit(img, MaxImageEdge, MaxImageEdge, imaging.Lanczos)
		bounds = img.Bounds()
	}
	return c.add(Object{
		Kind:   KindImage,
		X:      x,
		Y:      y,
		Width:  float64(bounds.Dx()),
		Height: float64(bounds.Dy()),
		Image:  img,
	})
}

func (c *Canvas) AddRect(object Object) (Object, error) {
	object.Kind = KindRect
	return c.add(object)
}

func (c *Canvas) AddLine(object Object) (Object, error) {
	object.Kind = KindLine
	return c.add(object)
}

func (c *Canvas) add(object Object) (Object, error) {
	normalized, err := normalizeObject(object)
	if err != nil {
		return Object{}, err
	}
	c.nextID++
	normalized.ID = fmt.Sprintf("obj-%d", c.nextID)
	c.mutate(func() {
		c.objects = append(c.objects, normalized)
	})
	return normalized, nil
}

// Modify replaces the geometry and style of an object. The id, the kind and
// the pixels of an image object are kept.
func (c *Canvas) Modify(id string, update Object) (Object, error) {
	index := c.indexOf(id)
	if index < 0 {
		return Object{}, ErrObjectNotFound
	}
	current := c.objects[index]
	update.ID = current.ID
	update.Kind = current.Kind
	if current.Kind == KindImage {
		update.Image = current.Image
		if update.Width <= 0 || update.Height <= 0 {
			update.Width, update.Height = current.Width, current.Height
		}
	}
	normalized, err := normalizeObject(update)
	if err != nil {
		return Object{}, err
	}
	c.mutate(func() {
		c.objects[index] = normalized
	})
	return normalized, nil
}

// Remove deletes the selected object.
func (c *Canvas) Remove(id string) error {
	index := c.indexOf(id)
	if index < 0 {
		return ErrObjectNotFound
	}
	c.mutate(func() {
		c.objects = slices.Delete(c.objects, index, index+1)
	})
	return nil
}

// Clear removes every object. The background stays. Clearing an empty
// canvas records nothing.
func (c *Canvas) Clear() {
	if len(c.objects) == 0 {
		return
	}
	c.mutate(func() {
		c.objects = nil
	})
}

// Undo restores the state before the last mutation. It reports false when
// there is nothing left to undo.
func (c *Canvas) Undo() bool {
	previous, ok := c.history.Undo(c.objects)
	if !ok {
		return false
	}
	c.restore(previous)
	return true
}

// Redo reapplies the last undone mutation.
func (c *Canvas) Redo() bool {
	next, ok := c.history.Redo(c.objects)
	if !ok {
		return false
	}
	c.restore(next)
	return true
}

// mutate records the current state before applying change, unless a
// snapshot is being replayed.
func (c *Canvas) mutate(change func()) {
	c.history.Record(c.objects)
	change()
}

func (c *Canvas) restore(snapshot []Object) {
	c.history.Replay(func() {
		c.mutate(func() {
			c.objects = slices.Clone(snapshot)
		})
	})
}

func (c *Canvas) indexOf(id string) int {
	return slices.IndexFunc(c.objects, func(object Object) bool { return object.ID == id })
}

func normalizeObject(object Object) (Object, error) {
	switch object.Kind {
	case KindText:
		object.Text = strings.TrimRight(object.Text, " \t\r\n")
		if strings.TrimSpace(object.Text) == "" {
			return Object{}, fmt.Errorf("%w: text is required", ErrInvalidObject)
		}
		switch object.Font {
		case "":
			object.Font = FontSans
		case FontSans, FontSerif, FontMono:
		default:
			return Object{}, fmt.Errorf("%w: unknown font %q", ErrInvalidObject, object.Font)
		}
		if object.FontSize == 0 {
			object.FontSize = defaultFontSize
		}
		if object.FontSize < minFontSize || object.FontSize > maxFontSize {
			return Object{}, fmt.Errorf("%w: font size %v out of range", ErrInvalidObject, object.FontSize)
		}
		textColor, err := defaultedColor(object.Color)
		if err != nil {
			return Object{}, err
		}
		object.Color = textColor
	case KindImage:
		if object.Image == nil || object.Width <= 0 || object.Height <= 0 {
			return Object{}, fmt.Errorf("%w: image needs pixels and a size", ErrInvalidObject)
		}
	case KindRect, KindLine:
		if object.Kind == KindRect && (object.Width <= 0 || object.Height <= 0) {
			return Object{}, fmt.Errorf("%w: rectangle needs a positive size", ErrInvalidObject)
		}
		if object.Kind == KindLine && object.X == object.X2 && object.Y == object.Y2 {
			return Object{}, fmt.Errorf("%w: line needs two distinct points", ErrInvalidObject)
		}
		stroke, err := defaultedColor(object.Stroke)
		if err != nil {
			return Object{}, err
		}
		object.Stroke = stroke
		if object.StrokeWidth == 0 {
			object.StrokeWidth = defaultStrokeWidth
		}
		if object.StrokeWidth < 0 || object.StrokeWidth > maxStrokeWidth {
			return Object{}, fmt.Errorf("%w: stroke width %v out of range", ErrInvalidObject, object.StrokeWidth)
		}
		if object.Fill != "" {
			if object.Kind == KindLine {
				object.Fill = ""
			} else if !hexColor.MatchString(object.Fill) {
				return Object{}, fmt.Errorf("%w: fill %q is not a hex color", ErrInvalidObject, object.Fill)
			}
		}
	default:
		return Object{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidObject, object.Kind)
	}
	return object, nil
}

func defaultedColor(value string) (string, error) {
	if value == "" {
		return defaultColor, nil
	}
	if !hexColor.MatchString(value) {
		return "", fmt.Errorf("%w: color %q is not a hex color", ErrInvalidObject, value)
	}
	return strings.ToLower(value), nil
}

// parseColor reads a validated #rgb or #rrggbb color.
func parseColor(value string) color.RGBA {
	hex := strings.TrimPrefix(value, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
