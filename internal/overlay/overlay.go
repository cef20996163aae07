// Package overlay draws the tracked joint and the counter panel onto frames.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/wefit/rep-counter/internal/pose"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

// Panel is the text shown in the top-left corner.
type Panel struct {
	Reps     int
	Date     string
	Clock    string
	Level    string
	Angle    float64
	HasAngle bool
}

// Lines returns the panel rows in display order.
func (p Panel) Lines() []string {
	angle := "-"
	if p.HasAngle {
		angle = strconv.FormatFloat(p.Angle, 'f', 0, 64)
	}
	return []string{
		"Reps: " + strconv.Itoa(p.Reps),
		"Date: " + p.Date,
		"Time: " + p.Clock,
		"Level: " + p.Level,
		"Angle: " + angle,
	}
}

var (
	panelColor = color.RGBA{A: 160}
	textColor  = color.White
	boneColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	jointColor = color.RGBA{R: 255, A: 255}
)

// Renderer draws overlays. It is safe for use by a single goroutine.
type Renderer struct {
	face    font.Face
	quality int
}

// NewRenderer loads the Go regular font at fontSize points. A non-positive
// size falls back to the 7x13 bitmap face.
func NewRenderer(fontSize float64, quality int) (*Renderer, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if fontSize <= 0 {
		return &Renderer{face: basicfont.Face7x13, quality: quality}, nil
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Renderer{
		face:    truetype.NewFace(f, &truetype.Options{Size: fontSize}),
		quality: quality,
	}, nil
}

// Render decodes a JPEG frame, draws the joint and panel, and re-encodes it.
// Landmarks may be nil.
func (r *Renderer) Render(frame *types.Frame, lm pose.Landmarks, joint pose.Joint, p Panel) (*types.Frame, error) {
	if frame.Format != types.FormatJPEG {
		return nil, fmt.Errorf("overlay needs JPEG, got %s", frame.Format)
	}
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	dc := gg.NewContextForImage(img)
	r.drawJoint(dc, lm, joint)
	r.drawPanel(dc, p.Lines())

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	out := *frame
	out.Data = buf.Bytes()
	b := img.Bounds()
	out.Width, out.Height = b.Dx(), b.Dy()
	return &out, nil
}

func (r *Renderer) drawJoint(dc *gg.Context, lm pose.Landmarks, joint pose.Joint) {
	w, h := float64(dc.Width()), float64(dc.Height())
	var pts []image.Point
	for _, id := range []pose.LandmarkID{joint.A, joint.Vertex, joint.C} {
		l, ok := lm[id]
		if !ok {
			continue
		}
		pts = append(pts, image.Pt(int(l.X*w), int(l.Y*h)))
	}

	// both bones meet at the vertex
	if len(pts) == 3 {
		dc.SetColor(boneColor)
		dc.SetLineWidth(3)
		dc.DrawLine(float64(pts[0].X), float64(pts[0].Y), float64(pts[1].X), float64(pts[1].Y))
		dc.DrawLine(float64(pts[1].X), float64(pts[1].Y), float64(pts[2].X), float64(pts[2].Y))
		dc.Stroke()
	}

	dc.SetColor(jointColor)
	for _, pt := range pts {
		dc.DrawCircle(float64(pt.X), float64(pt.Y), 6)
		dc.Fill()
	}
}

func (r *Renderer) drawPanel(dc *gg.Context, lines []string) {
	dc.SetFontFace(r.face)
	metrics := r.face.Metrics()
	lineHeight := float64(metrics.Height.Ceil()) + 4
	pad := 8.0

	width := 0.0
	for _, line := range lines {
		if w, _ := dc.MeasureString(line); w > width {
			width = w
		}
	}

	dc.SetColor(panelColor)
	dc.DrawRectangle(0, 0, width+2*pad, lineHeight*float64(len(lines))+2*pad)
	dc.Fill()

	dc.SetColor(textColor)
	ascent := float64(metrics.Ascent.Ceil())
	for i, line := range lines {
		dc.DrawString(line, pad, pad+ascent+float64(i)*lineHeight)
	}
}
