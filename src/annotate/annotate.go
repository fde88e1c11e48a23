package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// labelOffset is the distance between the top edge of a box and the
// baseline of its label.
const labelOffset = 10

var boxColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}

type Annotator struct {
	names     datastructures.ClassNames
	color     color.Color
	lineWidth float64
	fontSize  float64
}

func New(names datastructures.ClassNames) *Annotator {
	return &Annotator{
		names:     names,
		color:     boxColor,
		lineWidth: 2,
		fontSize:  13,
	}
}

// Label formats the caption drawn next to a detection.
func (a *Annotator) Label(d datastructures.Detection) string {
	return fmt.Sprintf("%s: %.2f", a.names.Label(d.Class), d.Confidence)
}

// Annotate returns a copy of img with a rectangle and a caption per
// detection. img itself is never modified.
func (a *Annotator) Annotate(img image.Image, detections []datastructures.Detection) image.Image {
	if len(detections) == 0 {
		return imaging.Clone(img)
	}

	dc := gg.NewContextForImage(img)
	face := truetype.NewFace(regular, &truetype.Options{Size: a.fontSize, Hinting: font.HintingFull})
	defer face.Close()
	dc.SetFontFace(face)
	ascent := float64(face.Metrics().Ascent.Ceil())

	// gg works in context coordinates, starting at (0, 0).
	origin := img.Bounds().Min
	for _, d := range detections {
		x1 := d.BBox[0] - float64(origin.X)
		y1 := d.BBox[1] - float64(origin.Y)
		x2 := d.BBox[2] - float64(origin.X)
		y2 := d.BBox[3] - float64(origin.Y)

		a.drawRectangle(dc, x1, y1, x2, y2)

		// the glyphs above the baseline must stay inside the frame
		baseline := math.Max(y1-labelOffset, ascent)
		dc.SetColor(a.color)
		dc.DrawString(a.Label(d), math.Max(x1, 0), baseline)
	}
	return dc.Image()
}

func (a *Annotator) drawRectangle(dc *gg.Context, x1, y1, x2, y2 float64) {
	dc.SetColor(a.color)
	dc.SetLineWidth(a.lineWidth)
	dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
	dc.Stroke()
}
