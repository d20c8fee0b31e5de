// Package render draws a board as a PNG image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-connect/internal/board"
)

// Coord addresses one cell.
type Coord struct {
	Row    int
	Column int
}

type Options struct {
	Highlight *Coord
	Title     string
	Status    string
}

type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

const (
	cellSize     = 56
	discInset    = 6
	sideMargin   = 32
	topMargin    = 64
	bottomMargin = 32
	panelHeight  = 22
	panelRadius  = 8
)

var (
	boardFrame      = color.RGBA{28, 64, 148, 255}
	cellColor       = color.RGBA{44, 92, 196, 255}
	holeColor       = color.RGBA{232, 238, 250, 255}
	backgroundColor = color.RGBA{248, 249, 252, 255}
	highlightColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 150}
	panelColor      = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	panelText       = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordText       = color.NRGBA{R: 60, G: 66, B: 90, A: 255}
)

// RenderPNG draws b with optional title and status panels above it.
func (r *Renderer) RenderPNG(ctx context.Context, b board.Board, opts Options) ([]byte, error) {
	boardPx := cellSize * board.Size
	width := boardPx + sideMargin*2
	height := boardPx + topMargin + bottomMargin
	origin := boardOrigin()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	frame := image.Rect(origin.X-4, origin.Y-4, origin.X+boardPx+4, origin.Y+boardPx+4)
	imagedraw.Draw(img, frame, image.NewUniform(boardFrame), image.Point{}, imagedraw.Src)

	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			cell := cellRect(row, col, origin)
			imagedraw.Draw(img, cell, image.NewUniform(cellColor), image.Point{}, imagedraw.Src)
			if opts.Highlight != nil && opts.Highlight.Row == row && opts.Highlight.Column == col {
				drawDisc(img, center(cell), cellSize/2-2, highlightColor)
			}
			c := b.At(row, col)
			if c == board.Empty {
				drawDisc(img, center(cell), cellSize/2-discInset, holeColor)
				continue
			}
			disc, err := discImage(c, cellSize-discInset*2)
			if err != nil {
				return nil, err
			}
			dst := image.Rect(cell.Min.X+discInset, cell.Min.Y+discInset, cell.Max.X-discInset, cell.Max.Y-discInset)
			imagedraw.Draw(img, dst, disc, image.Point{}, imagedraw.Over)
		}
	}

	drawCoordinates(img, origin)
	drawPanels(img, origin, boardPx, opts)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardOrigin() image.Point { return image.Point{X: sideMargin, Y: topMargin} }

func cellRect(row, col int, origin image.Point) image.Rectangle {
	x := origin.X + col*cellSize
	y := origin.Y + row*cellSize
	return image.Rect(x, y, x+cellSize, y+cellSize)
}

func center(r image.Rectangle) image.Point {
	return image.Point{X: r.Min.X + r.Dx()/2, Y: r.Min.Y + r.Dy()/2}
}

// drawCoordinates labels rows on the left and columns along the bottom,
// both zero-based to match move input.
func drawCoordinates(img *image.RGBA, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordText)}
	ascent := face.Metrics().Ascent.Ceil()
	bottom := origin.Y + board.Size*cellSize
	for i := 0; i < board.Size; i++ {
		label := strconv.Itoa(i)
		drawCenteredText(drawer, label, origin.X-sideMargin/2, origin.Y+i*cellSize+cellSize/2+ascent/2)
		drawCenteredText(drawer, label, origin.X+i*cellSize+cellSize/2, bottom+4+ascent)
	}
}

func drawPanels(img *image.RGBA, origin image.Point, boardPx int, opts Options) {
	title := strings.TrimSpace(opts.Title)
	status := strings.TrimSpace(opts.Status)
	if title == "" && status == "" {
		return
	}
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	top := origin.Y - panelHeight - 14
	rect := image.Rect(origin.X, top, origin.X+boardPx, top+panelHeight)
	drawRoundedPanel(img, rect, panelRadius, panelColor)
	text := title
	if status != "" {
		if text != "" {
			text += "  |  "
		}
		text += status
	}
	drawCenteredString(drawer, rect, truncateWithEllipsis(drawer.Face, text, rect.Dx()-16), panelText)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	if text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	if text == "" || maxWidth <= 0 {
		return text
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(text).Round() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return "..."
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if m := rect.Dy() / 2; radius > m {
		radius = m
	}
	fill := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	for _, c := range []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	} {
		drawCorner(img, c, radius, rect, clr)
	}
}

// drawCorner fills the part of a corner disc not already covered by the
// panel's straight sections.
func drawCorner(img *image.RGBA, c image.Point, radius int, bounds image.Rectangle, clr color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			p := image.Point{X: c.X + x, Y: c.Y + y}
			if x*x+y*y > r2 || !p.In(bounds) {
				continue
			}
			inCore := p.X >= bounds.Min.X+radius && p.X < bounds.Max.X-radius
			inSide := p.Y >= bounds.Min.Y+radius && p.Y < bounds.Max.Y-radius
			if inCore || inSide {
				continue
			}
			blendPixel(img, p.X, p.Y, clr)
		}
	}
}

func drawDisc(img *image.RGBA, c image.Point, radius int, clr color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= r2 {
				blendPixel(img, c.X+x, c.Y+y, clr)
			}
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	dst := img.RGBAAt(x, y)
	inv := 65535 - sa
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(dst.R)*0x101*inv/65535) >> 8),
		G: uint8((sg + uint32(dst.G)*0x101*inv/65535) >> 8),
		B: uint8((sb + uint32(dst.B)*0x101*inv/65535) >> 8),
		A: uint8((sa + uint32(dst.A)*0x101*inv/65535) >> 8),
	})
}
