// Package chart draws a player's rating history as a PNG line chart.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var ErrEmptyHistory = errors.New("no rating history")

const (
	defaultWidth  = 720
	defaultHeight = 400

	marginLeft   = 56
	marginRight  = 24
	marginTop    = 40
	marginBottom = 36

	// y축 여백: 값 범위 위아래로 최소 이만큼 띄움
	minSpan = 40
)

var (
	background = color.RGBA{R: 0xfa, G: 0xfa, B: 0xf7, A: 0xff}
	labelColor = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
)

type Options struct {
	Title  string
	Width  int
	Height int
}

// Ratings turns history rows (oldest first) into the rating after each match,
// led by the rating before the first one.
func Ratings(history []domain.EloHistory) []int {
	if len(history) == 0 {
		return nil
	}
	out := make([]int, 0, len(history)+1)
	out = append(out, history[0].EloBefore)
	for _, h := range history {
		out = append(out, h.EloAfter)
	}
	return out
}

// RenderHistory is Render over Ratings(history).
func RenderHistory(history []domain.EloHistory, opts Options) ([]byte, error) {
	return Render(Ratings(history), opts)
}

// Render draws ratings left to right and returns PNG bytes.
func Render(ratings []int, opts Options) ([]byte, error) {
	if len(ratings) == 0 {
		return nil, ErrEmptyHistory
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	w, h := opts.Width, opts.Height

	lo, hi := bounds(ratings)
	svg := buildSVG(ratings, w, h, lo, hi)

	icon, err := oksvg.ReadIconStream(strings.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse chart svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	drawLabels(img, ratings, opts.Title, lo, hi)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func bounds(ratings []int) (lo, hi int) {
	lo, hi = ratings[0], ratings[0]
	for _, r := range ratings[1:] {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	if hi-lo < minSpan {
		mid := (hi + lo) / 2
		lo, hi = mid-minSpan/2, mid+minSpan/2
	}
	pad := (hi - lo) / 10
	return lo - pad, hi + pad
}

type plot struct {
	x0, y0, x1, y1 float64
	lo, hi         int
	n              int
}

func newPlot(w, h, lo, hi, n int) plot {
	return plot{
		x0: marginLeft, y0: marginTop,
		x1: float64(w - marginRight), y1: float64(h - marginBottom),
		lo: lo, hi: hi, n: n,
	}
}

func (p plot) x(i int) float64 {
	if p.n <= 1 {
		return (p.x0 + p.x1) / 2
	}
	return p.x0 + (p.x1-p.x0)*float64(i)/float64(p.n-1)
}

func (p plot) y(v int) float64 {
	return p.y1 - (p.y1-p.y0)*float64(v-p.lo)/float64(p.hi-p.lo)
}

func buildSVG(ratings []int, w, h, lo, hi int) string {
	p := newPlot(w, h, lo, hi, len(ratings))
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)

	for i := 0; i <= 4; i++ {
		y := p.y0 + (p.y1-p.y0)*float64(i)/4
		fmt.Fprintf(&b, `<path d="M %.1f %.1f L %.1f %.1f" stroke="#dddddd" stroke-width="1" fill="none"/>`, p.x0, y, p.x1, y)
	}
	fmt.Fprintf(&b, `<path d="M %.1f %.1f L %.1f %.1f L %.1f %.1f" stroke="#888888" stroke-width="1.5" fill="none"/>`,
		p.x0, p.y0, p.x0, p.y1, p.x1, p.y1)

	if len(ratings) > 1 {
		b.WriteString(`<path d="`)
		for i, r := range ratings {
			cmd := "L"
			if i == 0 {
				cmd = "M"
			}
			fmt.Fprintf(&b, "%s %.1f %.1f ", cmd, p.x(i), p.y(r))
		}
		b.WriteString(`" stroke="#2f6fdf" stroke-width="3" stroke-linejoin="round" fill="none"/>`)
	}
	for i, r := range ratings {
		fmt.Fprintf(&b, `<circle cx="%.1f" cy="%.1f" r="4" fill="#2f6fdf"/>`, p.x(i), p.y(r))
	}
	b.WriteString(`</svg>`)
	return b.String()
}

// drawLabels writes the title and axis values. basicfont covers ASCII only.
func drawLabels(img *image.RGBA, ratings []int, title string, lo, hi int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	p := newPlot(w, h, lo, hi, len(ratings))
	d := &font.Drawer{Dst: img, Src: image.NewUniform(labelColor), Face: basicfont.Face7x13}

	if title = asciiOnly(title); title != "" {
		d.Dot = fixed.P(marginLeft, marginTop-16)
		d.DrawString(title)
	}

	for i := 0; i <= 4; i++ {
		v := hi - (hi-lo)*i/4
		label := strconv.Itoa(v)
		width := d.MeasureString(label).Round()
		y := int(p.y0 + (p.y1-p.y0)*float64(i)/4)
		d.Dot = fixed.P(marginLeft-8-width, y+4)
		d.DrawString(label)
	}

	last := ratings[len(ratings)-1]
	d.Dot = fixed.P(int(p.x(len(ratings)-1))-20, int(p.y(last))-10)
	d.DrawString(strconv.Itoa(last))

	d.Dot = fixed.P(marginLeft, h-marginBottom+20)
	d.DrawString("start")
	end := fmt.Sprintf("%d matches", len(ratings)-1)
	d.Dot = fixed.P(int(p.x1)-d.MeasureString(end).Round(), h-marginBottom+20)
	d.DrawString(end)
}

func asciiOnly(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
