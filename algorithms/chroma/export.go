package chroma

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
)

// WritePNG renders the chromagram as a heat map, one cellWidth x cellHeight
// cell per frame and pitch class, C on the bottom row. Each frame is scaled
// by its own maximum so the colour range is 0..1 regardless of loudness.
func (c *Chromagram) WritePNG(w io.Writer, cellWidth, cellHeight int) error {
	frames := c.Frames()
	if frames == 0 {
		return ErrInsufficientData
	}
	if cellWidth <= 0 || cellHeight <= 0 {
		return fmt.Errorf("cell size must be positive: %dx%d", cellWidth, cellHeight)
	}

	img := image.NewRGBA(image.Rect(0, 0, frames*cellWidth, NumPitchClasses*cellHeight))

	for t := range frames {
		frame := c.Frame(t)
		peak := 0.0
		for _, v := range frame {
			peak = max(peak, v)
		}

		for p, v := range frame {
			level := 0.0
			if peak > 0 {
				level = v / peak
			}
			col := heatColor(level)

			row := NumPitchClasses - 1 - p
			for y := row * cellHeight; y < (row+1)*cellHeight; y++ {
				for x := t * cellWidth; x < (t+1)*cellWidth; x++ {
					img.SetRGBA(x, y, col)
				}
			}
		}
	}

	return png.Encode(w, img)
}

// heatColor maps 0..1 onto a black-red-yellow-white ramp
func heatColor(level float64) color.RGBA {
	level = min(max(level, 0), 1)

	var r, g, b float64
	switch {
	case level < 1.0/3:
		r = level * 3
	case level < 2.0/3:
		r = 1
		g = (level - 1.0/3) * 3
	default:
		r, g = 1, 1
		b = (level - 2.0/3) * 3
	}

	return color.RGBA{R: channel(r), G: channel(g), B: channel(b), A: 255}
}

func channel(v float64) uint8 {
	return uint8(math.Round(min(max(v, 0), 1) * 255))
}
