package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/heimdex/denoise-agent/internal/pipeline"
)

var (
	iconIdle    = dotIcon(color.RGBA{R: 0x8a, G: 0x8f, B: 0x98, A: 0xff})
	iconBusy    = dotIcon(color.RGBA{R: 0x2f, G: 0x80, B: 0xed, A: 0xff})
	iconSuccess = dotIcon(color.RGBA{R: 0x27, G: 0xae, B: 0x60, A: 0xff})
	iconFailed  = dotIcon(color.RGBA{R: 0xeb, G: 0x57, B: 0x57, A: 0xff})
)

func iconFor(state pipeline.State) []byte {
	switch state {
	case pipeline.StateIdle, "":
		return iconIdle
	case pipeline.StateCompleted:
		return iconSuccess
	case pipeline.StateFailed:
		return iconFailed
	default:
		return iconBusy
	}
}

// dotIcon draws a filled circle on a transparent 32x32 canvas.
func dotIcon(c color.Color) []byte {
	const size = 32
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	r := float64(size)/2 - 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - float64(size)/2 + 0.5
			dy := float64(y) - float64(size)/2 + 0.5
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
