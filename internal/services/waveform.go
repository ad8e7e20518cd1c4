package services

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

const (
	WaveformWidth  = 800
	WaveformHeight = 160
)

// WaveformRenderer draws the downsampled envelope as a PNG for
// visualization.
type WaveformRenderer interface {
	Render(env []media.WaveformBucket) ([]byte, error)
}

type waveformRenderer struct {
	log *logger.Logger
}

func NewWaveformRenderer(log *logger.Logger) WaveformRenderer {
	return &waveformRenderer{log: log.With("service", "WaveformRenderer")}
}

func (r *waveformRenderer) Render(env []media.WaveformBucket) ([]byte, error) {
	if len(env) == 0 {
		return nil, fmt.Errorf("empty envelope")
	}

	dc := gg.NewContext(WaveformWidth, WaveformHeight)
	dc.SetColor(color.NRGBA{R: 16, G: 18, B: 24, A: 255})
	dc.Clear()

	mid := float64(WaveformHeight) / 2
	colW := float64(WaveformWidth) / float64(len(env))

	// Min/max extents first, RMS body on top.
	dc.SetColor(color.NRGBA{R: 70, G: 130, B: 190, A: 255})
	for i, b := range env {
		x := float64(i) * colW
		top := mid - b.Max*mid
		bottom := mid - b.Min*mid
		if bottom-top < 1 {
			bottom = top + 1
		}
		dc.DrawRectangle(x, top, maxF(colW-1, 1), bottom-top)
	}
	dc.Fill()

	dc.SetColor(color.NRGBA{R: 120, G: 190, B: 240, A: 255})
	for i, b := range env {
		x := float64(i) * colW
		h := b.RMS * mid
		if h < 0.5 {
			h = 0.5
		}
		dc.DrawRectangle(x, mid-h, maxF(colW-1, 1), 2*h)
	}
	dc.Fill()

	dc.SetColor(color.NRGBA{R: 220, G: 225, B: 235, A: 90})
	dc.DrawLine(0, mid, WaveformWidth, mid)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode waveform PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
