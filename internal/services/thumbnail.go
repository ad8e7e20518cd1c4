package services

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"

	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

const (
	ThumbnailWidth  = 320
	ThumbnailHeight = 180
)

// ThumbnailArtist produces the fixed-size thumbnail JPEG: either by scaling
// a real extracted frame or by synthesizing a deterministic placeholder.
// Placeholder output depends only on the asset id and label, so repeated
// requests for the same asset render identical bytes.
type ThumbnailArtist interface {
	Placeholder(id uuid.UUID, label string) ([]byte, error)
	FromFrame(frame []byte) ([]byte, error)
}

type thumbnailArtist struct {
	log      *logger.Logger
	fontFace font.Face
}

func NewThumbnailArtist(log *logger.Logger) ThumbnailArtist {
	artistLog := log.With("service", "ThumbnailArtist")

	var face font.Face
	if fontPath := strings.TrimSpace(os.Getenv("THUMBNAIL_FONT")); fontPath != "" {
		loaded, err := loadFontFace(fontPath, 18)
		if err != nil {
			artistLog.Warn("Could not load thumbnail font, placeholders will omit labels", "font", fontPath, "error", err)
		} else {
			face = loaded
		}
	}

	return &thumbnailArtist{log: artistLog, fontFace: face}
}

func (a *thumbnailArtist) Placeholder(id uuid.UUID, label string) ([]byte, error) {
	dc := gg.NewContext(ThumbnailWidth, ThumbnailHeight)

	seed := sha256.Sum256(id[:])

	base := color.NRGBA{
		R: 40 + seed[0]%120,
		G: 40 + seed[1]%120,
		B: 60 + seed[2]%140,
		A: 255,
	}
	dc.SetColor(base)
	dc.DrawRectangle(0, 0, ThumbnailWidth, ThumbnailHeight)
	dc.Fill()

	// Vertical bands keyed off the id hash give each asset a recognizable
	// pattern without any randomness.
	bands := 8
	bandW := float64(ThumbnailWidth) / float64(bands)
	for i := 0; i < bands; i++ {
		shade := seed[3+i] % 90
		dc.SetColor(color.NRGBA{
			R: clampByte(int(base.R) + int(shade) - 45),
			G: clampByte(int(base.G) + int(shade) - 45),
			B: clampByte(int(base.B) + int(shade) - 45),
			A: 255,
		})
		h := 30 + float64(seed[11+i]%120)
		dc.DrawRectangle(float64(i)*bandW, float64(ThumbnailHeight)-h, bandW-2, h)
		dc.Fill()
	}

	// Film-strip sprocket holes along the top and bottom edges.
	dc.SetColor(color.NRGBA{R: 18, G: 18, B: 22, A: 255})
	dc.DrawRectangle(0, 0, ThumbnailWidth, 14)
	dc.DrawRectangle(0, ThumbnailHeight-14, ThumbnailWidth, 14)
	dc.Fill()
	dc.SetColor(color.NRGBA{R: 235, G: 235, B: 240, A: 255})
	for x := 8.0; x < ThumbnailWidth; x += 24 {
		dc.DrawRectangle(x, 4, 10, 6)
		dc.DrawRectangle(x, ThumbnailHeight-10, 10, 6)
	}
	dc.Fill()

	if a.fontFace != nil && strings.TrimSpace(label) != "" {
		dc.SetFontFace(a.fontFace)
		dc.SetColor(color.White)
		dc.DrawStringAnchored(truncateLabel(label, 32), ThumbnailWidth/2, ThumbnailHeight/2, 0.5, 0.5)
	}

	return encodeJPEG(dc.Image())
}

// FromFrame scales an extracted frame to the fixed thumbnail size.
func (a *thumbnailArtist) FromFrame(frame []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, ThumbnailWidth, ThumbnailHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return encodeJPEG(dst)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func loadFontFace(fontPath string, points float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{Size: points}), nil
}

// truncateLabel cuts on rune boundaries so multi-byte filenames stay valid
// UTF-8 for the label draw.
func truncateLabel(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
