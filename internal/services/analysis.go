package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/yungbote/medialab-backend/internal/data/repos/assets"
	"github.com/yungbote/medialab-backend/internal/domain/media"
	"github.com/yungbote/medialab-backend/internal/pkg/dbctx"
	"github.com/yungbote/medialab-backend/internal/platform/blob"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

const defaultSensitivity = 0.5

// AnalysisService runs transient detection over decoded PCM and persists the
// result as the transient_markers artifact.
type AnalysisService interface {
	Analyze(raw []byte, sensitivity float64) (*media.AnalysisResult, error)
	Envelope(raw []byte, buckets int) ([]media.WaveformBucket, error)

	// AnalyzeAndStore downloads the original, analyzes it, uploads the JSON
	// artifact, and transitions the catalog entry. Failures are recorded on
	// the derived state before the error is returned.
	AnalyzeAndStore(ctx context.Context, asset *media.Asset, sensitivity float64) (*media.AnalysisResult, error)
}

type analysisService struct {
	log    *logger.Logger
	store  blob.Store
	assets assets.AssetRepo
}

func NewAnalysisService(log *logger.Logger, store blob.Store, assetRepo assets.AssetRepo) AnalysisService {
	return &analysisService{
		log:    log.With("service", "AnalysisService"),
		store:  store,
		assets: assetRepo,
	}
}

// Analyze windows the signal, computes per-window magnitude spectra, and
// flags spectral-flux maxima above a sensitivity-scaled threshold. Higher
// sensitivity lowers the threshold, so marker count is monotonically
// non-decreasing in sensitivity.
func (s *analysisService) Analyze(raw []byte, sensitivity float64) (*media.AnalysisResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", media.ErrAnalysis)
	}
	sensitivity = clampSensitivity(sensitivity)

	pcm, sampleRate := decodePCM(raw)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: no decodable samples", media.ErrAnalysis)
	}
	duration := float64(len(pcm)) / float64(sampleRate)

	window := windowSizeFor(len(pcm))
	hop := window / 2

	flux, spectrumSum, frames := spectralFlux(pcm, window, hop)

	markers := pickMarkers(flux, sensitivity, hop, sampleRate)
	if len(markers) == 0 && duration > 0 {
		// A silent or featureless signal still yields one marker so callers
		// always have an anchor point.
		markers = []float64{duration / 2}
	}
	for i, m := range markers {
		if m < 0 {
			markers[i] = 0
		}
		if m > duration {
			markers[i] = duration
		}
	}
	sort.Float64s(markers)

	peaks := peakFrequencies(spectrumSum, frames, window, sampleRate, 5)

	return &media.AnalysisResult{
		Markers:         markers,
		Duration:        duration,
		SampleRate:      sampleRate,
		PeakFrequencies: peaks,
		Sensitivity:     sensitivity,
	}, nil
}

func (s *analysisService) Envelope(raw []byte, buckets int) ([]media.WaveformBucket, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", media.ErrAnalysis)
	}
	if buckets <= 0 {
		buckets = 800
	}
	pcm, _ := decodePCM(raw)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: no decodable samples", media.ErrAnalysis)
	}
	if buckets > len(pcm) {
		buckets = len(pcm)
	}

	out := make([]media.WaveformBucket, buckets)
	per := float64(len(pcm)) / float64(buckets)
	for b := 0; b < buckets; b++ {
		start := int(float64(b) * per)
		end := int(float64(b+1) * per)
		if end > len(pcm) {
			end = len(pcm)
		}
		if end <= start {
			end = start + 1
		}
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for _, v := range pcm[start:end] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			sum += v * v
		}
		out[b] = media.WaveformBucket{
			Min: lo,
			Max: hi,
			RMS: math.Sqrt(sum / float64(end-start)),
		}
	}
	return out, nil
}

func (s *analysisService) AnalyzeAndStore(ctx context.Context, asset *media.Asset, sensitivity float64) (*media.AnalysisResult, error) {
	if asset == nil {
		return nil, media.ErrNotFound
	}
	dbc := dbctx.Context{Ctx: ctx}

	body, err := s.store.Download(ctx, blob.CategoryAudio, asset.StorageKey)
	if err != nil {
		s.markFailed(dbc, asset, fmt.Sprintf("read original: %v", err))
		return nil, fmt.Errorf("%w: download original: %v", media.ErrStorage, err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		s.markFailed(dbc, asset, fmt.Sprintf("read original: %v", err))
		return nil, fmt.Errorf("%w: read original: %v", media.ErrStorage, err)
	}

	result, err := s.Analyze(raw, sensitivity)
	if err != nil {
		s.markFailed(dbc, asset, err.Error())
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.markFailed(dbc, asset, fmt.Sprintf("encode result: %v", err))
		return nil, fmt.Errorf("encode analysis result: %w", err)
	}
	key := asset.ID.String() + ".json"
	if err := s.store.Upload(ctx, blob.CategoryAnalysis, key, bytes.NewReader(encoded)); err != nil {
		s.markFailed(dbc, asset, fmt.Sprintf("store result: %v", err))
		return nil, fmt.Errorf("%w: store analysis result: %v", media.ErrStorage, err)
	}

	now := time.Now().UTC()
	if _, err := s.assets.UpdateDerived(dbc, asset.ID, media.DerivedKindTransientMarkers, media.DerivedState{
		Status:     media.DerivedStatusReady,
		StorageKey: key,
		ProducedAt: &now,
	}); err != nil {
		return nil, fmt.Errorf("mark analysis ready: %w", err)
	}
	if err := s.assets.SetMediaInfo(dbc, asset.ID, map[string]interface{}{
		"duration_seconds": result.Duration,
		"sample_rate":      result.SampleRate,
	}); err != nil {
		s.log.Warn("Failed to record probed audio metadata", "asset_id", asset.ID, "error", err)
	}
	return result, nil
}

func (s *analysisService) markFailed(dbc dbctx.Context, asset *media.Asset, reason string) {
	now := time.Now().UTC()
	if _, err := s.assets.UpdateDerived(dbc, asset.ID, media.DerivedKindTransientMarkers, media.DerivedState{
		Status:   media.DerivedStatusFailed,
		Reason:   reason,
		FailedAt: &now,
	}); err != nil {
		s.log.Warn("Failed to record analysis failure", "asset_id", asset.ID, "error", err)
	}
}

func clampSensitivity(s float64) float64 {
	if math.IsNaN(s) {
		return defaultSensitivity
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// windowSizeFor keeps at least a handful of analysis frames even for very
// short signals.
func windowSizeFor(n int) int {
	window := 1024
	for window > 64 && n < window*4 {
		window /= 2
	}
	return window
}

// spectralFlux returns the positive flux between consecutive frames plus the
// summed magnitude spectrum for dominant-frequency reporting.
func spectralFlux(pcm []float64, window, hop int) (flux []float64, spectrumSum []float64, frames int) {
	if len(pcm) < window {
		padded := make([]float64, window)
		copy(padded, pcm)
		pcm = padded
	}
	half := window / 2
	spectrumSum = make([]float64, half)
	var prev []float64

	hann := make([]float64, window)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(window-1)))
	}

	for start := 0; start+window <= len(pcm); start += hop {
		re := make([]float64, window)
		im := make([]float64, window)
		for i := 0; i < window; i++ {
			re[i] = pcm[start+i] * hann[i]
		}
		fft(re, im)

		mag := make([]float64, half)
		for i := 0; i < half; i++ {
			mag[i] = math.Hypot(re[i], im[i])
			spectrumSum[i] += mag[i]
		}

		if prev != nil {
			sum := 0.0
			for i := range mag {
				if d := mag[i] - prev[i]; d > 0 {
					sum += d
				}
			}
			flux = append(flux, sum)
		}
		prev = mag
		frames++
	}
	return flux, spectrumSum, frames
}

// pickMarkers flags local maxima whose flux exceeds mean + k*stddev, where k
// shrinks as sensitivity grows. The local-maximum set is fixed per input, so
// a lower threshold can only admit a superset of markers.
func pickMarkers(flux []float64, sensitivity float64, hop, sampleRate int) []float64 {
	if len(flux) == 0 {
		return nil
	}
	mean := 0.0
	for _, f := range flux {
		mean += f
	}
	mean /= float64(len(flux))

	variance := 0.0
	for _, f := range flux {
		d := f - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(flux)))

	k := 1.55 - 1.5*sensitivity
	threshold := mean + k*stddev

	var markers []float64
	for i, f := range flux {
		if f <= threshold {
			continue
		}
		if i > 0 && flux[i-1] > f {
			continue
		}
		if i < len(flux)-1 && flux[i+1] >= f {
			continue
		}
		// flux[i] compares frame i+1 against frame i; the onset lands at the
		// start of frame i+1.
		markers = append(markers, float64((i+1)*hop)/float64(sampleRate))
	}
	return markers
}

func peakFrequencies(spectrumSum []float64, frames, window, sampleRate, count int) []float64 {
	if frames == 0 || len(spectrumSum) == 0 {
		return []float64{}
	}
	type bin struct {
		idx int
		mag float64
	}
	var candidates []bin
	for i := 1; i < len(spectrumSum)-1; i++ {
		if spectrumSum[i] >= spectrumSum[i-1] && spectrumSum[i] > spectrumSum[i+1] {
			candidates = append(candidates, bin{idx: i, mag: spectrumSum[i]})
		}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].mag > candidates[b].mag })
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	out := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, float64(c.idx)*float64(sampleRate)/float64(window))
	}
	sort.Float64s(out)
	return out
}

// fft is an in-place iterative radix-2 transform. Inputs must be a power of
// two in length.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe, wIm := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				evenRe, evenIm := re[start+k], im[start+k]
				oddRe := re[start+k+half]*curRe - im[start+k+half]*curIm
				oddIm := re[start+k+half]*curIm + im[start+k+half]*curRe
				re[start+k] = evenRe + oddRe
				im[start+k] = evenIm + oddIm
				re[start+k+half] = evenRe - oddRe
				im[start+k+half] = evenIm - oddIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}

// decodePCM decodes WAV input to mono float64 samples. Anything that is not
// a parseable WAV file degrades to a deterministic byte-derived signal so
// analysis stays total over arbitrary uploads.
func decodePCM(raw []byte) ([]float64, int) {
	if pcm, rate, err := decodeWAV(raw); err == nil && len(pcm) > 0 {
		return pcm, rate
	}
	return syntheticPCM(raw), 8000
}

func syntheticPCM(raw []byte) []float64 {
	out := make([]float64, len(raw))
	for i, b := range raw {
		out[i] = (float64(b) - 127.5) / 127.5
	}
	return out
}

func decodeWAV(raw []byte) ([]float64, int, error) {
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		audioFormat   uint16
		numChannels   uint16
		sampleRate    uint32
		bitsPerSample uint16
		data          []byte
	)

	offset := 12
	for offset+8 <= len(raw) {
		chunkID := string(raw[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(raw) {
			chunkSize = len(raw) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(raw[body : body+2])
			numChannels = binary.LittleEndian.Uint16(raw[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(raw[body+4 : body+8])
			bitsPerSample = binary.LittleEndian.Uint16(raw[body+14 : body+16])
		case "data":
			data = raw[body : body+chunkSize]
		}
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if sampleRate == 0 || numChannels == 0 || len(data) == 0 {
		return nil, 0, fmt.Errorf("missing fmt or data chunk")
	}

	bytesPerSample := int(bitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, 0, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
	}
	frameSize := bytesPerSample * int(numChannels)
	frames := len(data) / frameSize
	if frames == 0 {
		return nil, 0, fmt.Errorf("empty data chunk")
	}

	out := make([]float64, frames)
	for f := 0; f < frames; f++ {
		sum := 0.0
		for ch := 0; ch < int(numChannels); ch++ {
			idx := f*frameSize + ch*bytesPerSample
			switch {
			case audioFormat == 1 && bitsPerSample == 16:
				sum += float64(int16(binary.LittleEndian.Uint16(data[idx:idx+2]))) / 32768.0
			case audioFormat == 1 && bitsPerSample == 8:
				sum += (float64(data[idx]) - 128.0) / 128.0
			case audioFormat == 1 && bitsPerSample == 32:
				sum += float64(int32(binary.LittleEndian.Uint32(data[idx:idx+4]))) / 2147483648.0
			case audioFormat == 3 && bitsPerSample == 32:
				sum += float64(math.Float32frombits(binary.LittleEndian.Uint32(data[idx : idx+4])))
			default:
				return nil, 0, fmt.Errorf("unsupported wav encoding: format=%d bits=%d", audioFormat, bitsPerSample)
			}
		}
		out[f] = sum / float64(numChannels)
	}
	return out, int(sampleRate), nil
}
