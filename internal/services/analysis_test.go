package services

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/medialab-backend/internal/domain/media"
)

func testAnalyzer(t *testing.T) AnalysisService {
	t.Helper()
	return NewAnalysisService(testLogger(t), nil, nil)
}

// arbitraryBytes simulates an upload that merely claims to be audio. The
// analyzer must still produce a total, deterministic result.
func arbitraryBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((i*31 + i*i*7) % 251)
	}
	return out
}

// buildWAV writes a minimal PCM16 mono RIFF/WAVE stream.
func buildWAV(t *testing.T, samples []int16, sampleRate int) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		require.NoError(t, binary.Write(&data, binary.LittleEndian, s))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len())))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(16)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(1))) // PCM
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(1))) // mono
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(sampleRate)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(2)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(16)))
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(data.Len())))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

// clickTrack is silence with periodic sharp bursts, the easiest possible
// transient material.
func clickTrack(sampleRate, seconds, clicksPerSecond int) []int16 {
	n := sampleRate * seconds
	out := make([]int16, n)
	interval := sampleRate / clicksPerSecond
	for i := 0; i < n; i += interval {
		for j := 0; j < 32 && i+j < n; j++ {
			out[i+j] = int16(20000 * math.Exp(-float64(j)/8))
		}
	}
	return out
}

func TestAnalyzeEmptyInput(t *testing.T) {
	_, err := testAnalyzer(t).Analyze(nil, 0.5)
	assert.ErrorIs(t, err, media.ErrAnalysis)
}

func TestAnalyzeArbitraryBytesProducesMarkers(t *testing.T) {
	svc := testAnalyzer(t)

	result, err := svc.Analyze(arbitraryBytes(1000), 0.8)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Markers)
	assert.Greater(t, result.Duration, 0.0)
	assert.Equal(t, 8000, result.SampleRate)
	assert.True(t, sort.Float64sAreSorted(result.Markers))
	for _, m := range result.Markers {
		assert.GreaterOrEqual(t, m, 0.0)
		assert.LessOrEqual(t, m, result.Duration)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	svc := testAnalyzer(t)
	raw := arbitraryBytes(1000)

	a, err := svc.Analyze(raw, 0.6)
	require.NoError(t, err)
	b, err := svc.Analyze(raw, 0.6)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAnalyzeSensitivityMonotonic(t *testing.T) {
	svc := testAnalyzer(t)
	raw := buildWAV(t, clickTrack(8000, 2, 4), 8000)

	prev := -1
	for _, s := range []float64{0.0, 0.25, 0.5, 0.75, 1.0} {
		result, err := svc.Analyze(raw, s)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(result.Markers), prev,
			"marker count dropped when sensitivity rose to %v", s)
		prev = len(result.Markers)
	}
}

func TestAnalyzeWAVDecodesFormat(t *testing.T) {
	svc := testAnalyzer(t)
	raw := buildWAV(t, clickTrack(16000, 1, 4), 16000)

	result, err := svc.Analyze(raw, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 16000, result.SampleRate)
	assert.InDelta(t, 1.0, result.Duration, 0.01)
	assert.NotEmpty(t, result.Markers)
}

func TestAnalyzeClampsSensitivity(t *testing.T) {
	svc := testAnalyzer(t)
	raw := arbitraryBytes(1000)

	low, err := svc.Analyze(raw, -3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, low.Sensitivity)

	high, err := svc.Analyze(raw, 7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, high.Sensitivity)
}

func TestAnalyzeSilenceStillYieldsAnchor(t *testing.T) {
	svc := testAnalyzer(t)
	raw := buildWAV(t, make([]int16, 8000), 8000)

	result, err := svc.Analyze(raw, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, result.Markers)
	assert.InDelta(t, result.Duration/2, result.Markers[0], result.Duration/2)
}

func TestEnvelope(t *testing.T) {
	svc := testAnalyzer(t)
	raw := buildWAV(t, clickTrack(8000, 1, 4), 8000)

	env, err := svc.Envelope(raw, 100)
	require.NoError(t, err)
	require.Len(t, env, 100)
	for _, b := range env {
		assert.LessOrEqual(t, b.Min, b.Max)
		assert.GreaterOrEqual(t, b.RMS, 0.0)
	}
}

func TestEnvelopeEmptyInput(t *testing.T) {
	_, err := testAnalyzer(t).Envelope(nil, 10)
	assert.ErrorIs(t, err, media.ErrAnalysis)
}

func TestFFTRoundTripEnergy(t *testing.T) {
	// Parseval check on a pure tone: spectral energy concentrates at the
	// tone's bin.
	n := 256
	re := make([]float64, n)
	im := make([]float64, n)
	bin := 16
	for i := 0; i < n; i++ {
		re[i] = math.Cos(2 * math.Pi * float64(bin) * float64(i) / float64(n))
	}
	fft(re, im)

	peak := 0
	peakMag := 0.0
	for i := 0; i < n/2; i++ {
		mag := math.Hypot(re[i], im[i])
		if mag > peakMag {
			peakMag = mag
			peak = i
		}
	}
	assert.Equal(t, bin, peak)
}
