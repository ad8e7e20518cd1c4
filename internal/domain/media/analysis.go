package media

// AnalysisResult is the transient-marker artifact persisted alongside the
// audio original. Markers are second offsets, sorted ascending, all within
// [0, Duration].
type AnalysisResult struct {
	Markers         []float64 `json:"markers"`
	Duration        float64   `json:"duration"`
	SampleRate      int       `json:"sample_rate"`
	PeakFrequencies []float64 `json:"peak_frequencies"`
	Sensitivity     float64   `json:"sensitivity"`
}

// WaveformBucket is one column of the downsampled waveform envelope.
type WaveformBucket struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	RMS float64 `json:"rms"`
}
