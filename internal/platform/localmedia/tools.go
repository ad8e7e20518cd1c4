package localmedia

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

// Tools is the glue around system binaries (ffmpeg/ffprobe). It is
// synchronous and should be called from worker jobs, not request handlers.
// Every operation degrades gracefully: callers are expected to fall back to
// generated artifacts when the binaries are absent.
type Tools interface {
	AssertReady(ctx context.Context) error

	ExtractFrame(ctx context.Context, videoPath string, outPath string, opts FrameOptions) (string, error)
	ProbeMedia(ctx context.Context, path string) (*ProbeResult, error)

	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
}

type FrameOptions struct {
	OffsetSeconds float64
	Width         int
	Height        int
	JPEGQuality   int
}

type ProbeResult struct {
	DurationSeconds float64
	Width           int
	Height          int
	SampleRate      int
	Channels        int
}

type tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		workRoot:       "/tmp/medialab-media",
		defaultTimeout: 10 * time.Minute,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	h := sha256.Sum256(data)
	base := hex.EncodeToString(h[:])[:16]
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	path := filepath.Join(m.workRoot, fmt.Sprintf("%s%s", base, suffix))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

// ExtractFrame grabs a single frame and scales it to the requested size.
func (m *tools) ExtractFrame(ctx context.Context, videoPath string, outPath string, opts FrameOptions) (string, error) {
	if err := m.AssertReady(ctx); err != nil {
		return "", err
	}
	if videoPath == "" {
		return "", fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir out dir: %w", err)
	}

	offset := opts.OffsetSeconds
	if offset < 0 {
		offset = 0
	}
	width := opts.Width
	if width <= 0 {
		width = 320
	}
	height := opts.Height
	if height <= 0 {
		height = -1
	}
	q := opts.JPEGQuality
	if q <= 0 {
		q = 4
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-q:v", strconv.Itoa(q),
		outPath,
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg extract frame failed: %w; out=%s", err, tail(string(out), 512))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("frame output missing at %s", outPath)
	}
	return outPath, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *tools) ProbeMedia(ctx context.Context, path string) (*ProbeResult, error) {
	if err := m.AssertReady(ctx); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("path required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	if d, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64); err == nil {
		res.DurationSeconds = d
	}
	for _, st := range probe.Streams {
		switch st.CodecType {
		case "video":
			if res.Width == 0 {
				res.Width = st.Width
				res.Height = st.Height
			}
		case "audio":
			if res.SampleRate == 0 {
				if sr, err := strconv.Atoi(strings.TrimSpace(st.SampleRate)); err == nil {
					res.SampleRate = sr
				}
				res.Channels = st.Channels
			}
		}
	}
	return res, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
