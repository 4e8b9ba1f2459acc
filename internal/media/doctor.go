package media

import (
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const doctorCacheTTL = 5 * time.Minute

// ToolStatus reports which external tools the pipeline can use right now.
// Whisper availability requires both the binary and a model file since the
// transcriber needs both to run.
type ToolStatus struct {
	FFmpeg   bool      `json:"ffmpeg"`
	FFprobe  bool      `json:"ffprobe"`
	Whisper  bool      `json:"whisper"`
	ProbedAt time.Time `json:"-"`
}

// Doctor probes tool availability with a TTL cache so health checks stay
// cheap under frequent polling.
type Doctor struct {
	ffmpegPath   string
	ffprobePath  string
	whisperBin   string
	whisperModel string
	ttl          time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	cached *ToolStatus
}

// NewDoctor creates a Doctor for the configured tool paths.
func NewDoctor(ffmpegPath, ffprobePath, whisperBin, whisperModel string, logger *slog.Logger) *Doctor {
	return &Doctor{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		whisperBin:   whisperBin,
		whisperModel: whisperModel,
		ttl:          doctorCacheTTL,
		logger:       logger,
	}
}

// Get returns cached tool status if fresh, otherwise re-probes.
func (d *Doctor) Get() ToolStatus {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		status := *d.cached
		d.mu.RUnlock()
		return status
	}
	d.mu.RUnlock()

	return d.Refresh()
}

// Refresh probes the tools regardless of cache freshness.
func (d *Doctor) Refresh() ToolStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := ToolStatus{
		FFmpeg:   onPath(d.ffmpegPath),
		FFprobe:  onPath(d.ffprobePath),
		Whisper:  onPath(d.whisperBin) && fileExists(d.whisperModel),
		ProbedAt: time.Now(),
	}

	if !status.FFmpeg || !status.FFprobe {
		d.logger.Warn("media tools missing",
			"ffmpeg", status.FFmpeg,
			"ffprobe", status.FFprobe,
		)
	}

	d.cached = &status
	return status
}

func onPath(bin string) bool {
	if bin == "" {
		return false
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
