// Package media turns uploaded videos into compact, model-ready artifacts.
// It shells out to ffmpeg and ffprobe: the video track is downscaled for
// upload to the analysis model and the audio track is extracted as mono
// 16 kHz WAV for transcription. Failures here are fatal for the job; a
// video the tools cannot read will not get better on retry.
package media

import (
	"fmt"
	"time"
)

// Reduced describes the artifacts produced from one source video.
type Reduced struct {
	// VideoPath is the downscaled video inside the job workspace.
	VideoPath string
	// AudioPath is the extracted WAV, empty when the source has no audio
	// stream.
	AudioPath string
	// Duration is the source duration in seconds as reported by ffprobe.
	Duration float64
}

// ProcessingError reports a failed media operation. The pipeline treats it
// as fatal for the job.
type ProcessingError struct {
	Op       string // "probe", "reduce", "extract_audio"
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited %d: %s", e.Op, e.ExitCode, truncate(e.Stderr, 256))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s exited %d", e.Op, e.ExitCode)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// RunResult captures one tool invocation.
type RunResult struct {
	ExitCode   int
	Stdout     string
	StderrTail string
	Duration   time.Duration
}

// IsSuccess reports whether the tool exited cleanly.
func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}
