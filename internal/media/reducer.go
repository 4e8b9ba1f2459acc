package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	reducedVideoName = "reduced.mp4"
	audioName        = "audio.wav"
)

// Config holds the reducer's configuration.
type Config struct {
	FFmpegPath  string        // ffmpeg binary name or path
	FFprobePath string        // ffprobe binary name or path
	Timeout     time.Duration // budget for the whole reduce stage
	Logger      *slog.Logger
}

// FFmpegReducer produces model-ready artifacts with ffmpeg.
type FFmpegReducer struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
	runner  *Runner
}

// NewReducer resolves the tool binaries and returns a reducer. Missing
// tools are a startup error; the pipeline cannot run without them.
func NewReducer(cfg Config) (*FFmpegReducer, error) {
	ffmpeg, err := resolveTool(cfg.FFmpegPath)
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveTool(cfg.FFprobePath)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("media reducer initialised",
		"ffmpeg", ffmpeg,
		"ffprobe", ffprobe,
	)

	return &FFmpegReducer{
		cfg:     cfg,
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		runner:  NewRunner(cfg.Logger),
	}, nil
}

// buildReduceArgs downscales the video track to 360p H.264 with compressed
// audio. The scale filter keeps the aspect ratio and an even width.
func buildReduceArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", inputPath,
		"-vf", "scale=-2:360",
		"-c:v", "libx264",
		"-crf", "28",
		"-preset", "fast",
		"-c:a", "aac",
		outputPath,
	}
}

// buildAudioArgs extracts the audio track as mono 16 kHz PCM WAV, the
// input format speech models expect.
func buildAudioArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	}
}

// Reduce probes the source, downscales the video and extracts the audio
// track into workDir. Sources without an audio stream produce an empty
// AudioPath; the transcription stage degrades on its own.
func (r *FFmpegReducer) Reduce(ctx context.Context, sourcePath, workDir string) (*Reduced, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	info, err := r.probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	videoPath := filepath.Join(workDir, reducedVideoName)
	result := r.runner.Run(ctx, r.ffmpeg, buildReduceArgs(sourcePath, videoPath)...)
	if !result.IsSuccess() {
		return nil, &ProcessingError{
			Op:       "reduce",
			ExitCode: result.ExitCode,
			Stderr:   result.StderrTail,
			Err:      ctx.Err(),
		}
	}
	if err := verifyArtifact(videoPath); err != nil {
		return nil, &ProcessingError{Op: "reduce", Stderr: result.StderrTail, Err: err}
	}

	audioPath := ""
	if info.HasAudio {
		audioPath = filepath.Join(workDir, audioName)
		result = r.runner.Run(ctx, r.ffmpeg, buildAudioArgs(sourcePath, audioPath)...)
		if !result.IsSuccess() {
			return nil, &ProcessingError{
				Op:       "extract_audio",
				ExitCode: result.ExitCode,
				Stderr:   result.StderrTail,
				Err:      ctx.Err(),
			}
		}
		if err := verifyArtifact(audioPath); err != nil {
			return nil, &ProcessingError{Op: "extract_audio", Stderr: result.StderrTail, Err: err}
		}
	} else {
		r.cfg.Logger.Info("source has no audio stream, skipping extraction",
			"source", safePath(sourcePath))
	}

	r.cfg.Logger.Info("media reduced",
		"source", safePath(sourcePath),
		"duration_s", fmt.Sprintf("%.1f", info.Duration),
		"has_audio", info.HasAudio,
	)

	return &Reduced{
		VideoPath: videoPath,
		AudioPath: audioPath,
		Duration:  info.Duration,
	}, nil
}

// verifyArtifact guards against a tool exiting zero while writing nothing
// usable. A zero-byte artifact fails the stage.
func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", filepath.Base(path))
	}
	return nil
}
