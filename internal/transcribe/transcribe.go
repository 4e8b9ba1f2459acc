// Package transcribe extracts speech from job audio with the whisper.cpp
// CLI. Transcription is best-effort: any failure here degrades the job to
// an empty transcript instead of failing it, so the transcriber reports
// errors the pipeline can absorb.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cliptune/cliptune-server/internal/media"
)

const transcriptBase = "transcript"

// Transcript is the speech content of one job's audio. An empty Text is a
// valid transcript: silent or music-only videos produce one.
type Transcript struct {
	Text     string
	Language string
}

// Empty reports whether no speech was recognised.
func (t *Transcript) Empty() bool {
	return t == nil || t.Text == ""
}

// TranscriptionError reports a failed transcription attempt. The pipeline
// treats it as recoverable and continues with an empty transcript.
type TranscriptionError struct {
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription: %s", e.Reason)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Config holds the transcriber's configuration.
type Config struct {
	WhisperBin string        // whisper.cpp CLI binary name or path
	ModelPath  string        // ggml model file; empty disables transcription
	Language   string        // forced language code; empty lets the model detect
	Timeout    time.Duration // budget for one transcription run
	Logger     *slog.Logger
}

// WhisperTranscriber shells out to the whisper.cpp CLI.
type WhisperTranscriber struct {
	cfg    Config
	bin    string // resolved path, empty when the binary is missing
	runner *media.Runner
}

// NewTranscriber resolves the whisper binary. A missing binary or model is
// not an error here: the transcriber stays constructed and every call
// degrades, which is the contract for this stage.
func NewTranscriber(cfg Config) *WhisperTranscriber {
	bin, err := exec.LookPath(cfg.WhisperBin)
	if err != nil {
		bin = ""
	}

	switch {
	case bin == "":
		cfg.Logger.Warn("whisper binary not found, transcription disabled",
			"bin", cfg.WhisperBin)
	case cfg.ModelPath == "":
		cfg.Logger.Warn("whisper model not configured, transcription disabled")
	default:
		cfg.Logger.Info("transcriber initialised",
			"bin", bin,
			"model", cfg.ModelPath,
		)
	}

	return &WhisperTranscriber{
		cfg:    cfg,
		bin:    bin,
		runner: media.NewRunner(cfg.Logger),
	}
}

// buildWhisperArgs produces the whisper.cpp CLI invocation. The CLI writes
// the transcript to <outputBase>.txt.
func buildWhisperArgs(modelPath, audioPath, outputBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outputBase,
		"-otxt",
	}
	if language != "" {
		args = append(args, "-l", language)
	}
	return args
}

// Transcribe runs whisper.cpp over the job's extracted audio and reads the
// transcript it wrote into workDir.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, workDir string) (*Transcript, error) {
	if audioPath == "" {
		return nil, &TranscriptionError{Reason: "no audio stream"}
	}
	if t.bin == "" {
		return nil, &TranscriptionError{Reason: "whisper binary not available"}
	}
	if t.cfg.ModelPath == "" {
		return nil, &TranscriptionError{Reason: "whisper model not configured"}
	}
	if _, err := os.Stat(t.cfg.ModelPath); err != nil {
		return nil, &TranscriptionError{Reason: "whisper model missing", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	outputBase := filepath.Join(workDir, transcriptBase)
	args := buildWhisperArgs(t.cfg.ModelPath, audioPath, outputBase, t.cfg.Language)

	result := t.runner.Run(ctx, t.bin, args...)
	if !result.IsSuccess() {
		return nil, &TranscriptionError{
			Reason: fmt.Sprintf("whisper exited %d", result.ExitCode),
			Err:    errors.New(result.StderrTail),
		}
	}

	text, err := readTranscript(outputBase + ".txt")
	if err != nil {
		return nil, &TranscriptionError{Reason: "transcript unreadable", Err: err}
	}

	t.cfg.Logger.Info("transcription complete",
		"duration_ms", result.Duration.Milliseconds(),
		"transcript_chars", len(text),
	)

	return &Transcript{Text: text, Language: t.cfg.Language}, nil
}

// readTranscript loads and trims the whisper output file. Whisper pads
// lines with leading whitespace and a trailing newline.
func readTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
