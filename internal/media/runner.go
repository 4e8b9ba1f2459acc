package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cliptune/cliptune-server/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024  // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 64 * 1024 // ffprobe JSON fits comfortably
)

// Runner executes external media tools as subprocesses with bounded
// output capture. It is the single implementation of tool execution used
// by the reducer and the transcriber.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a Runner that logs through logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes bin with args under ctx. The exit code is -1 when the
// process could not be started or was killed by the context deadline.
func (r *Runner) Run(ctx context.Context, bin string, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	r.logger.Debug("executing tool", "bin", bin, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderrBuf.Len() == 0 {
				stderrBuf.WriteString(err.Error())
			}
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.logger.Warn("tool failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.logger.Debug("tool succeeded",
			"bin", bin,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// resolveTool finds a binary on PATH, or verifies a configured path.
func resolveTool(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("tool %q not found: %w", name, err)
	}
	return p, nil
}

// safePath masks the home directory in logged paths.
func safePath(path string) string {
	return logging.SanitizePath(path)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
