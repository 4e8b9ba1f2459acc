// Package pipeline drives uploaded videos through the processing stages:
// reduce, transcribe, analyze, deliver. Each job owns a working directory
// for the lifetime of its run and advances through an explicit state
// machine; every transition is logged with its duration and outcome so a
// job's history can be reconstructed from the logs alone.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is one uploaded video moving through the pipeline. Jobs are
// serializable so queue backends can persist them across restarts; runtime
// state (workspace handle, stage results) is rebuilt by the worker.
type Job struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	SourcePath       string    `json:"source_path"`
	WorkDir          string    `json:"work_dir"`
	Size             int64     `json:"size"`
	ReceivedAt       time.Time `json:"received_at"`
}

// NewJob builds a Job for an uploaded file. The working directory is a
// unique per-job subdirectory of baseDir; the source file is expected to
// be spooled to SourcePath by the caller.
func NewJob(originalFilename string, size int64, baseDir string) Job {
	id := uuid.NewString()
	workDir := filepath.Join(baseDir, id)
	return Job{
		ID:               id,
		OriginalFilename: originalFilename,
		SourcePath:       filepath.Join(workDir, "source-"+SanitizeFilename(originalFilename)),
		WorkDir:          workDir,
		Size:             size,
		ReceivedAt:       time.Now().UTC(),
	}
}

// VideoExtensions is the set of file extensions accepted for upload.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
	".mts":  true,
	".m2ts": true,
}

// IsVideoFile checks if a filename has a recognized video extension
func IsVideoFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return VideoExtensions[ext]
}

const maxFilenameLen = 128

// SanitizeFilename makes an uploaded filename safe to use on disk and in
// object keys. Path separators and shell-hostile characters are replaced
// with underscores and the result is capped at maxFilenameLen runes.
func SanitizeFilename(name string) string {
	// Strip any directory components a hostile client may have included.
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if len(out) > maxFilenameLen {
		// Keep the extension when truncating.
		ext := filepath.Ext(out)
		if len(ext) < maxFilenameLen {
			out = out[:maxFilenameLen-len(ext)] + ext
		} else {
			out = out[:maxFilenameLen]
		}
	}
	out = strings.Trim(out, ". ")
	if out == "" {
		return "upload"
	}
	return out
}
