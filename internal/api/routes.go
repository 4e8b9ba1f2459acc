package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cliptune/cliptune-server/internal/config"
	"github.com/cliptune/cliptune-server/internal/metrics"
	"github.com/cliptune/cliptune-server/internal/pipeline"
	"github.com/cliptune/cliptune-server/internal/queue"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/videos", uploadVideoHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}

		if cfg.Active != nil {
			resp.ActiveJobs = cfg.Active()
		}

		if cfg.Doctor != nil {
			tools := cfg.Doctor.Get()
			resp.Tools = &ToolStatusResponse{
				FFmpeg:  tools.FFmpeg,
				FFprobe: tools.FFprobe,
				Whisper: tools.Whisper,
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// uploadVideoHandler accepts a multipart upload, spools it into a fresh
// per-job workspace and enqueues the job. The response is an ack, not a
// completion: all processing happens after the 202.
func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > cfg.MaxUploadBytes {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", "TOO_LARGE")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				metrics.UploadsRejected.WithLabelValues("too_large").Inc()
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", "TOO_LARGE")
				return
			}
			metrics.UploadsRejected.WithLabelValues("bad_request").Inc()
			WriteError(w, http.StatusBadRequest, "multipart field 'file' is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		if !pipeline.IsVideoFile(header.Filename) {
			metrics.UploadsRejected.WithLabelValues("bad_request").Inc()
			WriteError(w, http.StatusBadRequest, "unsupported file type", "UNSUPPORTED_TYPE")
			return
		}

		job := pipeline.NewJob(header.Filename, header.Size, cfg.DataDir)
		ws, err := pipeline.NewWorkspace(cfg.DataDir, job.ID)
		if err != nil {
			cfg.Logger.Error("failed to create job workspace", "error", err, "job_id", job.ID)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		size, err := spool(file, job.SourcePath)
		if err != nil {
			_ = ws.Cleanup()
			cfg.Logger.Error("failed to spool upload", "error", err, "job_id", job.ID)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}
		job.Size = size

		if err := cfg.Queue.Publish(r.Context(), job); err != nil {
			_ = ws.Cleanup()
			if errors.Is(err, queue.ErrFull) {
				metrics.UploadsRejected.WithLabelValues("queue_full").Inc()
				WriteError(w, http.StatusServiceUnavailable, "server is busy, try again later", "QUEUE_FULL")
				return
			}
			cfg.Logger.Error("failed to enqueue job", "error", err, "job_id", job.ID)
			WriteError(w, http.StatusInternalServerError, "failed to schedule processing", "INTERNAL_ERROR")
			return
		}

		cfg.Logger.Info("video accepted",
			"job_id", job.ID,
			"filename", header.Filename,
			"size_bytes", size,
		)

		WriteJSON(w, http.StatusAccepted, UploadResponse{
			Message:  "Video received and processing started",
			Filename: header.Filename,
			Status:   "processing",
		})
	}
}

func spool(src io.Reader, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, src)
	closeErr := out.Close()
	if err != nil {
		return n, err
	}
	return n, closeErr
}
