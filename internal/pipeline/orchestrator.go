package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cliptune/cliptune-server/internal/analysis"
	"github.com/cliptune/cliptune-server/internal/logging"
	"github.com/cliptune/cliptune-server/internal/media"
	"github.com/cliptune/cliptune-server/internal/metrics"
	"github.com/cliptune/cliptune-server/internal/transcribe"
	"github.com/cliptune/cliptune-server/internal/webhook"
)

// Reducer produces model-ready artifacts from the spooled source.
type Reducer interface {
	Reduce(ctx context.Context, sourcePath, workDir string) (*media.Reduced, error)
}

// Transcriber extracts speech from the job's audio artifact.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, workDir string) (*transcribe.Transcript, error)
}

// Analyzer turns the reduced video and transcript into a music brief.
type Analyzer interface {
	Analyze(ctx context.Context, videoPath, transcript string) (*analysis.Result, error)
}

// Deliverer forwards the finished result downstream.
type Deliverer interface {
	Deliver(ctx context.Context, payload webhook.Payload) webhook.Outcome
}

// Archiver stores an artifact and returns a URL for it.
type Archiver interface {
	Archive(ctx context.Context, jobID, path string) (string, error)
}

// Config wires the orchestrator to its stage clients.
type Config struct {
	Workers     int
	Reducer     Reducer
	Transcriber Transcriber
	Analyzer    Analyzer
	Deliverer   Deliverer
	Archiver    Archiver // nil disables archival
	Logger      *slog.Logger
}

// Orchestrator runs jobs through the pipeline with a fixed pool of
// workers. Stages within one job are strictly sequential; concurrency
// exists only across jobs.
type Orchestrator struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. Start must be called before
// jobs are published.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		tracker: NewTracker(),
		logger:  logging.WithComponent(cfg.Logger, "pipeline"),
	}
}

// Start launches the worker pool consuming from jobs. Workers exit when
// the channel closes; Wait blocks until they have finished their current
// jobs.
func (o *Orchestrator) Start(ctx context.Context, jobs <-chan Job) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i, jobs)
	}
	o.logger.Info("worker pool started", "workers", o.cfg.Workers)
}

// Wait blocks until every worker has drained and exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Active returns the number of jobs currently being processed.
func (o *Orchestrator) Active() int {
	return o.tracker.Active()
}

func (o *Orchestrator) worker(ctx context.Context, id int, jobs <-chan Job) {
	defer o.wg.Done()
	o.logger.Debug("worker started", "worker", id)

	for job := range jobs {
		// A job in flight is never cancelled; shutdown waits for it.
		o.process(context.WithoutCancel(ctx), job)
	}

	o.logger.Debug("worker stopped", "worker", id)
}

// process drives one job through the state machine. Every stage logs its
// transition with duration and outcome, and the workspace is removed
// exactly once on terminal entry.
func (o *Orchestrator) process(ctx context.Context, job Job) {
	logger := logging.WithJobID(o.logger, job.ID)
	ws := OpenWorkspace(job.WorkDir)
	started := time.Now()

	if err := o.tracker.Begin(job.ID); err != nil {
		logger.Error("job cannot start", "error", err)
		return
	}
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()
	defer o.tracker.Remove(job.ID)

	logger.Info("job started",
		"filename", job.OriginalFilename,
		"size_bytes", job.Size,
	)

	reduced, res := o.reduce(ctx, logger, job)
	if res.Outcome == OutcomeHardFail {
		o.fail(logger, job, ws, StateReducing, res, started)
		return
	}

	transcript := o.transcribe(ctx, logger, job, reduced)

	result, res := o.analyze(ctx, logger, job, reduced, transcript)
	if res.Outcome == OutcomeHardFail {
		o.fail(logger, job, ws, StateAnalyzing, res, started)
		return
	}

	outcome := o.deliver(ctx, logger, job, reduced, transcript, result)
	o.finish(logger, job, ws, outcome, started)
}

func (o *Orchestrator) reduce(ctx context.Context, logger *slog.Logger, job Job) (*media.Reduced, StageResult) {
	o.advance(logger, job.ID, StateReducing)
	start := time.Now()

	reduced, err := o.cfg.Reducer.Reduce(ctx, job.SourcePath, job.WorkDir)
	if err != nil {
		res := HardFail(failureReason(err), err)
		o.logStage(logger, StateReducing, start, res)
		return nil, res
	}

	o.logStage(logger, StateReducing, start, Ok())
	return reduced, Ok()
}

// transcribe never fails the job: any error degrades to an empty
// transcript and the pipeline moves on.
func (o *Orchestrator) transcribe(ctx context.Context, logger *slog.Logger, job Job, reduced *media.Reduced) *transcribe.Transcript {
	o.advance(logger, job.ID, StateTranscribing)
	start := time.Now()

	transcript, err := o.cfg.Transcriber.Transcribe(ctx, reduced.AudioPath, job.WorkDir)
	if err != nil {
		o.logStage(logger, StateTranscribing, start, SoftFail("transcription failed", err))
		return &transcribe.Transcript{}
	}

	o.logStage(logger, StateTranscribing, start, Ok())
	return transcript
}

func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, job Job, reduced *media.Reduced, transcript *transcribe.Transcript) (*analysis.Result, StageResult) {
	o.advance(logger, job.ID, StateAnalyzing)
	start := time.Now()

	result, err := o.cfg.Analyzer.Analyze(ctx, reduced.VideoPath, transcript.Text)
	if err != nil {
		res := HardFail(failureReason(err), err)
		o.logStage(logger, StateAnalyzing, start, res)
		return nil, res
	}

	o.logStage(logger, StateAnalyzing, start, Ok())
	return result, Ok()
}

// deliver archives the reduced video when an archiver is configured, then
// posts the webhook. Neither step can fail the job.
func (o *Orchestrator) deliver(ctx context.Context, logger *slog.Logger, job Job, reduced *media.Reduced, transcript *transcribe.Transcript, result *analysis.Result) webhook.Outcome {
	o.advance(logger, job.ID, StateDelivering)
	start := time.Now()

	mediaURL := ""
	if o.cfg.Archiver != nil {
		archiveURL, err := o.cfg.Archiver.Archive(ctx, job.ID, reduced.VideoPath)
		if err != nil {
			logger.Warn("artifact archival failed", "error", err)
		} else {
			mediaURL = archiveURL
		}
	}

	payload := webhook.Payload{
		Filename:    job.OriginalFilename,
		Analysis:    result.Raw,
		SunoRequest: result.SunoRequest,
		Transcript:  transcript.Text,
		MediaURL:    mediaURL,
		Timestamp:   time.Now().UTC(),
	}
	outcome := o.cfg.Deliverer.Deliver(ctx, payload)

	if outcome.Delivered {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		o.logStage(logger, StateDelivering, start, Ok())
	} else {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		o.logStage(logger, StateDelivering, start, SoftFail("delivery failed", outcome.Err))
	}
	return outcome
}

func (o *Orchestrator) finish(logger *slog.Logger, job Job, ws *Workspace, outcome webhook.Outcome, started time.Time) {
	o.advance(logger, job.ID, StateDone)
	o.cleanup(logger, ws)
	metrics.JobsTotal.WithLabelValues("done").Inc()

	logger.Info("job complete",
		"total_duration_ms", time.Since(started).Milliseconds(),
		"delivered", outcome.Delivered,
		"delivery_status", outcome.StatusCode,
		"delivery_attempts", outcome.Attempts,
	)
}

func (o *Orchestrator) fail(logger *slog.Logger, job Job, ws *Workspace, stage State, res StageResult, started time.Time) {
	o.advance(logger, job.ID, StateFailed)
	o.cleanup(logger, ws)
	metrics.JobsTotal.WithLabelValues("failed").Inc()

	logger.Error("job failed",
		"stage", string(stage),
		"reason", res.Reason,
		"error", res.Err,
		"total_duration_ms", time.Since(started).Milliseconds(),
	)
}

// advance moves the tracker and logs the rejection if the transition is
// invalid. An invalid transition here is a bug, not a runtime condition,
// so processing continues on the stage code path that requested it.
func (o *Orchestrator) advance(logger *slog.Logger, jobID string, to State) {
	if err := o.tracker.Advance(jobID, to); err != nil {
		logger.Error("state transition rejected", "error", err)
	}
}

func (o *Orchestrator) cleanup(logger *slog.Logger, ws *Workspace) {
	if err := ws.Cleanup(); err != nil {
		logger.Warn("workspace cleanup failed", "dir", ws.Dir, "error", err)
	}
}

// logStage emits the per-transition record: stage, duration and outcome.
// These lines are the job's authoritative history.
func (o *Orchestrator) logStage(logger *slog.Logger, stage State, start time.Time, res StageResult) {
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	attrs := []any{
		"stage", string(stage),
		"duration_ms", elapsed.Milliseconds(),
		"outcome", res.Outcome.String(),
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}

	switch res.Outcome {
	case OutcomeOK:
		logger.Info("stage complete", attrs...)
	case OutcomeSoftFail:
		logger.Warn("stage degraded", attrs...)
	default:
		logger.Error("stage failed", attrs...)
	}
}

// failureReason maps a stage error to the short reason recorded on Failed
// jobs.
func failureReason(err error) string {
	var terr *analysis.TimeoutError
	if errors.As(err, &terr) {
		return "timeout"
	}
	var rerr *analysis.ResponseError
	if errors.As(err, &rerr) {
		return "bad response"
	}
	var perr *media.ProcessingError
	if errors.As(err, &perr) {
		return "media processing failed"
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return "connection failed"
	}
	return "internal error"
}
