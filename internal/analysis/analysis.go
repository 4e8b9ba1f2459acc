// Package analysis sends reduced videos to the Gemini API and turns the
// model's answer into a music brief. One analysis is a three-step REST
// conversation: upload the video through the File API, wait for the file
// to become ACTIVE, then ask the model to generate the brief as JSON.
//
// Failures here are fatal for the job. A transient failure (5xx, dropped
// connection, attempt timeout) is retried exactly once after a short fixed
// pause; client errors are not retried.
package analysis

import (
	"fmt"
	"time"
)

// Result is one successful model analysis.
type Result struct {
	// Raw is the full JSON object the model produced.
	Raw map[string]any
	// SunoRequest is the music-generation request extracted from Raw. When
	// the model answers with a flat object the whole object is used.
	SunoRequest map[string]any
	// ModelVersion is the concrete model version that served the request.
	ModelVersion string
}

// TimeoutError reports an analysis attempt that exceeded its time budget.
type TimeoutError struct {
	Op     string // "upload", "poll", "generate"
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis timed out during %s (budget %s)", e.Op, e.Budget)
}

// ResponseError reports a non-2xx reply or a reply the client cannot use.
type ResponseError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *ResponseError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis response: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("analysis response: %s", e.Reason)
}
