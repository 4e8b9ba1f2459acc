package api

// UploadResponse acknowledges an accepted video. The upload is queued at
// this point, not finished, hence the fixed "processing" status.
type UploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// HealthResponse reports service liveness and tool availability.
type HealthResponse struct {
	Status     string              `json:"status"`
	Version    string              `json:"version"`
	UptimeS    int64               `json:"uptime_s"`
	ActiveJobs int                 `json:"active_jobs"`
	Tools      *ToolStatusResponse `json:"tools,omitempty"`
}

// ToolStatusResponse mirrors the media doctor probe.
type ToolStatusResponse struct {
	FFmpeg  bool `json:"ffmpeg"`
	FFprobe bool `json:"ffprobe"`
	Whisper bool `json:"whisper"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
