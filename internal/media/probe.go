package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// probeInfo is what the reducer needs to know about a source file before
// transforming it.
type probeInfo struct {
	Duration float64
	HasAudio bool
}

// ffprobe JSON wire format. Duration arrives as a string.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		inputPath,
	}
}

// probe inspects the source with ffprobe. A file ffprobe cannot parse is
// not a processable video.
func (r *FFmpegReducer) probe(ctx context.Context, inputPath string) (probeInfo, error) {
	result := r.runner.Run(ctx, r.ffprobe, buildProbeArgs(inputPath)...)
	if !result.IsSuccess() {
		return probeInfo{}, &ProcessingError{
			Op:       "probe",
			ExitCode: result.ExitCode,
			Stderr:   result.StderrTail,
		}
	}

	info, err := parseProbeOutput([]byte(result.Stdout))
	if err != nil {
		return probeInfo{}, &ProcessingError{Op: "probe", Err: err}
	}
	return info, nil
}

func parseProbeOutput(data []byte) (probeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return probeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info probeInfo
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return probeInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = d
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
			break
		}
	}
	return info, nil
}
