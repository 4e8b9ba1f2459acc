package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cliptune/cliptune-server/internal/logging"
)

const (
	// retryBackoff is the fixed pause before the single retry of a
	// transient failure.
	retryBackoff = 2 * time.Second
	maxRetries   = 1

	// pollInterval is how often the uploaded file's state is checked.
	pollInterval = 2 * time.Second

	// maxErrorBody bounds how much of a remote error reply is kept.
	maxErrorBody = 4096

	videoMIMEType = "video/mp4"
)

// Config holds the Gemini client's configuration.
type Config struct {
	APIKey  string
	BaseURL string        // e.g. https://generativelanguage.googleapis.com
	Model   string        // e.g. gemini-1.5-flash
	Timeout time.Duration // budget for one analysis attempt
	Logger  *slog.Logger
}

// Client talks to the Gemini REST API.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	logger       *slog.Logger
	retryBackoff time.Duration
	pollInterval time.Duration
}

// NewClient creates a Gemini client. Request deadlines come from per
// attempt contexts, not a client-wide timeout.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger.With("component", "analysis")
	logger.Info("analysis client initialised",
		"model", cfg.Model,
		"api_key", logging.SanitizeToken(cfg.APIKey),
	)
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{},
		logger:       logger,
		retryBackoff: retryBackoff,
		pollInterval: pollInterval,
	}
}

// Analyze uploads the reduced video and asks the model for a music brief.
// Transient failures are retried once after a fixed pause; the returned
// error is a *TimeoutError or *ResponseError the pipeline maps to its
// failure reason.
func (c *Client) Analyze(ctx context.Context, videoPath, transcript string) (*Result, error) {
	var result *Result
	attempt := 0

	op := func() error {
		attempt++
		res, err := c.analyzeOnce(ctx, videoPath, transcript)
		if err != nil {
			c.logger.Warn("analysis attempt failed",
				"attempt", attempt,
				"error", err,
			)
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryBackoff), maxRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// isTransient decides whether an attempt failure is worth one retry:
// server-side errors, connection failures and attempt timeouts are; client
// errors and unusable response bodies are not.
func isTransient(err error) bool {
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		return rerr.StatusCode >= 500
	}
	var terr *TimeoutError
	if errors.As(err, &terr) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr)
}

// analyzeOnce performs one full upload, poll, generate round under the
// attempt budget.
func (c *Client) analyzeOnce(ctx context.Context, videoPath, transcript string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	file, err := c.uploadFile(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	// The remote file is temporary state; remove it whatever happens to
	// the rest of the attempt.
	defer c.deleteFile(file.Name)

	file, err = c.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	return c.generate(ctx, file, transcript)
}

// Gemini wire types.
type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
}

type fileEnvelope struct {
	File geminiFile `json:"file"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType"`
}

type generateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// uploadFile streams the video to the File API using the raw upload
// protocol and returns the file handle Gemini assigned.
func (c *Client) uploadFile(ctx context.Context, videoPath string) (geminiFile, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return geminiFile{}, &ResponseError{Reason: fmt.Sprintf("open video: %v", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return geminiFile{}, &ResponseError{Reason: fmt.Sprintf("stat video: %v", err)}
	}

	uploadURL := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.cfg.BaseURL, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return geminiFile{}, &ResponseError{Reason: fmt.Sprintf("build upload request: %v", err)}
	}
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", videoMIMEType)
	req.ContentLength = info.Size()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geminiFile{}, c.transportError("upload", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus("upload", resp); err != nil {
		return geminiFile{}, err
	}

	var envelope fileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return geminiFile{}, &ResponseError{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("decode upload response: %v", err),
		}
	}
	if envelope.File.Name == "" {
		return geminiFile{}, &ResponseError{
			StatusCode: resp.StatusCode,
			Reason:     "upload response missing file name",
		}
	}

	c.logger.Debug("video uploaded",
		"file", envelope.File.Name,
		"bytes", info.Size(),
	)
	return envelope.File, nil
}

// waitActive polls the uploaded file until Gemini finishes ingesting it.
func (c *Client) waitActive(ctx context.Context, file geminiFile) (geminiFile, error) {
	for file.State == "PROCESSING" {
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return geminiFile{}, &TimeoutError{Op: "poll", Budget: c.cfg.Timeout}
		}

		getURL := fmt.Sprintf("%s/v1beta/%s?key=%s", c.cfg.BaseURL, file.Name, url.QueryEscape(c.cfg.APIKey))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
		if err != nil {
			return geminiFile{}, &ResponseError{Reason: fmt.Sprintf("build poll request: %v", err)}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return geminiFile{}, c.transportError("poll", err)
		}

		err = c.checkStatus("poll", resp)
		if err != nil {
			resp.Body.Close()
			return geminiFile{}, err
		}

		var updated geminiFile
		err = json.NewDecoder(resp.Body).Decode(&updated)
		resp.Body.Close()
		if err != nil {
			return geminiFile{}, &ResponseError{Reason: fmt.Sprintf("decode poll response: %v", err)}
		}
		updated.Name = file.Name
		file = updated
	}

	if file.State == "FAILED" {
		return geminiFile{}, &ResponseError{Reason: "file ingestion failed on the server"}
	}
	return file, nil
}

// generate asks the model for the music brief and parses its JSON answer.
func (c *Client) generate(ctx context.Context, file geminiFile, transcript string) (*Result, error) {
	reqBody := generateRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{FileData: &geminiFileData{MIMEType: videoMIMEType, FileURI: file.URI}},
				{Text: buildPrompt(transcript)},
			},
		}},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ResponseError{Reason: fmt.Sprintf("encode generate request: %v", err)}
	}

	genURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, genURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ResponseError{Reason: fmt.Sprintf("build generate request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError("generate", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus("generate", resp); err != nil {
		return nil, err
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, &ResponseError{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("decode generate response: %v", err),
		}
	}

	raw, err := parseModelJSON(genResp)
	if err != nil {
		return nil, err
	}

	modelVersion := genResp.ModelVersion
	if modelVersion == "" {
		modelVersion = c.cfg.Model
	}

	return &Result{
		Raw:          raw,
		SunoRequest:  extractSunoRequest(raw),
		ModelVersion: modelVersion,
	}, nil
}

// deleteFile removes the uploaded video from the File API. Best-effort:
// the files expire server-side anyway, so failures are only logged. A
// fresh context is used so cleanup still runs after an attempt deadline.
func (c *Client) deleteFile(name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	delURL := fmt.Sprintf("%s/v1beta/%s?key=%s", c.cfg.BaseURL, name, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, delURL, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("remote file cleanup failed", "file", name, "error", err)
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

// transportError classifies an http.Client.Do failure: deadline hits
// become TimeoutError, everything else stays a connection-level error the
// retry policy treats as transient.
func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Budget: c.cfg.Timeout}
	}
	return fmt.Errorf("%s request: %w", op, err)
}

// checkStatus turns a non-2xx reply into a ResponseError carrying the
// remote message when one can be decoded.
func (c *Client) checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := op + " failed"
	var gerr geminiErrorResponse
	if json.Unmarshal(body, &gerr) == nil && gerr.Error.Message != "" {
		reason = fmt.Sprintf("%s failed: %s", op, gerr.Error.Message)
	}

	return &ResponseError{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Body:       string(body),
	}
}

// parseModelJSON joins the candidate's text parts and parses them as one
// JSON object.
func parseModelJSON(resp generateResponse) (map[string]any, error) {
	if len(resp.Candidates) == 0 {
		return nil, &ResponseError{Reason: "no candidates in model response"}
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	text := strings.TrimSpace(b.String())
	// Models occasionally fence the JSON even when asked for a raw object.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return nil, &ResponseError{Reason: "empty model response"}
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &ResponseError{Reason: fmt.Sprintf("malformed model output: %v", err)}
	}
	return raw, nil
}

// extractSunoRequest pulls the music request out of the model's answer,
// falling back to the whole object when the model answered flat.
func extractSunoRequest(raw map[string]any) map[string]any {
	if sr, ok := raw["suno_request"].(map[string]any); ok {
		return sr
	}
	return raw
}
