package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(Config{
		APIKey:  "test-key-12345678",
		BaseURL: baseURL,
		Model:   "gemini-1.5-flash",
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})
	c.retryBackoff = 10 * time.Millisecond
	c.pollInterval = 5 * time.Millisecond
	return c
}

func testVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reduced.mp4")
	if err := os.WriteFile(path, []byte("not really mp4 bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func modelAnswer(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": text}},
			},
		}},
		"modelVersion": "gemini-1.5-flash-002",
	}
}

func TestAnalyzeFullFlow(t *testing.T) {
	var uploads, generates, deletes int
	var uploadProtocol, uploadKey string
	var generateBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			uploads++
			uploadProtocol = r.Header.Get("X-Goog-Upload-Protocol")
			uploadKey = r.URL.Query().Get("key")
			json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{
				"name":  "files/abc123",
				"uri":   "https://files.example/abc123",
				"state": "ACTIVE",
			}})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":generateContent"):
			generates++
			generateBody, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(modelAnswer(`{"scene":"a dog runs on a beach","mood":"joyful","suno_request":{"title":"Sunlit Sprint","customMode":true}}`))
		case r.Method == http.MethodDelete:
			deletes++
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	result, err := c.Analyze(context.Background(), testVideo(t), "Look at him go!")
	if err != nil {
		t.Fatalf("Analyze() returned error: %v", err)
	}

	if result.Raw["scene"] != "a dog runs on a beach" {
		t.Errorf("Raw[scene] = %v", result.Raw["scene"])
	}
	if result.SunoRequest["title"] != "Sunlit Sprint" {
		t.Errorf("SunoRequest[title] = %v", result.SunoRequest["title"])
	}
	if result.ModelVersion != "gemini-1.5-flash-002" {
		t.Errorf("ModelVersion = %q", result.ModelVersion)
	}

	if uploads != 1 || generates != 1 || deletes != 1 {
		t.Errorf("request counts = %d uploads, %d generates, %d deletes, want 1 each",
			uploads, generates, deletes)
	}
	if uploadProtocol != "raw" {
		t.Errorf("upload protocol = %q, want raw", uploadProtocol)
	}
	if uploadKey != "test-key-12345678" {
		t.Errorf("upload key = %q", uploadKey)
	}

	body := string(generateBody)
	if !strings.Contains(body, "https://files.example/abc123") {
		t.Error("generate request does not reference the uploaded file")
	}
	if !strings.Contains(body, "Look at him go!") {
		t.Error("generate request does not include the transcript")
	}
	if !strings.Contains(body, "application/json") {
		t.Error("generate request does not ask for JSON output")
	}
}

func TestAnalyzePollsUntilActive(t *testing.T) {
	var polls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{
				"name":  "files/abc123",
				"uri":   "https://files.example/abc123",
				"state": "PROCESSING",
			}})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1beta/files/"):
			polls++
			state := "PROCESSING"
			if polls >= 2 {
				state = "ACTIVE"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"uri":   "https://files.example/abc123",
				"state": state,
			})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":generateContent"):
			json.NewEncoder(w).Encode(modelAnswer(`{"mood":"calm"}`))
		case r.Method == http.MethodDelete:
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	result, err := c.Analyze(context.Background(), testVideo(t), "")
	if err != nil {
		t.Fatalf("Analyze() returned error: %v", err)
	}
	if polls < 2 {
		t.Errorf("polls = %d, want at least 2", polls)
	}
	if result.Raw["mood"] != "calm" {
		t.Errorf("Raw[mood] = %v", result.Raw["mood"])
	}
}

func TestAnalyzeRetriesTransient(t *testing.T) {
	var uploads, generates int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			uploads++
			json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{
				"name":  "files/abc123",
				"uri":   "https://files.example/abc123",
				"state": "ACTIVE",
			}})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":generateContent"):
			generates++
			if generates == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "internal"}})
				return
			}
			json.NewEncoder(w).Encode(modelAnswer(`{"mood":"tense"}`))
		case r.Method == http.MethodDelete:
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	result, err := c.Analyze(context.Background(), testVideo(t), "")
	if err != nil {
		t.Fatalf("Analyze() returned error after retry: %v", err)
	}
	if result.Raw["mood"] != "tense" {
		t.Errorf("Raw[mood] = %v", result.Raw["mood"])
	}
	// The whole attempt is retried, upload included.
	if uploads != 2 || generates != 2 {
		t.Errorf("uploads = %d, generates = %d, want 2 each", uploads, generates)
	}
}

func TestAnalyzeClientErrorNotRetried(t *testing.T) {
	var uploads int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "key not valid"}})
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.Analyze(context.Background(), testVideo(t), "")

	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("Analyze() error = %v, want *ResponseError", err)
	}
	if rerr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", rerr.StatusCode)
	}
	if !strings.Contains(rerr.Reason, "key not valid") {
		t.Errorf("Reason = %q, want remote message included", rerr.Reason)
	}
	if uploads != 1 {
		t.Errorf("uploads = %d, want 1 (no retry on 4xx)", uploads)
	}
}

func TestAnalyzeExhaustedRetries(t *testing.T) {
	var uploads int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.Analyze(context.Background(), testVideo(t), "")

	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("Analyze() error = %v, want *ResponseError", err)
	}
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2 (one retry then give up)", uploads)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	var uploads int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	c.cfg.Timeout = 50 * time.Millisecond

	_, err := c.Analyze(context.Background(), testVideo(t), "")

	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Analyze() error = %v, want *TimeoutError", err)
	}
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2 (timeout is retried once)", uploads)
	}
}

func TestAnalyzeIngestionFailed(t *testing.T) {
	var generates int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{
				"name":  "files/abc123",
				"state": "FAILED",
			}})
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":generateContent"):
			generates++
		case r.Method == http.MethodDelete:
		default:
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.Analyze(context.Background(), testVideo(t), "")

	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("Analyze() error = %v, want *ResponseError", err)
	}
	if generates != 0 {
		t.Error("generate was called for a failed ingestion")
	}
}

func TestParseModelJSON(t *testing.T) {
	makeResp := func(text string) generateResponse {
		var resp generateResponse
		raw := fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	t.Run("plain json", func(t *testing.T) {
		raw, err := parseModelJSON(makeResp(`{"mood":"calm"}`))
		if err != nil {
			t.Fatalf("parseModelJSON() returned error: %v", err)
		}
		if raw["mood"] != "calm" {
			t.Errorf("mood = %v", raw["mood"])
		}
	})

	t.Run("fenced json", func(t *testing.T) {
		raw, err := parseModelJSON(makeResp("```json\n{\"mood\":\"calm\"}\n```"))
		if err != nil {
			t.Fatalf("parseModelJSON() returned error: %v", err)
		}
		if raw["mood"] != "calm" {
			t.Errorf("mood = %v", raw["mood"])
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		if _, err := parseModelJSON(generateResponse{}); err == nil {
			t.Error("parseModelJSON() succeeded with no candidates")
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, err := parseModelJSON(makeResp("a lovely video about dogs")); err == nil {
			t.Error("parseModelJSON() succeeded on prose")
		}
	})
}

func TestExtractSunoRequest(t *testing.T) {
	nested := map[string]any{
		"mood":         "calm",
		"suno_request": map[string]any{"title": "Drift"},
	}
	if got := extractSunoRequest(nested); got["title"] != "Drift" {
		t.Errorf("nested extraction = %v", got)
	}

	flat := map[string]any{"title": "Drift", "style": "ambient"}
	if got := extractSunoRequest(flat); got["title"] != "Drift" {
		t.Errorf("flat extraction = %v", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &ResponseError{StatusCode: 503}, true},
		{"client error", &ResponseError{StatusCode: 400}, false},
		{"malformed response", &ResponseError{StatusCode: 200, Reason: "malformed model output"}, false},
		{"timeout", &TimeoutError{Op: "upload"}, true},
		{"connection error", &url.Error{Op: "Post", Err: errors.New("connection refused")}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	withSpeech := buildPrompt("We made it to the summit!")
	if !strings.Contains(withSpeech, "We made it to the summit!") {
		t.Error("prompt does not include the transcript")
	}
	if !strings.Contains(withSpeech, "suno_request") {
		t.Error("prompt does not describe the expected response shape")
	}

	silent := buildPrompt("")
	if !strings.Contains(silent, "No speech was detected") {
		t.Error("silent prompt does not flag the missing transcript")
	}
}
