package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(url string) *Client {
	c := NewClient(Config{
		URL:     url,
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})
	c.retryBackoff = 10 * time.Millisecond
	return c
}

func testPayload() Payload {
	return Payload{
		Filename:    "clip.mp4",
		Analysis:    map[string]any{"mood": "joyful"},
		SunoRequest: map[string]any{"title": "Sunlit Sprint"},
		Transcript:  "Look at him go!",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliverSuccess(t *testing.T) {
	var received map[string]any
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	outcome := testClient(server.URL).Deliver(context.Background(), testPayload())

	if !outcome.Delivered {
		t.Fatalf("Delivered = false, err = %v", outcome.Err)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", outcome.StatusCode)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcome.Attempts)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if received["filename"] != "clip.mp4" {
		t.Errorf("payload filename = %v", received["filename"])
	}
	if received["transcript"] != "Look at him go!" {
		t.Errorf("payload transcript = %v", received["transcript"])
	}
	sr, ok := received["suno_request"].(map[string]any)
	if !ok || sr["title"] != "Sunlit Sprint" {
		t.Errorf("payload suno_request = %v", received["suno_request"])
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	outcome := testClient(server.URL).Deliver(context.Background(), testPayload())

	if !outcome.Delivered {
		t.Fatalf("Delivered = false after successful retry, err = %v", outcome.Err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
}

func TestDeliverServerErrorTwice(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "backend down")
	}))
	defer server.Close()

	outcome := testClient(server.URL).Deliver(context.Background(), testPayload())

	if outcome.Delivered {
		t.Fatal("Delivered = true for persistent 500s")
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", outcome.Attempts)
	}
	if outcome.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", outcome.StatusCode)
	}

	var derr *DeliveryError
	if !errors.As(outcome.Err, &derr) {
		t.Fatalf("Err = %v, want *DeliveryError", outcome.Err)
	}
	if derr.Body != "backend down" {
		t.Errorf("Body = %q", derr.Body)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
}

func TestDeliverClientErrorNotRetried(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	outcome := testClient(server.URL).Deliver(context.Background(), testPayload())

	if outcome.Delivered {
		t.Fatal("Delivered = true for a 404")
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (no retry on 4xx)", outcome.Attempts)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}

func TestDeliverConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening any more

	outcome := testClient(server.URL).Deliver(context.Background(), testPayload())

	if outcome.Delivered {
		t.Fatal("Delivered = true with no receiver")
	}
	if outcome.Err == nil {
		t.Fatal("Err = nil with no receiver")
	}
	if outcome.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (connection errors are retried)", outcome.Attempts)
	}
}

func TestDeliveryErrorIsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		err := &DeliveryError{StatusCode: tt.status}
		if got := err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable() for %d = %v, want %v", tt.status, got, tt.want)
		}
	}
}
