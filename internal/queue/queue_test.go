package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cliptune/cliptune-server/internal/pipeline"
)

func testJob(id string) pipeline.Job {
	return pipeline.Job{
		ID:               id,
		OriginalFilename: "clip.mp4",
		SourcePath:       "/tmp/cliptune/" + id + "/source-clip.mp4",
		WorkDir:          "/tmp/cliptune/" + id,
		Size:             1024,
		ReceivedAt:       time.Now().UTC(),
	}
}

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemoryQueue(4)
	defer q.Close()

	want := testJob("job-1")
	if err := q.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish() returned error: %v", err)
	}

	select {
	case got := <-q.Jobs():
		if got.ID != want.ID {
			t.Errorf("received job %q, want %q", got.ID, want.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no job received")
	}
}

func TestInMemoryPublishFull(t *testing.T) {
	q := NewInMemoryQueue(1)
	defer q.Close()

	if err := q.Publish(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("first Publish() returned error: %v", err)
	}

	err := q.Publish(context.Background(), testJob("job-2"))
	if !errors.Is(err, ErrFull) {
		t.Errorf("second Publish() = %v, want ErrFull", err)
	}
}

func TestInMemoryPublishAfterClose(t *testing.T) {
	q := NewInMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	err := q.Publish(context.Background(), testJob("job-1"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close = %v, want ErrClosed", err)
	}

	// Close is idempotent.
	if err := q.Close(); err != nil {
		t.Errorf("second Close() returned error: %v", err)
	}
}

func TestInMemoryCloseDrainsBuffered(t *testing.T) {
	q := NewInMemoryQueue(2)
	if err := q.Publish(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("Publish() returned error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	var received []string
	for job := range q.Jobs() {
		received = append(received, job.ID)
	}
	if len(received) != 1 || received[0] != "job-1" {
		t.Errorf("drained jobs = %v, want [job-1]", received)
	}
}

func TestEncodeDecodeJob(t *testing.T) {
	want := testJob("round-trip")
	raw, err := encodeJob(want)
	if err != nil {
		t.Fatalf("encodeJob() returned error: %v", err)
	}

	got, err := decodeJob(raw)
	if err != nil {
		t.Fatalf("decodeJob() returned error: %v", err)
	}
	if got.ID != want.ID || got.SourcePath != want.SourcePath || got.Size != want.Size {
		t.Errorf("decoded job %+v does not match original %+v", got, want)
	}
}

func TestDecodeJobInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{{{"},
		{"missing id", `{"original_filename":"clip.mp4"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeJob(tt.raw); err == nil {
				t.Errorf("decodeJob(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestQueueInterfaceCompliance(t *testing.T) {
	var _ Queue = (*InMemoryQueue)(nil)
	var _ Queue = (*RedisQueue)(nil)
}
