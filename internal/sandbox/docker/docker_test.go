package docker

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/michaelbrown/playground/internal/sandbox"
)

func TestBootRejectsImageOutsideAllowlist(t *testing.T) {
	r := New("python:3.12-slim", sandbox.DefaultPolicy())
	_, err := r.Boot(context.Background())
	if err == nil || !strings.Contains(err.Error(), "allowlist") {
		t.Fatalf("Boot error = %v, want allowlist rejection", err)
	}
}

func TestBootArgs(t *testing.T) {
	r := New("node:22-slim", sandbox.DefaultPolicy())
	args := r.bootArgs("playground-test")

	if !slices.Contains(args, "--network=none") {
		t.Errorf("args %v should disable networking", args)
	}
	if args[len(args)-2] != "node:22-slim" || args[len(args)-1] != "infinity" {
		t.Errorf("args should end with image and sleep target, got %v", args)
	}

	r.Policy.Network = true
	if slices.Contains(r.bootArgs("x"), "--network=none") {
		t.Error("network-enabled policy should not pass --network=none")
	}
}

func TestContainerPath(t *testing.T) {
	if got := containerPath("index.js"); got != "/workspace/index.js" {
		t.Errorf("containerPath = %q", got)
	}
	if got := containerPath("../../etc/passwd"); got != "/workspace/etc/passwd" {
		t.Errorf("containerPath escaped the workspace: %q", got)
	}
}

// stepReader replays reads in order, then reports io.EOF.
type stepReader struct {
	steps []step
	reads int
}

type step struct {
	data string
	err  error
}

func (r *stepReader) Read(p []byte) (int, error) {
	if r.reads >= len(r.steps) {
		return 0, io.EOF
	}
	s := r.steps[r.reads]
	r.reads++
	return copy(p, s.data), s.err
}

func TestSendLinesSplitsLongLines(t *testing.T) {
	pipe := sandbox.NewPipe(16)
	long := strings.Repeat("x", 300000)
	if err := sendLines(strings.NewReader(long+"\nafter\n"), pipe); err != nil {
		t.Fatalf("sendLines: %v", err)
	}
	pipe.Finish(0, nil)

	var chunks []string
	for c := range pipe.Output() {
		chunks = append(chunks, c)
	}
	if len(chunks) < 2 || chunks[len(chunks)-1] != "after" {
		t.Fatalf("got %d chunks, want long line pieces then \"after\"", len(chunks))
	}
	if got := strings.Join(chunks[:len(chunks)-1], ""); got != long {
		t.Errorf("long line reassembled to %d bytes, want %d", len(got), len(long))
	}
}

func TestSendLinesDrainsAfterReadError(t *testing.T) {
	boom := errors.New("boom")
	r := &stepReader{steps: []step{
		{data: "one\n"},
		{err: boom},
		{data: "left behind\n"},
	}}
	pipe := sandbox.NewPipe(16)

	err := sendLines(r, pipe)
	if !errors.Is(err, boom) {
		t.Fatalf("sendLines error = %v, want boom", err)
	}
	if r.reads != len(r.steps) {
		t.Errorf("reader consumed %d of %d reads, want it drained", r.reads, len(r.steps))
	}
}
