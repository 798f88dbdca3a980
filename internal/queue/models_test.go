package queue_test

import (
	"testing"

	"telecine/internal/queue"
)

func TestResumableCheckpoint(t *testing.T) {
	cases := []struct {
		state    queue.FileState
		expected queue.FileState
	}{
		{queue.FileCopying, queue.FileDiscovered},
		{queue.FileProcessing, queue.FileCopied},
		{queue.FileOrganizing, queue.FileProcessed},
		{queue.FileDiscovered, queue.FileDiscovered},
		{queue.FileCopied, queue.FileCopied},
		{queue.FileCompleted, queue.FileCompleted},
	}
	for _, tc := range cases {
		if got := queue.ResumableCheckpoint(tc.state); got != tc.expected {
			t.Fatalf("checkpoint for %s: expected %s, got %s", tc.state, tc.expected, got)
		}
	}
}

func TestJobKindChain(t *testing.T) {
	order := []queue.JobKind{queue.JobCopy, queue.JobProcess, queue.JobOrganize, queue.JobTranscribe, queue.JobAnalyze}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok || next != order[i+1] {
			t.Fatalf("expected %s to chain to %s, got %s ok=%v", order[i], order[i+1], next, ok)
		}
	}
	if _, ok := queue.JobAnalyze.Next(); ok {
		t.Fatal("analyze must be the final stage")
	}
}

func TestJobKindStates(t *testing.T) {
	if queue.JobProcess.StartState() != queue.FileCopied {
		t.Fatalf("process starts from %s", queue.JobProcess.StartState())
	}
	if queue.JobOrganize.DoneState() != queue.FileCompleted {
		t.Fatalf("organize finishes at %s", queue.JobOrganize.DoneState())
	}
	// Post-completion stages never move the file state.
	for _, kind := range []queue.JobKind{queue.JobTranscribe, queue.JobAnalyze} {
		if kind.InProgressState() != queue.FileCompleted || kind.DoneState() != queue.FileCompleted {
			t.Fatalf("%s must leave file state at completed", kind)
		}
	}
}

func TestParseFileState(t *testing.T) {
	if state, ok := queue.ParseFileState(" Failed "); !ok || state != queue.FileFailed {
		t.Fatalf("unexpected parse result: %s ok=%v", state, ok)
	}
	if _, ok := queue.ParseFileState("bogus"); ok {
		t.Fatal("expected parse failure for unknown state")
	}
}
