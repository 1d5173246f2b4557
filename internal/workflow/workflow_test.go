package workflow

import (
	"context"
	"errors"
	"testing"
)

type recordingNode struct {
	name   string
	log    *[]string
	failOn string // "setup", "execute", or "" for success
}

func (n recordingNode) Name() string { return n.name }

func (n recordingNode) Setup(ctx context.Context, nodes Nodes) error {
	*n.log = append(*n.log, n.name+".setup")
	if n.failOn == "setup" {
		return errors.New("boom")
	}
	return nil
}

func (n recordingNode) Execute(ctx context.Context, nodes Nodes) error {
	*n.log = append(*n.log, n.name+".execute")
	if n.failOn == "execute" {
		return errors.New("boom")
	}
	return nil
}

func (n recordingNode) Teardown(ctx context.Context, nodes Nodes) error {
	*n.log = append(*n.log, n.name+".teardown")
	return nil
}

func TestWorkflowRunsSetupExecuteTeardownInOrder(t *testing.T) {
	var log []string
	wf := New("test",
		recordingNode{name: "a", log: &log},
		recordingNode{name: "b", log: &log},
		recordingNode{name: "c", log: &log},
	)

	outcome := wf.Run(context.Background(), Nodes{})
	if !outcome.Success() {
		t.Fatalf("expected success, got %v", outcome.Err)
	}

	want := []string{
		"a.setup", "b.setup", "c.setup",
		"a.execute", "b.execute", "c.execute",
		"c.teardown", "b.teardown", "a.teardown",
	}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %q, want %q (full log %v)", i, log[i], want[i], log)
		}
	}
}

func TestWorkflowAbortsExecuteOnFirstError(t *testing.T) {
	var log []string
	wf := New("test",
		recordingNode{name: "a", log: &log},
		recordingNode{name: "b", log: &log, failOn: "execute"},
		recordingNode{name: "c", log: &log},
	)

	outcome := wf.Run(context.Background(), Nodes{})
	if outcome.Success() {
		t.Fatalf("expected failure")
	}

	want := []string{
		"a.setup", "b.setup", "c.setup",
		"a.execute", "b.execute",
		// c.execute never runs; teardown still covers every node that had Setup called.
		"c.teardown", "b.teardown", "a.teardown",
	}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %q, want %q (full log %v)", i, log[i], want[i], log)
		}
	}
}

func TestWorkflowSetupFailureTearsDownOnlyAttemptedSetups(t *testing.T) {
	var log []string
	wf := New("test",
		recordingNode{name: "a", log: &log},
		recordingNode{name: "b", log: &log, failOn: "setup"},
		recordingNode{name: "c", log: &log},
	)

	outcome := wf.Run(context.Background(), Nodes{})
	if outcome.Success() {
		t.Fatalf("expected failure")
	}

	want := []string{
		"a.setup", "b.setup",
		// c.setup never runs since b.setup failed; execute phase never starts.
		"b.teardown", "a.teardown",
	}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %q, want %q (full log %v)", i, log[i], want[i], log)
		}
	}
}
