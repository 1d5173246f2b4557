// Package workflow implements the workflow orchestrator of §4.K: a
// linked sequence of nodes exposing name/setup/execute/teardown, threaded
// through a typed "nodes" map, with setup and execute run in registration
// order (first error aborting the remaining stages and entering teardown
// in reverse), teardown always running in reverse order regardless of
// outcome, and each stage wrapped in an OpenTelemetry span. Grounded in
// the teacher's go.mod declaring (but never importing) otel/otel-sdk/
// otel-trace/otel-metric and google/uuid — this package is their home,
// matching the "dynamic dispatch... model as a trait or an array of
// function pointers with a context" redesign note of §9.
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leengari/pgward/internal/storage"
)

// Well-known node-map keys beyond the storage-backend ones already
// declared in internal/storage (NODE_TARGET_BASE etc., reused here so a
// storage backend's Execute and a workflow node's Execute read the same
// map without translation).
const (
	NodeBackup       = "backup"
	UserPosition     = "user_position"
	UserDirectory    = "user_directory"
	NodeRecoveryInfo = "recovery_info"
	NodeCopyWAL      = "copy_wal"
	NodeLabels       = "labels"
	NodeManifest     = "manifest"
	NodeCombineAsIs  = "combine_as_is"
)

// Nodes is the typed map threaded through every stage of a workflow run
// (§4.K). It is storage.Nodes so storage backends can be driven as
// workflow nodes without an adapter layer.
type Nodes = storage.Nodes

// Node is the capability set every workflow step implements (§4.K).
type Node interface {
	Name() string
	Setup(ctx context.Context, nodes Nodes) error
	Execute(ctx context.Context, nodes Nodes) error
	Teardown(ctx context.Context, nodes Nodes) error
}

// Workflow is a named, ordered sequence of Nodes sharing one Nodes map.
type Workflow struct {
	Name  string
	Nodes []Node
}

// New builds a Workflow from its ordered node list.
func New(name string, nodes ...Node) *Workflow {
	return &Workflow{Name: name, Nodes: nodes}
}

// Outcome is the single result §7 requires workflow runs to report:
// "the outcome object records a single error code + workflow name."
type Outcome struct {
	RunID        string
	WorkflowName string
	Err          error
}

func (o Outcome) Success() bool { return o.Err == nil }

var tracer = otel.Tracer("github.com/leengari/pgward/internal/workflow")

// Run executes setup in registration order, then execute in registration
// order; the first error in either phase aborts the remaining stages of
// that phase. Teardown always runs over every node that had Setup called,
// in reverse order, regardless of outcome (§4.K).
func (w *Workflow) Run(ctx context.Context, nodes Nodes) Outcome {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "workflow."+w.Name, trace.WithAttributes(
		attribute.String("pgward.run_id", runID),
	))
	defer span.End()

	setupCount := 0
	var runErr error

	for _, n := range w.Nodes {
		setupCount++
		if err := w.runStage(ctx, n, "setup", n.Setup, nodes); err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil {
		for _, n := range w.Nodes {
			if err := w.runStage(ctx, n, "execute", n.Execute, nodes); err != nil {
				runErr = err
				break
			}
		}
	}

	for i := setupCount - 1; i >= 0; i-- {
		n := w.Nodes[i]
		if err := w.runStage(ctx, n, "teardown", n.Teardown, nodes); err != nil && runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		span.RecordError(runErr)
	}
	return Outcome{RunID: runID, WorkflowName: w.Name, Err: runErr}
}

func (w *Workflow) runStage(ctx context.Context, n Node, stage string, fn func(context.Context, Nodes) error, nodes Nodes) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("%s.%s", n.Name(), stage))
	defer span.End()
	if err := fn(ctx, nodes); err != nil {
		span.RecordError(err)
		return fmt.Errorf("workflow: %s.%s: %w", n.Name(), stage, err)
	}
	return nil
}
