package workflow

import (
	"context"
	"fmt"

	"github.com/leengari/pgward/internal/catalog"
	"github.com/leengari/pgward/internal/storage"
)

// StorageNode adapts a storage.Backend into a workflow Node so a backup
// or restore workflow can drive upload/download the same way it drives
// any other stage (§4.K driving §4.J).
type StorageNode struct {
	Backend storage.Backend
}

func (s StorageNode) Name() string { return s.Backend.Name() }

func (s StorageNode) Setup(ctx context.Context, nodes Nodes) error {
	return s.Backend.Setup(ctx, nodes)
}

func (s StorageNode) Execute(ctx context.Context, nodes Nodes) error {
	return s.Backend.Execute(ctx, nodes)
}

func (s StorageNode) Teardown(ctx context.Context, nodes Nodes) error {
	return s.Backend.Teardown(ctx, nodes)
}

// CatalogFinalizeNode marks its Backup valid (§4.D
// STATUS=1) once every earlier stage of a backup workflow has succeeded,
// and leaves it unmodified (implicitly invalid: STATUS defaults to its
// zero value) on any earlier failure, since Execute only runs when every
// preceding node's Execute succeeded.
type CatalogFinalizeNode struct {
	Backup *catalog.Backup
}

func (n CatalogFinalizeNode) Name() string { return "catalog-finalize" }

func (n CatalogFinalizeNode) Setup(context.Context, Nodes) error { return nil }

func (n CatalogFinalizeNode) Execute(ctx context.Context, nodes Nodes) error {
	n.Backup.Info.SetStatus(catalog.StatusValid)
	if err := n.Backup.Info.Save(); err != nil {
		return fmt.Errorf("catalog-finalize: %w", err)
	}
	return nil
}

func (n CatalogFinalizeNode) Teardown(context.Context, Nodes) error { return nil }

// FuncNode adapts a plain function into a Node for small one-off stages
// (e.g. recovery-signal writing in a restore workflow) that do not
// warrant their own type.
type FuncNode struct {
	NodeName string
	OnSetup    func(ctx context.Context, nodes Nodes) error
	OnExecute  func(ctx context.Context, nodes Nodes) error
	OnTeardown func(ctx context.Context, nodes Nodes) error
}

func (f FuncNode) Name() string { return f.NodeName }

func (f FuncNode) Setup(ctx context.Context, nodes Nodes) error {
	if f.OnSetup == nil {
		return nil
	}
	return f.OnSetup(ctx, nodes)
}

func (f FuncNode) Execute(ctx context.Context, nodes Nodes) error {
	if f.OnExecute == nil {
		return nil
	}
	return f.OnExecute(ctx, nodes)
}

func (f FuncNode) Teardown(ctx context.Context, nodes Nodes) error {
	if f.OnTeardown == nil {
		return nil
	}
	return f.OnTeardown(ctx, nodes)
}
