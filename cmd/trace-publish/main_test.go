package main

import (
	"context"
	"testing"

	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
)

func TestTraceExamplePublishes(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()
	outputs, root, err := traceExample(ctx, g)
	if err != nil {
		t.Fatalf("traceExample: %v", err)
	}

	// relu and norm at the top level, one linear per dense layer.
	if len(root.Nodes) != 2 || countScopes(root) != 3 || root.Len() != 4 {
		t.Errorf("unexpected trace: %d top-level nodes, %d scopes, %d calls", len(root.Nodes), countScopes(root), root.Len())
	}

	net, err := ir.Load(ctx, outputs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(net.OprsByType("ImmutableTensor")); got != 3 {
		t.Errorf("expected 3 constants, got %d", got)
	}

	store, err := openStore(t.TempDir())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	info, err := snapshot.Publish(ctx, store, net)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := info.Validate(); err != nil {
		t.Errorf("unexpected hash: %v", err)
	}
}
