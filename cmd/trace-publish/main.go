package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/functional"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
	"k8s.io/examples/AI/irtrace/pkg/trace"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	store := os.Getenv("SNAPSHOT_STORE")
	if store == "" {
		store = "./snapshots"
	}
	flag.StringVar(&store, "store", store, "where to publish: a directory or gs://<bucket>[/<prefix>]")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	blobstore, err := openStore(store)
	if err != nil {
		return err
	}

	log.Info("Starting trace-publish", "store", store)

	g := fallback.New()
	outputs, root, err := traceExample(ctx, g)
	if err != nil {
		return err
	}
	log.Info("traced example", "calls", root.Len(), "scopes", countScopes(root))

	net, err := ir.Load(ctx, outputs)
	if err != nil {
		return fmt.Errorf("loading traced graph: %w", err)
	}

	info, err := snapshot.Publish(ctx, blobstore, net)
	if err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	fmt.Println(info.Hash)
	return nil
}

func openStore(store string) (blobs.Blobstore, error) {
	if rest, ok := strings.CutPrefix(store, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("store %q has no bucket", store)
		}
		return &blobs.GCSBlobstore{Bucket: bucket, Prefix: prefix}, nil
	}
	if err := os.MkdirAll(store, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory %q: %w", store, err)
	}
	return &blobs.FileBlobstore{BaseDir: store}, nil
}

// traceExample builds norm(relu(x @ w1 + b1) @ w2) in g while tracing it.
func traceExample(ctx context.Context, g *fallback.Graph) ([]graph.VarHandle, *trace.Scope, error) {
	x, err := g.MakeH2D(ctx, graph.DefaultDevice, graph.Float32, []int{1, 3}, "x")
	if err != nil {
		return nil, nil, err
	}
	constant := func(name string, shape []int, values []float32) (graph.VarHandle, error) {
		data := graph.HostArray{DType: graph.Float32, Shape: shape, Data: values}
		return g.MakeConst(ctx, data, graph.DefaultDevice, graph.Float32, name)
	}
	w1, err := constant("w1", []int{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		return nil, nil, err
	}
	b1, err := constant("b1", []int{2}, []float32{0.5, -0.5})
	if err != nil {
		return nil, nil, err
	}
	w2, err := constant("w2", []int{2, 2}, []float32{1, 0, 0, 1})
	if err != nil {
		return nil, nil, err
	}

	layer1 := &functional.Dense{Weight: w1, Bias: b1}
	layer2 := &functional.Dense{Weight: w2}

	var out graph.VarHandle
	root, err := trace.Run(ctx, functional.NewSurface(), func(ctx context.Context, t *trace.Tracer) error {
		h, err := t.CallModule(ctx, layer1, x)
		if err != nil {
			return err
		}
		a, err := functional.Relu(ctx, h[0].(graph.VarHandle))
		if err != nil {
			return err
		}
		y, err := t.CallModule(ctx, layer2, a)
		if err != nil {
			return err
		}
		out, err = functional.Norm(ctx, y[0].(graph.VarHandle))
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("tracing example: %w", err)
	}
	out.SetName("norm")
	return []graph.VarHandle{out}, root, nil
}

func countScopes(s *trace.Scope) int {
	n := 0
	s.Walk(func(*trace.Scope) { n++ })
	return n
}
