// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
)

// flakyReader fails the first failures downloads.
type flakyReader struct {
	blobs.BlobReader
	failures int
	calls    int
}

func (r *flakyReader) Download(ctx context.Context, info blobs.BlobInfo, destPath string) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("connection reset")
	}
	return r.BlobReader.Download(ctx, info, destPath)
}

func TestFetchRetries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &blobs.FileBlobstore{BaseDir: filepath.Join(dir, "store")}

	g := fallback.New()
	x, err := g.MakeH2D(ctx, graph.DefaultDevice, graph.Float32, []int{2}, "x")
	if err != nil {
		t.Fatalf("MakeH2D: %v", err)
	}
	net, err := ir.Load(ctx, []graph.VarHandle{x})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	info, err := snapshot.Publish(ctx, store, net)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	reader := &flakyReader{BlobReader: store, failures: 2}
	f := &SnapshotFetcher{reader: reader, maxDownloadAttempts: 3, retryInterval: time.Millisecond}
	snap, err := f.fetch(ctx, info, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reader.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", reader.calls)
	}

	restored, err := snap.ToNetwork(ctx)
	if err != nil {
		t.Fatalf("ToNetwork: %v", err)
	}
	if err := restored.Compile(ctx, fallback.New()); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if lines := describe(restored); len(lines) != 2 {
		t.Errorf("unexpected summary %q", lines)
	}

	missing := blobs.BlobInfo{Hash: "0000000000000000000000000000000000000000000000000000000000000000"}
	reader = &flakyReader{BlobReader: store}
	f.reader = reader
	if _, err := f.fetch(ctx, missing, dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not found, got %v", err)
	}
	if reader.calls != 1 {
		t.Errorf("expected a missing snapshot not to be retried, got %d attempts", reader.calls)
	}
}
