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
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	snapshotHash := os.Getenv("SNAPSHOT")
	flag.StringVar(&snapshotHash, "snapshot", snapshotHash, "sha256 of the snapshot to fetch.")

	snapshotServer := os.Getenv("SNAPSHOT_SERVER")
	if snapshotServer == "" {
		snapshotServer = "http://snapshot-server"
	}
	flag.StringVar(&snapshotServer, "snapshot-server", snapshotServer, "base url to snapshot server")

	downloadDir := os.TempDir()
	flag.StringVar(&downloadDir, "download-dir", downloadDir, "directory to download snapshots into")

	klog.InitFlags(nil)

	flag.Parse()

	if snapshotHash == "" {
		return fmt.Errorf("must specify --snapshot or SNAPSHOT env var")
	}

	serverURL, err := url.Parse(snapshotServer)
	if err != nil {
		return fmt.Errorf("parsing snapshot server url %q: %w", snapshotServer, err)
	}

	fetcher := &SnapshotFetcher{
		reader:              &blobs.HTTPBlobReader{BaseURL: serverURL},
		maxDownloadAttempts: 5,
		retryInterval:       5 * time.Second,
	}

	info := blobs.BlobInfo{Hash: snapshotHash}
	snap, err := fetcher.fetch(ctx, info, downloadDir)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}

	net, err := snap.ToNetwork(ctx)
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}

	target := fallback.New()
	if err := net.Compile(ctx, target); err != nil {
		return fmt.Errorf("compiling snapshot: %w", err)
	}

	klog.Infof("compiled snapshot %s into graph %d", info.Hash, target.ID())
	for _, line := range describe(net) {
		klog.Info(line)
	}
	return nil
}

// describe lists operator counts by type and the network outputs.
func describe(net *ir.Network) []string {
	counts := make(map[string]int)
	for _, n := range net.Oprs() {
		counts[n.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	var lines []string
	for _, t := range types {
		lines = append(lines, fmt.Sprintf("%-24s %d", t, counts[t]))
	}
	for _, out := range net.Outputs {
		lines = append(lines, fmt.Sprintf("output %q dtype=%s shape=%v", out.Name, out.DType(), out.Shape()))
	}
	return lines
}

type SnapshotFetcher struct {
	// reader is the interface to fetch blobs
	reader blobs.BlobReader

	// maxDownloadAttempts is the number of times to attempt a download before failing
	maxDownloadAttempts int

	retryInterval time.Duration
}

func (l *SnapshotFetcher) fetch(ctx context.Context, info blobs.BlobInfo, dir string) (*snapshot.Snapshot, error) {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		snap, err := snapshot.Fetch(ctx, l.reader, info, dir)
		if err == nil {
			return snap, nil
		}

		if errors.Is(err, blobs.ErrNotFound) || attempt >= l.maxDownloadAttempts {
			return nil, err
		}

		log.Error(err, "fetching snapshot, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}
