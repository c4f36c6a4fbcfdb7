package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/klog/v2"
)

// Publish encodes net and uploads it to store, keyed by the sha256 of the
// encoding.
func Publish(ctx context.Context, store blobs.Blobstore, net *ir.Network) (blobs.BlobInfo, error) {
	log := klog.FromContext(ctx)

	s, err := FromNetwork(net)
	if err != nil {
		return blobs.BlobInfo{}, err
	}

	f, err := os.CreateTemp("", "snapshot")
	if err != nil {
		return blobs.BlobInfo{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := Encode(f, s); err != nil {
		f.Close()
		return blobs.BlobInfo{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return blobs.BlobInfo{}, fmt.Errorf("closing temp file: %w", err)
	}

	info, err := blobs.HashFile(f.Name())
	if err != nil {
		return blobs.BlobInfo{}, err
	}
	if err := store.Upload(ctx, f.Name(), info); err != nil {
		return blobs.BlobInfo{}, fmt.Errorf("uploading snapshot: %w", err)
	}

	log.Info("published snapshot", "hash", info.Hash, "operators", len(s.Oprs), "vars", len(s.Vars))
	return info, nil
}

// Fetch downloads the snapshot identified by info into dir, checks its hash
// and decodes it.
func Fetch(ctx context.Context, reader blobs.BlobReader, info blobs.BlobInfo, dir string) (*Snapshot, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	p := FetchPath(dir, info)
	if err := reader.Download(ctx, info, p); err != nil {
		return nil, err
	}
	return ReadFile(p, info)
}

// FetchPath is where Fetch stores the snapshot identified by info.
func FetchPath(dir string, info blobs.BlobInfo) string {
	return filepath.Join(dir, info.Hash+".msgpack")
}

// ReadFile decodes the snapshot at p. A non-empty want.Hash must match the
// file's content.
func ReadFile(p string, want blobs.BlobInfo) (*Snapshot, error) {
	if want.Hash != "" {
		got, err := blobs.HashFile(p)
		if err != nil {
			return nil, err
		}
		if got.Hash != want.Hash {
			return nil, fmt.Errorf("snapshot %q has hash %s, expected %s", p, got.Hash, want.Hash)
		}
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
