package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned by Download when no blob has the requested hash.
// It matches os.ErrNotExist.
var ErrNotFound = fmt.Errorf("blob not found: %w", os.ErrNotExist)

type BlobReader interface {
	// Download writes the blob to destPath. If no such blob exists, the
	// error matches ErrNotFound.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload stores the file at sourcePath under info.Hash.
	// If a blob with the same hash already exists, Upload does nothing.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a blob by the hex sha256 of its content.
type BlobInfo struct {
	Hash string
}

func (i BlobInfo) Validate() error {
	b, err := hex.DecodeString(i.Hash)
	if err != nil || len(b) != sha256.Size {
		return fmt.Errorf("invalid blob hash %q", i.Hash)
	}
	return nil
}

// HashFile computes the BlobInfo of the file at p.
func HashFile(p string) (BlobInfo, error) {
	f, err := os.Open(p)
	if err != nil {
		return BlobInfo{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return BlobInfo{}, fmt.Errorf("hashing %q: %w", p, err)
	}
	return BlobInfo{Hash: hex.EncodeToString(h.Sum(nil))}, nil
}
