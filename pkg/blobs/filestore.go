package blobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// FileBlobstore keeps blobs as files named by their hash under BaseDir.
type FileBlobstore struct {
	BaseDir string
}

var _ Blobstore = (*FileBlobstore)(nil)

func (s *FileBlobstore) Path(info BlobInfo) string {
	return filepath.Join(s.BaseDir, info.Hash)
}

func (s *FileBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return err
	}
	dest := s.Path(info)
	if _, err := os.Stat(dest); err == nil {
		log.V(2).Info("blob already stored", "path", dest)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %q: %w", dest, err)
	}

	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", s.BaseDir, err)
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, dest)
	if err != nil {
		return err
	}
	log.Info("stored blob", "path", dest, "bytes", n)
	return nil
}

func (s *FileBlobstore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	if err := info.Validate(); err != nil {
		return err
	}
	src, err := os.Open(s.Path(info))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", info.Hash, ErrNotFound)
		}
		return err
	}
	defer src.Close()

	_, err = writeToFile(ctx, src, destPath)
	return err
}
