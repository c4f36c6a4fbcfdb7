package blobs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"k8s.io/klog/v2"
)

// HTTPBlobReader downloads blobs from a snapshot server.
type HTTPBlobReader struct {
	// BaseURL is the base URL of the server, typically http://snapshot-server
	BaseURL *url.URL

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ BlobReader = &HTTPBlobReader{}

func (r *HTTPBlobReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	if err := info.Validate(); err != nil {
		return err
	}
	u := r.BaseURL.JoinPath(info.Hash).String()
	if err := r.downloadToFile(ctx, u, destPath); err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}
	return nil
}

func (r *HTTPBlobReader) downloadToFile(ctx context.Context, u string, destPath string) error {
	log := klog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	log.Info("downloading snapshot", "url", u)
	startedAt := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("unexpected status downloading snapshot: %v", resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath)
	if err != nil {
		return err
	}

	log.Info("downloaded snapshot", "url", u, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
