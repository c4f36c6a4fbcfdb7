package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir = "~/.cache/snapshot-server/blobs"
	}
	snapshotBucket := os.Getenv("SNAPSHOT_BUCKET")
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.StringVar(&snapshotBucket, "snapshot-bucket", snapshotBucket, "GCS bucket holding snapshots (gs://<bucket>[/<prefix>]); empty serves the cache only")

	klog.InitFlags(nil)
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cache := &blobCache{
		local: &blobs.FileBlobstore{BaseDir: cacheDir},
	}

	if snapshotBucket != "" {
		if !strings.HasPrefix(snapshotBucket, "gs://") {
			return fmt.Errorf("SNAPSHOT_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(snapshotBucket, "gs://"), "/")
		log.Info("using GCS snapshot store", "bucket", bucket, "prefix", prefix)
		cache.upstream = &blobs.GCSBlobstore{
			Bucket: bucket,
			Prefix: prefix,
		}
	}

	s := &httpServer{
		blobCache: cache,
	}

	klog.Infof("serving on %q", listen)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	blobCache *blobCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(tokens) == 1:
		s.serveGETBlob(w, r, tokens[0])
	case len(tokens) == 2 && tokens[1] == "summary":
		s.serveGETSummary(w, r, tokens[0])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// httpStatus maps a blobCache error onto a response.
func httpStatus(err error) (int, string) {
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound, "not found"
	case codes.InvalidArgument:
		return http.StatusBadRequest, "bad request"
	}
	return http.StatusInternalServerError, "internal server error"
}

func (s *httpServer) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	p, err := s.blobCache.GetBlob(ctx, blobs.BlobInfo{Hash: hash})
	if err != nil {
		code, msg := httpStatus(err)
		if code == http.StatusInternalServerError {
			log.Error(err, "error getting blob", "hash", hash)
		}
		http.Error(w, msg, code)
		return
	}

	klog.Infof("serving blob %q", p)
	http.ServeFile(w, r, p)
}

// summary describes a snapshot without compiling it.
type summary struct {
	Hash      string         `json:"hash"`
	Operators int            `json:"operators"`
	Vars      int            `json:"vars"`
	Outputs   []string       `json:"outputs"`
	Types     map[string]int `json:"types"`
	Kinds     []string       `json:"kinds"`
}

func (s *httpServer) serveGETSummary(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	info := blobs.BlobInfo{Hash: hash}
	p, err := s.blobCache.GetBlob(ctx, info)
	if err != nil {
		code, msg := httpStatus(err)
		if code == http.StatusInternalServerError {
			log.Error(err, "error getting blob", "hash", hash)
		}
		http.Error(w, msg, code)
		return
	}

	snap, err := snapshot.ReadFile(p, info)
	if err != nil {
		log.Error(err, "error reading snapshot", "hash", hash)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	out := summary{
		Hash:      hash,
		Operators: len(snap.Oprs),
		Vars:      len(snap.Vars),
		Types:     make(map[string]int),
	}
	seen := make(map[string]bool)
	for _, o := range snap.Oprs {
		out.Types[o.Type]++
		if o.Kind != "" && !seen[o.Kind] {
			seen[o.Kind] = true
			out.Kinds = append(out.Kinds, o.Kind)
		}
	}
	sort.Strings(out.Kinds)
	for _, i := range snap.Outputs {
		if i >= 0 && i < len(snap.Vars) {
			out.Outputs = append(out.Outputs, snap.Vars[i].Name)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Error(err, "writing summary")
	}
}

// blobCache serves blobs from a local directory, filling it from upstream
// on a miss. Concurrent misses for the same hash share one download.
type blobCache struct {
	local    *blobs.FileBlobstore
	upstream blobs.BlobReader

	downloads singleflight.Group
}

// GetBlob returns the local path of the blob.
func (c *blobCache) GetBlob(ctx context.Context, info blobs.BlobInfo) (string, error) {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}

	localPath := c.local.Path(info)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking blob %q: %w", info.Hash, err)
	}

	if c.upstream == nil {
		return "", status.Errorf(codes.NotFound, "blob %q not found", info.Hash)
	}

	_, err, shared := c.downloads.Do(info.Hash, func() (any, error) {
		// The download outlives the request that started it.
		return nil, c.upstream.Download(context.WithoutCancel(ctx), info, localPath)
	})
	if err != nil {
		if errors.Is(err, blobs.ErrNotFound) {
			return "", status.Errorf(codes.NotFound, "blob %q not found", info.Hash)
		}
		return "", fmt.Errorf("fetching blob %q: %w", info.Hash, err)
	}
	log.Info("cached blob from upstream", "hash", info.Hash, "shared", shared)
	return localPath, nil
}
