package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/irtrace/pkg/blobs"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/rpc"
	"k8s.io/examples/AI/irtrace/pkg/snapshot"
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
	listen := ":9876"
	flag.StringVar(&listen, "listen", listen, "listen address")

	snapshotServer := os.Getenv("SNAPSHOT_SERVER")
	if snapshotServer == "" {
		snapshotServer = "http://snapshot-server"
	}
	flag.StringVar(&snapshotServer, "snapshot-server", snapshotServer, "base url to snapshot server")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	serverURL, err := url.Parse(snapshotServer)
	if err != nil {
		return fmt.Errorf("parsing snapshot server url %q: %w", snapshotServer, err)
	}
	workDir, err := os.MkdirTemp("", "compile-server")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	grpcServer := grpc.NewServer()

	compileServer := &CompileServer{
		reader:  &blobs.HTTPBlobReader{BaseURL: serverURL},
		workDir: workDir,
	}
	rpc.RegisterCompilerServer(grpcServer, compileServer)
	log.Info("Starting compile-server", "listen", listen, "snapshotServer", snapshotServer)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}

// CompileServer compiles snapshots against a fresh graph and reports the
// result.
type CompileServer struct {
	reader  blobs.BlobReader
	workDir string
}

var _ rpc.CompilerServer = (*CompileServer)(nil)

func (s *CompileServer) Compile(ctx context.Context, req *rpc.CompileRequest) (*rpc.CompileResponse, error) {
	log := klog.FromContext(ctx)

	info := blobs.BlobInfo{Hash: req.Hash}
	if err := info.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	dir, err := os.MkdirTemp(s.workDir, "request")
	if err != nil {
		return nil, status.Errorf(codes.Internal, "creating request directory: %v", err)
	}
	defer os.RemoveAll(dir)

	snap, err := snapshot.Fetch(ctx, s.reader, info, dir)
	if err != nil {
		if errors.Is(err, blobs.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "snapshot %q not found", req.Hash)
		}
		return nil, status.Errorf(codes.Unavailable, "fetching snapshot: %v", err)
	}

	net, err := snap.ToNetwork(ctx)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "restoring snapshot: %v", err)
	}
	target := fallback.New()
	if err := net.Compile(ctx, target); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "compiling snapshot: %v", err)
	}

	resp := &rpc.CompileResponse{
		Graph:     uint64(target.ID()),
		Operators: make(map[string]int),
	}
	for _, n := range net.Oprs() {
		resp.Operators[n.Type]++
	}
	for _, out := range net.Outputs {
		if out.Var == nil {
			return nil, status.Errorf(codes.FailedPrecondition, "output %q was not compiled", out.Name)
		}
		resp.Outputs = append(resp.Outputs, rpc.Output{
			Name:   out.Name,
			DType:  string(out.DType()),
			Shape:  out.Shape(),
			Device: string(out.Var.CompNode()),
		})
	}
	log.Info("compiled snapshot", "hash", req.Hash, "operators", len(net.Oprs()), "graph", target.ID())
	return resp, nil
}
