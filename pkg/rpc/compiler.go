// Package rpc defines the Compiler gRPC service. Messages are plain structs
// carried by a msgpack codec.
package rpc

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype the service is served with.
const CodecName = "msgpack"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}

type CompileRequest struct {
	// Hash is the sha256 of the snapshot to compile.
	Hash string `msgpack:"hash"`
}

type CompileResponse struct {
	Graph     uint64         `msgpack:"graph"`
	Operators map[string]int `msgpack:"operators"`
	Outputs   []Output       `msgpack:"outputs"`
}

type Output struct {
	Name   string `msgpack:"name"`
	DType  string `msgpack:"dtype"`
	Shape  []int  `msgpack:"shape"`
	Device string `msgpack:"device"`
}

type CompilerServer interface {
	Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error)
}

const compileMethod = "/irtrace.v1.Compiler/Compile"

func compileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompilerServer).Compile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: compileMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompilerServer).Compile(ctx, req.(*CompileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var compilerServiceDesc = grpc.ServiceDesc{
	ServiceName: "irtrace.v1.Compiler",
	HandlerType: (*CompilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compile", Handler: compileHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "irtrace/v1/compiler",
}

func RegisterCompilerServer(s grpc.ServiceRegistrar, srv CompilerServer) {
	s.RegisterService(&compilerServiceDesc, srv)
}

type CompilerClient struct {
	cc grpc.ClientConnInterface
}

func NewCompilerClient(cc grpc.ClientConnInterface) *CompilerClient {
	return &CompilerClient{cc: cc}
}

func (c *CompilerClient) Compile(ctx context.Context, req *CompileRequest, opts ...grpc.CallOption) (*CompileResponse, error) {
	out := new(CompileResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, compileMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
