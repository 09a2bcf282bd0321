package grpcserver

import (
	"context"
	"encoding/json"

	"netbuf/service"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "netbuf.diag.v1.Diagnostics"

// DiagnosticsServer is the server API of ServiceName.
type DiagnosticsServer interface {
	Report(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Persist(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Server adapts service.Diagnostics to gRPC.
type Server struct {
	svc *service.Diagnostics
}

func NewServer(svc *service.Diagnostics) *Server {
	return &Server{svc: svc}
}

// Register installs the diagnostics service on s.
func Register(s *grpc.Server, svc *service.Diagnostics) {
	s.RegisterService(&ServiceDesc, NewServer(svc))
}

func (s *Server) Report(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	r := s.svc.Snapshot()
	glog.V(1).Infof("[gRPC] Report live=%d", len(r.Live))
	return toStruct(r)
}

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.svc.Stats())
}

func (s *Server) Persist(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	seq, err := s.svc.Persist()
	if errors.Is(err, service.ErrNoStore) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		glog.Errorf("[gRPC] Persist: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	glog.Infof("[gRPC] Persist seq=%d", seq)
	return structpb.NewStruct(map[string]any{"seq": float64(seq)})
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func unaryHandler(name string, call func(DiagnosticsServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DiagnosticsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DiagnosticsServer), ctx, req.(*emptypb.Empty))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Report", DiagnosticsServer.Report),
		unaryHandler("Stats", DiagnosticsServer.Stats),
		unaryHandler("Persist", DiagnosticsServer.Persist),
	},
	Metadata: "netbuf/diag/v1/diagnostics.proto",
}
