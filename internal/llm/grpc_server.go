package llm

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GeneratorServer exposes a Model as the rca.v1.Generator sidecar service.
type GeneratorServer struct {
	model  Model
	logger *slog.Logger
}

type generatorService interface {
	run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var generatorServiceDesc = grpc.ServiceDesc{
	ServiceName: generatorServiceName,
	HandlerType: (*generatorService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rca/v1/generator.proto",
}

// RegisterGeneratorServer registers the generator and a health service on s.
func RegisterGeneratorServer(s *grpc.Server, model Model, logger *slog.Logger) *GeneratorServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &GeneratorServer{model: model, logger: logger}
	s.RegisterService(&generatorServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(generatorServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return srv
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(generatorService)
	if interceptor == nil {
		return s.run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generatorRunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *GeneratorServer) run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := decodeRequest(in)
	res, err := s.model.Run(ctx, req)
	if err != nil {
		if errors.Is(err, ErrStructuredOutput) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		s.logger.Error("Sidecar model run failed", "model", s.model.Name(), "error", err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	out, err := encodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
