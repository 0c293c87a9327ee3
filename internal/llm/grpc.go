package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	generatorServiceName = "rca.v1.Generator"
	generatorRunMethod   = "/" + generatorServiceName + "/Run"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("generator service not serving")
)

// GRPCConfig holds configuration for the model sidecar client.
type GRPCConfig struct {
	Address          string
	Model            string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGRPCConfig returns defaults for a sidecar at addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCClient runs completions on a model sidecar over gRPC.
type GRPCClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GRPCConfig
	logger *slog.Logger
}

var _ Model = (*GRPCClient)(nil)

// NewGRPCClient connects to the sidecar and waits until it is ready.
func NewGRPCClient(cfg GRPCConfig, logger *slog.Logger) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model sidecar at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model sidecar", "address", cfg.Address)

	return &GRPCClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name reports the configured model, or the sidecar address.
func (c *GRPCClient) Name() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return "grpc:" + c.cfg.Address
}

// Close closes the gRPC connection.
func (c *GRPCClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks that the sidecar reports the generator service as serving.
func (c *GRPCClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: generatorServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Run performs one completion on the sidecar.
func (c *GRPCClient) Run(ctx context.Context, req Request) (*Result, error) {
	in, err := encodeRequest(req, c.cfg.Model)
	if err != nil {
		return nil, err
	}
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, generatorRunMethod, in, out, grpc.WaitForReady(true)); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.FailedPrecondition {
			return nil, fmt.Errorf("%w: %s", ErrStructuredOutput, st.Message())
		}
		return nil, fmt.Errorf("generator run failed: %w", err)
	}
	return decodeResult(out), nil
}

func encodeRequest(req Request, model string) (*structpb.Struct, error) {
	fields := map[string]any{
		"prompt":      req.Prompt,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
	}
	if model != "" {
		fields["model"] = model
	}
	if req.Schema != nil {
		schemaFields := make([]any, 0, len(req.Schema.Fields))
		for _, f := range req.Schema.Fields {
			schemaFields = append(schemaFields, map[string]any{
				"name":     f.Name,
				"type":     string(f.Type),
				"required": f.Required,
			})
		}
		fields["schema"] = map[string]any{"name": req.Schema.Name, "fields": schemaFields}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode generator request: %w", err)
	}
	return s, nil
}

func decodeRequest(s *structpb.Struct) Request {
	f := s.GetFields()
	req := Request{
		Prompt:      f["prompt"].GetStringValue(),
		Temperature: f["temperature"].GetNumberValue(),
		TopP:        f["top_p"].GetNumberValue(),
	}
	if sv := f["schema"].GetStructValue(); sv != nil {
		schema := &Schema{Name: sv.GetFields()["name"].GetStringValue()}
		for _, v := range sv.GetFields()["fields"].GetListValue().GetValues() {
			ff := v.GetStructValue().GetFields()
			schema.Fields = append(schema.Fields, Field{
				Name:     ff["name"].GetStringValue(),
				Type:     FieldType(ff["type"].GetStringValue()),
				Required: ff["required"].GetBoolValue(),
			})
		}
		req.Schema = schema
	}
	return req
}

func encodeResult(res *Result) (*structpb.Struct, error) {
	attrs := make(map[string]any, len(res.Attrs))
	for k, v := range res.Attrs {
		attrs[k] = v
	}
	s, err := structpb.NewStruct(map[string]any{
		"output": res.Output,
		"attrs":  attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generator result: %w", err)
	}
	return s, nil
}

func decodeResult(s *structpb.Struct) *Result {
	f := s.GetFields()
	res := &Result{Attrs: map[string]string{}}
	if v, ok := f["output"]; ok {
		res.Output = v.AsInterface()
	}
	for k, v := range f["attrs"].GetStructValue().GetFields() {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			res.Attrs[k] = sv.StringValue
		}
	}
	return res
}
