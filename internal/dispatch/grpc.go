package dispatch

import (
	"FlowSentinel/internal/model"
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	classifierService = "flowsentinel.v1.Classifier"
	classifyMethod    = "/" + classifierService + "/Classify"
	MaxMessageSize    = 64 * 1024 * 1024
)

// ClassifierServer is the server side of the classifier RPC. A request is a list
// of rows, each row a list of feature values; the response is a flat list of
// labels in row order.
type ClassifierServer interface {
	Classify(ctx context.Context, rows *structpb.ListValue) (*structpb.ListValue, error)
}

func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierService,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowsentinel/v1/classifier.proto",
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Classify(ctx, req.(*structpb.ListValue))
	}
	return interceptor(ctx, in, info, handler)
}

// EncodeRows converts feature vectors to the RPC request form.
func EncodeRows(vectors [][]float64) *structpb.ListValue {
	rows := &structpb.ListValue{Values: make([]*structpb.Value, len(vectors))}
	for i, v := range vectors {
		row := &structpb.ListValue{Values: make([]*structpb.Value, len(v))}
		for j, x := range v {
			row.Values[j] = structpb.NewNumberValue(x)
		}
		rows.Values[i] = structpb.NewListValue(row)
	}
	return rows
}

// DecodeRows is the inverse of EncodeRows.
func DecodeRows(rows *structpb.ListValue) ([][]float64, error) {
	vectors := make([][]float64, len(rows.GetValues()))
	for i, rv := range rows.GetValues() {
		row := rv.GetListValue()
		if row == nil {
			return nil, fmt.Errorf("row %d is not a list", i)
		}
		v := make([]float64, len(row.GetValues()))
		for j, x := range row.GetValues() {
			if _, ok := x.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, fmt.Errorf("row %d field %d is not a number", i, j+1)
			}
			v[j] = x.GetNumberValue()
		}
		vectors[i] = v
	}
	return vectors, nil
}

func encodeLabelList(labels []float64) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, len(labels))}
	for i, l := range labels {
		out.Values[i] = structpb.NewNumberValue(l)
	}
	return out
}

func decodeLabelList(list *structpb.ListValue) ([]float64, error) {
	labels := make([]float64, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return labels, fmt.Errorf("%w: %v", ErrBadLabel, v)
		}
		labels = append(labels, v.GetNumberValue())
	}
	return labels, nil
}

// GRPC sends batches to a remote classifier service.
type GRPC struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPC creates a client for addr. Extra options are appended to the
// defaults, so tests can swap the dialer.
func NewGRPC(addr string, timeout time.Duration, extra ...grpc.DialOption) (*GRPC, error) {
	kaParams := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             timeout,
		PermitWithoutStream: true,
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(addr, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to classifier service: %w", err)
	}
	return &GRPC{conn: conn, timeout: timeout}, nil
}

func (g *GRPC) Classify(ctx context.Context, vectors [][]float64) ([]float64, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out := new(structpb.ListValue)
	if err := g.conn.Invoke(ctx, classifyMethod, EncodeRows(vectors), out); err != nil {
		return nil, fmt.Errorf("classifier RPC failed: %w", err)
	}
	return decodeLabelList(out)
}

func (g *GRPC) Close() error { return g.conn.Close() }

// Server exposes a Dispatcher, typically an Exec model, as a ClassifierServer.
type Server struct {
	backend model.Dispatcher
}

func NewServer(backend model.Dispatcher) *Server {
	return &Server{backend: backend}
}

func (s *Server) Classify(ctx context.Context, rows *structpb.ListValue) (*structpb.ListValue, error) {
	vectors, err := DecodeRows(rows)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	labels, err := s.backend.Classify(ctx, vectors)
	if err != nil && len(labels) == 0 {
		log.Warnf("Model failed on %d records: %v", len(vectors), err)
		return nil, status.Errorf(codes.Unavailable, "model failed: %v", err)
	}
	return encodeLabelList(labels), nil
}
