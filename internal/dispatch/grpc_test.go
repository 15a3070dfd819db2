package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// sumModel flags records whose fields add up to more than 10.
type sumModel struct{}

func (sumModel) Classify(_ context.Context, vectors [][]float64) ([]float64, error) {
	labels := make([]float64, len(vectors))
	for i, v := range vectors {
		var s float64
		for _, x := range v {
			s += x
		}
		if s > 10 {
			labels[i] = 1
		}
	}
	return labels, nil
}

func (sumModel) Close() error { return nil }

func startServer(t *testing.T) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterClassifierServer(srv, NewServer(sumModel{}))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	client, err := NewGRPC("passthrough:///bufnet", 5*time.Second, grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGRPC_RoundTrip(t *testing.T) {
	client := startServer(t)
	labels, err := client.Classify(context.Background(), [][]float64{{1, 2, 3}, {10, 0.5}, {}})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	want := []float64{0, 1, 0}
	if len(labels) != len(want) {
		t.Fatalf("Classify() = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d = %v, want %v", i, labels[i], want[i])
		}
	}
}

func TestServer_RejectsNonNumericRows(t *testing.T) {
	bad := &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("nope")}}
	_, err := NewServer(sumModel{}).Classify(context.Background(), bad)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestRows_RoundTrip(t *testing.T) {
	in := [][]float64{{1.5, -2}, {0}}
	out, err := DecodeRows(EncodeRows(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0][0] != 1.5 || out[0][1] != -2 || out[1][0] != 0 {
		t.Errorf("DecodeRows(EncodeRows()) = %v", out)
	}
}
