package dispatch

import (
	"FlowSentinel/internal/model"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATS sends batches to a classifier listening on a NATS subject, using
// request-reply. Payloads use the line encoding in both directions.
type NATS struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

func NewNATS(url, subject string, timeout time.Duration) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("flowsentinel-dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Printf("Connected to NATS server at %s", url)
	return &NATS{nc: nc, subject: subject, timeout: timeout}, nil
}

func (n *NATS) Classify(ctx context.Context, vectors [][]float64) ([]float64, error) {
	var req bytes.Buffer
	if err := EncodeBatch(&req, vectors); err != nil {
		return nil, err
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	msg, err := n.nc.RequestWithContext(ctx, n.subject, req.Bytes())
	if err != nil {
		return nil, fmt.Errorf("classifier request on %s failed: %w", n.subject, err)
	}
	return DecodeLabels(bytes.NewReader(msg.Data))
}

func (n *NATS) Close() error {
	return n.nc.Drain()
}

// ServeNATS answers classification requests on subject with backend. The
// returned subscription stays active until it is unsubscribed or nc is closed.
func ServeNATS(nc *nats.Conn, subject string, backend model.Dispatcher) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		vectors, err := DecodeBatch(bytes.NewReader(msg.Data))
		if err != nil {
			log.Warnf("Dropping malformed classification request: %v", err)
			return
		}
		labels, err := backend.Classify(context.Background(), vectors)
		if err != nil {
			log.Warnf("Model failed on %d records: %v", len(vectors), err)
		}
		var reply bytes.Buffer
		if err := EncodeLabels(&reply, labels); err != nil {
			log.Errorf("Failed to encode labels: %v", err)
			return
		}
		if err := msg.Respond(reply.Bytes()); err != nil {
			log.Errorf("Failed to answer classification request: %v", err)
		}
	})
}
