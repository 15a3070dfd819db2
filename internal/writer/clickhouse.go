package writer

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/model"
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_verdicts (
    BatchID     String,
    EvictedAt   DateTime,
    FlowID      String,
    Protocol    LowCardinality(String),
    ClientIP    String,
    ClientPort  UInt16,
    ServerIP    String,
    ServerPort  UInt16,
    FirstSeen   DateTime64(6),
    LastSeen    DateTime64(6),
    Classified  Bool,
    Label       Float64,
    Features    Array(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(EvictedAt)
ORDER BY (EvictedAt, FlowID);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn}, nil
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write inserts the batch into the flow_verdicts table.
func (w *ClickHouseWriter) Write(ctx context.Context, batch model.VerdictBatch) error {
	if len(batch.Verdicts) == 0 {
		return nil
	}

	b, err := w.conn.PrepareBatch(ctx, "INSERT INTO flow_verdicts")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i := range batch.Verdicts {
		if err := b.Append(verdictRow(batch, &batch.Verdicts[i])...); err != nil {
			return fmt.Errorf("failed to append verdict to batch: %w", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d verdicts to ClickHouse for batch %s", len(batch.Verdicts), batch.ID)
	return nil
}

// verdictRow lays out one verdict in flow_verdicts column order.
func verdictRow(batch model.VerdictBatch, v *model.Verdict) []any {
	return []any{
		batch.ID,
		batch.EvictedAt,
		v.FlowID,
		v.Protocol.String(),
		v.Client.IP.String(),
		v.Client.Port,
		v.Server.IP.String(),
		v.Server.Port,
		v.FirstSeen,
		v.LastSeen,
		v.Classified,
		v.Label,
		v.Features,
	}
}

func (w *ClickHouseWriter) Close() error { return w.conn.Close() }
