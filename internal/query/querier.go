package query

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/writer"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ErrFlowNotFound is returned by TraceFlow for flows with no stored verdict.
var ErrFlowNotFound = errors.New("flow not found")

// Querier reads classified flows back from the verdict store.
type Querier interface {
	Summarize(ctx context.Context, req SummaryRequest) ([]ProtocolSummary, error)
	TraceFlow(ctx context.Context, flowID string) (*FlowHistory, error)
}

// SummaryRequest restricts a summary to an eviction window and, optionally, a protocol.
type SummaryRequest struct {
	Since    time.Time
	Until    time.Time
	Protocol string
}

// ProtocolSummary counts the verdicts of one protocol.
type ProtocolSummary struct {
	Protocol   string `json:"protocol"`
	Flows      uint64 `json:"flows"`
	Classified uint64 `json:"classified"`
	Flagged    uint64 `json:"flagged"`
}

// FlowHistory aggregates every verdict stored for one flow id. A conversation
// that went idle and resumed is evicted, and classified, more than once.
type FlowHistory struct {
	FlowID    string    `json:"flow_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Verdicts  uint64    `json:"verdicts"`
	Flagged   uint64    `json:"flagged"`
	MaxLabel  float64   `json:"max_label"`
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := writer.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func buildSummaryQuery(req SummaryRequest) (string, []any) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			Protocol,
			count() AS Flows,
			countIf(Classified) AS ClassifiedFlows,
			countIf(Classified AND Label != 0) AS FlaggedFlows
		FROM flow_verdicts`)

	var whereClauses []string
	args := []any{}
	if !req.Since.IsZero() {
		whereClauses = append(whereClauses, "EvictedAt >= ?")
		args = append(args, req.Since)
	}
	if !req.Until.IsZero() {
		whereClauses = append(whereClauses, "EvictedAt <= ?")
		args = append(args, req.Until)
	}
	if req.Protocol != "" {
		whereClauses = append(whereClauses, "Protocol = ?")
		args = append(args, strings.ToUpper(req.Protocol))
	}
	if len(whereClauses) > 0 {
		queryBuilder.WriteString("\n\t\tWHERE " + strings.Join(whereClauses, " AND "))
	}
	queryBuilder.WriteString("\n\t\tGROUP BY Protocol\n\t\tORDER BY Protocol")
	return queryBuilder.String(), args
}

// Summarize counts stored verdicts per protocol.
func (q *clickhouseQuerier) Summarize(ctx context.Context, req SummaryRequest) ([]ProtocolSummary, error) {
	query, args := buildSummaryQuery(req)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var summaries []ProtocolSummary
	for rows.Next() {
		var s ProtocolSummary
		if err := rows.Scan(&s.Protocol, &s.Flows, &s.Classified, &s.Flagged); err != nil {
			return nil, fmt.Errorf("failed to scan summary result: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

const traceFlowQuery = `
		SELECT
			min(FirstSeen) AS FirstSeen,
			max(LastSeen) AS LastSeen,
			count() AS Verdicts,
			countIf(Classified AND Label != 0) AS FlaggedVerdicts,
			max(Label) AS MaxLabel
		FROM flow_verdicts
		WHERE FlowID = ?`

// TraceFlow aggregates the stored verdicts of a single flow.
func (q *clickhouseQuerier) TraceFlow(ctx context.Context, flowID string) (*FlowHistory, error) {
	result := FlowHistory{FlowID: flowID}
	row := q.conn.QueryRow(ctx, traceFlowQuery, flowID)
	if err := row.Scan(&result.FirstSeen, &result.LastSeen, &result.Verdicts, &result.Flagged, &result.MaxLabel); err != nil {
		return nil, fmt.Errorf("failed to scan flow history result: %w", err)
	}
	if result.Verdicts == 0 {
		return nil, ErrFlowNotFound
	}
	return &result, nil
}
