package model

import "time"

// EngineStats is a point-in-time view of the engine counters.
type EngineStats struct {
	StartedAt       time.Time `json:"started_at"`
	ActiveFlows     int       `json:"active_flows"`
	PacketsIngested uint64    `json:"packets_ingested"`
	PacketsDropped  uint64    `json:"packets_dropped"` // malformed or not flow-trackable
	FlowsCreated    uint64    `json:"flows_created"`
	FlowsEvicted    uint64    `json:"flows_evicted"`
	Batches         uint64    `json:"batches"`
	Flagged         uint64    `json:"flagged"`
	Unclassified    uint64    `json:"unclassified"`
}
