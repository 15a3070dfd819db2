package model

import "context"

// Writer defines a generic interface for persisting classified flows.
type Writer interface {
	// Write persists one batch of verdicts.
	Write(ctx context.Context, batch VerdictBatch) error

	// Name identifies the writer in logs.
	Name() string
}
