package model

import "context"

// Dispatcher hands a batch of feature vectors to a classifier and returns one label
// per vector, in order. A classifier may return fewer labels than vectors; callers
// correlate by index and treat the missing tail as unclassified.
type Dispatcher interface {
	Classify(ctx context.Context, vectors [][]float64) ([]float64, error)
	Close() error
}
