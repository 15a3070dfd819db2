package dispatch

import (
	"FlowSentinel/internal/engine/flow"
	"FlowSentinel/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Pipeline turns a batch of expired flows into verdicts. Labels are matched to
// flows by position; flows past the end of a short answer stay unclassified.
type Pipeline struct {
	dispatcher model.Dispatcher
	deadLetter *DeadLetter
	logger     *log.Entry
}

// NewPipeline creates a pipeline. deadLetter may be nil.
func NewPipeline(d model.Dispatcher, deadLetter *DeadLetter) *Pipeline {
	return &Pipeline{
		dispatcher: d,
		deadLetter: deadLetter,
		logger:     log.WithField("component", "classifier"),
	}
}

// Classify dispatches the batch and returns its verdicts in eviction order.
// Dispatch failures are logged, never returned.
func (p *Pipeline) Classify(ctx context.Context, batch []flow.Expired) model.VerdictBatch {
	id := uuid.NewString()
	vectors := make([][]float64, len(batch))
	for i, e := range batch {
		vectors[i] = e.Features
	}

	labels, err := p.dispatcher.Classify(ctx, vectors)
	if err == nil && len(labels) < len(batch) {
		err = fmt.Errorf("%w: %d of %d", ErrShortResult, len(labels), len(batch))
	}
	if err != nil {
		p.logger.WithField("batch", id).Warnf("Classification incomplete, %d of %d flows labelled: %v", min(len(labels), len(batch)), len(batch), err)
		if p.deadLetter != nil {
			ids := make([]string, len(batch))
			for i, e := range batch {
				ids[i] = e.ID
			}
			if dlErr := p.deadLetter.Record(id, ids, vectors, len(labels), err); dlErr != nil {
				p.logger.Errorf("Failed to record dead letter: %v", dlErr)
			}
		}
	}

	result := model.VerdictBatch{
		ID:        id,
		EvictedAt: time.Now(),
		Verdicts:  make([]model.Verdict, len(batch)),
	}
	for i, e := range batch {
		var label float64
		classified := i < len(labels)
		if classified {
			label = labels[i]
			verdict := "Normal"
			if label != 0 {
				verdict = "Attack"
			}
			p.logger.WithField("flow", e.ID).Infof("%s (%g)", verdict, label)
		}
		result.Verdicts[i] = e.Record.Verdict(id, e.Features, label, classified)
	}
	return result
}

func (p *Pipeline) Close() error { return p.dispatcher.Close() }
