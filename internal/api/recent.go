package api

import (
	"FlowSentinel/internal/model"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// RecentVerdicts keeps the newest verdicts by flow id, forgetting the oldest
// once capacity is reached.
type RecentVerdicts struct {
	capacity int
	byFlow   cmap.ConcurrentMap[string, model.Verdict]

	mu    sync.Mutex
	order []string // oldest first
}

// NewRecentVerdicts creates a store holding at most capacity verdicts.
func NewRecentVerdicts(capacity int) *RecentVerdicts {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RecentVerdicts{
		capacity: capacity,
		byFlow:   cmap.New[model.Verdict](),
		order:    make([]string, 0, capacity),
	}
}

// Add stores every verdict of the batch. A flow id seen again replaces its
// earlier verdict and moves to the newest position.
func (r *RecentVerdicts) Add(batch model.VerdictBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range batch.Verdicts {
		if r.byFlow.Has(v.FlowID) {
			r.remove(v.FlowID)
		}
		for len(r.order) >= r.capacity {
			r.byFlow.Remove(r.order[0])
			r.order = r.order[1:]
		}
		r.byFlow.Set(v.FlowID, v)
		r.order = append(r.order, v.FlowID)
	}
}

func (r *RecentVerdicts) remove(id string) {
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.byFlow.Remove(id)
}

// Get returns the stored verdict of a flow.
func (r *RecentVerdicts) Get(flowID string) (model.Verdict, bool) {
	return r.byFlow.Get(flowID)
}

// List returns up to limit verdicts, newest first. With flaggedOnly set, only
// flows the classifier marked as attacks are returned.
func (r *RecentVerdicts) List(limit int, flaggedOnly bool) []model.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Verdict, 0, min(limit, len(r.order)))
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		v, ok := r.byFlow.Get(r.order[i])
		if !ok || (flaggedOnly && !v.Flagged()) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (r *RecentVerdicts) Len() int { return r.byFlow.Count() }
