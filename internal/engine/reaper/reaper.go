package reaper

import (
	"FlowSentinel/internal/engine/flow"
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

const (
	DefaultPeriod  = 20 * time.Second
	DefaultTimeout = 120 * time.Second
)

// BatchHandler receives every batch of flows evicted in one sweep. The handler
// owns the records it is given.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []flow.Expired)
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch []flow.Expired)

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []flow.Expired) { f(ctx, batch) }

type Options struct {
	Clock   clock.WithTicker
	Period  time.Duration
	Timeout time.Duration
	// PacketTime drives sweeps from Observe instead of the wall-clock ticker.
	PacketTime bool
}

// Reaper periodically evicts flows that have been idle for longer than the
// timeout and hands them to a BatchHandler.
type Reaper struct {
	table   *flow.Table
	handler BatchHandler
	clock   clock.WithTicker
	period  time.Duration
	timeout time.Duration
	packet  bool

	trigger   chan time.Time
	lastSweep atomic.Int64 // packet time of the last scheduled sweep, µs
	sweepMu   sync.Mutex
	logger    *log.Entry
}

func New(table *flow.Table, handler BatchHandler, opts Options) *Reaper {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Reaper{
		table:   table,
		handler: handler,
		clock:   opts.Clock,
		period:  opts.Period,
		timeout: opts.Timeout,
		packet:  opts.PacketTime,
		trigger: make(chan time.Time, 1),
		logger:  log.WithField("component", "reaper"),
	}
}

// Run sweeps the table until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	var tick <-chan time.Time
	if !r.packet {
		ticker := r.clock.NewTicker(r.period)
		defer ticker.Stop()
		tick = ticker.C()
	}
	r.logger.Infof("Reaper started (period %v, timeout %v, packet time %v)", r.period, r.timeout, r.packet)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return
		case <-tick:
			r.Sweep(ctx, r.clock.Now())
		case now := <-r.trigger:
			r.Sweep(ctx, now)
		}
	}
}

// Observe reports the timestamp of an ingested packet. In packet-time mode a
// sweep at that time is scheduled once a full period of packet time has passed
// since the previous one. Observe never blocks.
func (r *Reaper) Observe(ts time.Time) {
	if !r.packet {
		return
	}
	now := ts.UnixMicro()
	last := r.lastSweep.Load()
	if last == 0 {
		r.lastSweep.CompareAndSwap(0, now)
		return
	}
	if now-last < r.period.Microseconds() {
		return
	}
	if !r.lastSweep.CompareAndSwap(last, now) {
		return
	}
	select {
	case r.trigger <- ts:
	default:
	}
}

// Sweep runs one eviction cycle at now and returns the number of evicted flows.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) int {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	nowMicro := now.UnixMicro()
	timeout := r.timeout.Microseconds()

	var batch []flow.Expired
	for _, e := range r.table.Snapshot() {
		if nowMicro-e.LastSeen <= timeout {
			continue
		}
		if exp, ok := r.table.Evict(e, nowMicro, timeout); ok {
			batch = append(batch, exp)
		}
	}
	if len(batch) == 0 {
		return 0
	}
	r.logger.Debugf("Evicted %d flows, %d still tracked", len(batch), r.table.Len())
	r.handler.HandleBatch(ctx, batch)
	return len(batch)
}

// Flush hands every remaining flow to the handler as one batch.
func (r *Reaper) Flush(ctx context.Context) int {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	batch := r.table.Drain()
	if len(batch) == 0 {
		return 0
	}
	r.logger.Infof("Flushing %d remaining flows", len(batch))
	r.handler.HandleBatch(ctx, batch)
	return len(batch)
}
