package manager

import (
	"FlowSentinel/internal/alerter"
	"FlowSentinel/internal/api"
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/dispatch"
	"FlowSentinel/internal/engine/flow"
	"FlowSentinel/internal/engine/reaper"
	"FlowSentinel/internal/factory"
	"FlowSentinel/internal/metrics"
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/notification"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Manager runs the flow table, its workers and the reaper, and routes every
// evicted batch through classification to the writers, the alerter and the
// recent-verdict store.
type Manager struct {
	table    *flow.Table
	reaper   *reaper.Reaper
	pipeline *dispatch.Pipeline
	writers  []model.Writer
	alerter  *alerter.Alerter
	recent   *api.RecentVerdicts
	metrics  *metrics.Metrics

	// Worker pool; a conversation is always handled by the same worker.
	packetChannels []chan *model.PacketInfo
	workerWg       sync.WaitGroup

	reaperCancel context.CancelFunc
	reaperWg     sync.WaitGroup
	stopOnce     sync.Once

	startedAt    time.Time
	packets      atomic.Uint64
	dropped      atomic.Uint64
	flowsCreated atomic.Uint64
	flowsEvicted atomic.Uint64
	batches      atomic.Uint64
	flagged      atomic.Uint64
	unclassified atomic.Uint64
}

// NewManager builds the engine from the configuration. Metrics are registered
// with reg.
func NewManager(cfg *config.Config, reg prometheus.Registerer) (*Manager, error) {
	pipeline, err := factory.NewPipeline(&cfg.Classifier)
	if err != nil {
		return nil, err
	}
	writers, err := factory.NewWriters(cfg.Writers)
	if err != nil {
		pipeline.Close()
		return nil, err
	}

	var alertr *alerter.Alerter
	if cfg.Alerter.Enabled {
		var notifier model.Notifier
		if cfg.Alerter.SMTP.Host != "" {
			notifier = notification.NewEmailNotifier(cfg.Alerter.SMTP)
		}
		if notifier != nil {
			alertr, err = alerter.NewAlerter(&cfg.Alerter, notifier)
			if err != nil {
				pipeline.Close()
				factory.CloseWriters(writers)
				return nil, fmt.Errorf("failed to create alerter: %w", err)
			}
			log.Println("Alerter enabled and initialized.")
		} else {
			log.Println("Alerter is enabled in config, but no notifiers are configured. Alerter will not run.")
		}
	}

	numWorkers := cfg.Engine.NumWorkers
	perWorker := max(cfg.Engine.SizeOfPacketChannel/numWorkers, 1)
	m := &Manager{
		table:          flow.NewTable(cfg.Engine.NumShards),
		pipeline:       pipeline,
		writers:        writers,
		alerter:        alertr,
		recent:         api.NewRecentVerdicts(cfg.API.RecentVerdicts),
		metrics:        metrics.New(reg),
		packetChannels: make([]chan *model.PacketInfo, numWorkers),
	}
	for i := range m.packetChannels {
		m.packetChannels[i] = make(chan *model.PacketInfo, perWorker)
	}

	timeout, period := cfg.Engine.Durations()
	m.reaper = reaper.New(m.table, reaper.BatchHandlerFunc(m.handleBatch), reaper.Options{
		Period:     period,
		Timeout:    timeout,
		PacketTime: cfg.Engine.PacketTime(),
	})
	return m, nil
}

// Start launches the workers, the reaper and the alerter.
func (m *Manager) Start() {
	m.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	m.reaperCancel = cancel
	m.reaperWg.Add(1)
	go func() {
		defer m.reaperWg.Done()
		m.reaper.Run(ctx)
	}()

	if m.alerter != nil {
		m.alerter.Start()
	}

	m.workerWg.Add(len(m.packetChannels))
	for _, ch := range m.packetChannels {
		go m.worker(ch)
	}
	log.Printf("Manager started with %d workers.", len(m.packetChannels))
}

// Submit queues a packet for ingestion, blocking while its worker's queue is
// full. Packets that cannot be tied to a conversation are counted and dropped.
// Submit must not be called after Stop.
func (m *Manager) Submit(p *model.PacketInfo) {
	h, err := flow.ConversationHash(p)
	if err != nil {
		m.drop()
		return
	}
	m.packetChannels[h%uint32(len(m.packetChannels))] <- p
}

func (m *Manager) worker(ch <-chan *model.PacketInfo) {
	defer m.workerWg.Done()
	for p := range ch {
		_, created, err := m.table.Ingest(p)
		if err != nil {
			m.drop()
			continue
		}
		m.packets.Add(1)
		m.metrics.PacketsTotal.WithLabelValues(p.Protocol.String()).Inc()
		if created {
			m.flowsCreated.Add(1)
			m.metrics.FlowsCreated.Inc()
		}
		m.reaper.Observe(p.Timestamp)
	}
}

func (m *Manager) drop() {
	m.dropped.Add(1)
	m.metrics.MalformedPackets.Inc()
}

// handleBatch classifies one evicted batch and fans the verdicts out. It runs
// on the reaper goroutine, so batches are handled one at a time.
func (m *Manager) handleBatch(ctx context.Context, expired []flow.Expired) {
	start := time.Now()
	m.flowsEvicted.Add(uint64(len(expired)))
	m.metrics.FlowsEvicted.Add(float64(len(expired)))

	// Delivery is not tied to the reaper's lifetime, so the final flush still
	// reaches the classifier after the reaper has been cancelled.
	batch := m.pipeline.Classify(context.WithoutCancel(ctx), expired)
	m.metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	var flagged, unclassified int
	for i := range batch.Verdicts {
		v := &batch.Verdicts[i]
		switch {
		case !v.Classified:
			unclassified++
		case v.Flagged():
			flagged++
		}
	}
	m.batches.Add(1)
	m.flagged.Add(uint64(flagged))
	m.unclassified.Add(uint64(unclassified))
	m.metrics.VerdictsTotal.WithLabelValues("attack").Add(float64(flagged))
	m.metrics.VerdictsTotal.WithLabelValues("normal").Add(float64(len(batch.Verdicts) - flagged - unclassified))
	m.metrics.VerdictsTotal.WithLabelValues("unclassified").Add(float64(unclassified))
	if unclassified > 0 {
		m.metrics.DispatchFailures.Inc()
	}

	var wg sync.WaitGroup
	wg.Add(len(m.writers))
	for _, w := range m.writers {
		go func(w model.Writer) {
			defer wg.Done()
			if err := w.Write(context.WithoutCancel(ctx), batch); err != nil {
				log.Errorf("Error writing batch %s with writer %s: %v", batch.ID, w.Name(), err)
			}
		}(w)
	}
	wg.Wait()

	if m.alerter != nil {
		m.alerter.Observe(batch)
	}
	m.recent.Add(batch)

	m.metrics.FlowsActive.Set(float64(m.table.Len()))
	m.metrics.QueueLength.Set(float64(m.queued()))
	m.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	log.Printf("Batch %s: %d flows, %d flagged, %d unclassified", batch.ID, len(batch.Verdicts), flagged, unclassified)
}

func (m *Manager) queued() int {
	n := 0
	for _, ch := range m.packetChannels {
		n += len(ch)
	}
	return n
}

// Stop drains the queues, classifies every flow still in the table and
// releases the classifier and writers.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		log.Println("Manager stopping...")
		for _, ch := range m.packetChannels {
			close(ch)
		}
		log.Println("Waiting for workers to finish...")
		m.workerWg.Wait()

		if m.reaperCancel != nil {
			m.reaperCancel()
		}
		m.reaperWg.Wait()
		m.reaper.Flush(context.Background())

		if m.alerter != nil {
			m.alerter.Stop()
		}
		if err := m.pipeline.Close(); err != nil {
			log.Warnf("Error closing classifier: %v", err)
		}
		factory.CloseWriters(m.writers)
		log.Println("Manager stopped.")
	})
}

// Stats implements api.StatsSource.
func (m *Manager) Stats() model.EngineStats {
	return model.EngineStats{
		StartedAt:       m.startedAt,
		ActiveFlows:     m.table.Len(),
		PacketsIngested: m.packets.Load(),
		PacketsDropped:  m.dropped.Load(),
		FlowsCreated:    m.flowsCreated.Load(),
		FlowsEvicted:    m.flowsEvicted.Load(),
		Batches:         m.batches.Load(),
		Flagged:         m.flagged.Load(),
		Unclassified:    m.unclassified.Load(),
	}
}

// Recent is the store backing the verdict endpoints of the API.
func (m *Manager) Recent() *api.RecentVerdicts { return m.recent }
