package alerter

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/model"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	log "github.com/sirupsen/logrus"
)

// maxListed caps the number of flows itemised in one notification.
const maxListed = 50

// Alerter collects flagged verdicts and periodically mails a summary of them.
type Alerter struct {
	notifier      model.Notifier
	checkInterval time.Duration
	minFlagged    int

	mu      sync.Mutex
	pending []model.Verdict
	seen    int // flagged verdicts observed since the last summary, including those not listed

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	minFlagged := cfg.MinFlagged
	if minFlagged <= 0 {
		minFlagged = 1
	}
	return &Alerter{
		notifier:      notifier,
		checkInterval: interval,
		minFlagged:    minFlagged,
		stopChan:      make(chan struct{}),
	}, nil
}

// Observe records the flagged verdicts of a batch.
func (a *Alerter) Observe(batch model.VerdictBatch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range batch.Verdicts {
		v := &batch.Verdicts[i]
		if !v.Flagged() {
			continue
		}
		a.seen++
		if len(a.pending) < maxListed {
			a.pending = append(a.pending, *v)
		}
	}
}

// Start launches the periodic evaluation loop, which runs until Stop is called.
func (a *Alerter) Start() {
	a.wg.Add(1)
	go a.run()
	log.Info("Alerter started")
}

func (a *Alerter) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.evaluate()
		case <-a.stopChan:
			return
		}
	}
}

// Stop ends the evaluation loop and sends a final summary of anything pending.
func (a *Alerter) Stop() {
	log.Info("Stopping Alerter...")
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait()
	a.evaluate()
}

// evaluate sends a summary when enough flagged flows have accumulated. Pending
// verdicts below the threshold carry over to the next check.
func (a *Alerter) evaluate() {
	a.mu.Lock()
	if a.seen < a.minFlagged {
		a.mu.Unlock()
		return
	}
	listed, total := a.pending, a.seen
	a.pending, a.seen = nil, 0
	a.mu.Unlock()

	log.Infof("Alerter evaluation completed. %d flagged flow(s).", total)
	if a.notifier == nil {
		return
	}
	subject := fmt.Sprintf("FlowSentinel Alert Summary (%d Flagged)", total)
	body := string(markdown.ToHTML([]byte(summary(listed, total)), nil, nil))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Errorf("Failed to send alert notification: %v", err)
	}
}

func summary(listed []model.Verdict, total int) string {
	var b strings.Builder
	b.WriteString("# FlowSentinel Alert Summary\n\n")
	fmt.Fprintf(&b, "%d flow(s) were classified as attacks since the last check.\n\n", total)
	b.WriteString("| Flow | Protocol | First seen | Last seen | Label |\n")
	b.WriteString("|------|----------|------------|-----------|-------|\n")
	for _, v := range listed {
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %g |\n",
			v.FlowID, v.Protocol,
			v.FirstSeen.UTC().Format(time.RFC3339), v.LastSeen.UTC().Format(time.RFC3339),
			v.Label)
	}
	if total > len(listed) {
		fmt.Fprintf(&b, "\n%d more not listed.\n", total-len(listed))
	}
	return b.String()
}
