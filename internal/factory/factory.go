package factory

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/dispatch"
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/writer"
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DispatcherFactory builds a classifier backend from the classifier config.
type DispatcherFactory func(cfg *config.ClassifierConfig) (model.Dispatcher, error)

// WriterFactory builds a verdict sink from its definition.
type WriterFactory func(def *config.WriterDef) (model.Writer, error)

var (
	mu          sync.RWMutex
	dispatchers = make(map[string]DispatcherFactory)
	writers     = make(map[string]WriterFactory)
)

func init() {
	RegisterDispatcher("exec", func(cfg *config.ClassifierConfig) (model.Dispatcher, error) {
		return dispatch.NewExec(cfg.Exec)
	})
	RegisterDispatcher("grpc", func(cfg *config.ClassifierConfig) (model.Dispatcher, error) {
		timeout, err := config.Duration("classifier.grpc.timeout", cfg.GRPC.Timeout)
		if err != nil {
			return nil, err
		}
		return dispatch.NewGRPC(cfg.GRPC.Addr, timeout)
	})
	RegisterDispatcher("nats", func(cfg *config.ClassifierConfig) (model.Dispatcher, error) {
		timeout, err := config.Duration("classifier.nats.timeout", cfg.NATS.Timeout)
		if err != nil {
			return nil, err
		}
		return dispatch.NewNATS(cfg.NATS.URL, cfg.NATS.Subject, timeout)
	})

	RegisterWriter("gob", func(def *config.WriterDef) (model.Writer, error) {
		return writer.NewGobWriter(def.Gob.RootPath), nil
	})
	RegisterWriter("clickhouse", func(def *config.WriterDef) (model.Writer, error) {
		return writer.NewClickHouseWriter(def.ClickHouse)
	})
}

// RegisterDispatcher registers a classifier backend type.
func RegisterDispatcher(name string, f DispatcherFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := dispatchers[name]; exists {
		panic(fmt.Sprintf("dispatcher type '%s' already registered", name))
	}
	dispatchers[name] = f
}

// RegisterWriter registers a verdict writer type.
func RegisterWriter(name string, f WriterFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := writers[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	writers[name] = f
}

// DispatcherTypes returns the registered classifier backend types.
func DispatcherTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(dispatchers))
	for name := range dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDispatcher builds the configured backend wrapped in the retry policy.
func NewDispatcher(cfg *config.ClassifierConfig) (model.Dispatcher, error) {
	mu.RLock()
	f, ok := dispatchers[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown classifier type: '%s' (registered: %s)", cfg.Type, strings.Join(DispatcherTypes(), ", "))
	}

	initial, err := config.Duration("classifier.retry.initial_backoff", cfg.Retry.InitialBackoff)
	if err != nil {
		return nil, err
	}
	maxBackoff, err := config.Duration("classifier.retry.max_backoff", cfg.Retry.MaxBackoff)
	if err != nil {
		return nil, err
	}

	log.Printf("Creating classifier dispatcher of type '%s'", cfg.Type)
	d, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating classifier '%s': %w", cfg.Type, err)
	}
	return dispatch.NewRetrying(d, dispatch.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
	}), nil
}

// NewPipeline builds the dispatcher and, when configured, its dead-letter log.
func NewPipeline(cfg *config.ClassifierConfig) (*dispatch.Pipeline, error) {
	d, err := NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	var dl *dispatch.DeadLetter
	if cfg.DeadLetterPath != "" {
		if dl, err = dispatch.NewDeadLetter(cfg.DeadLetterPath); err != nil {
			d.Close()
			return nil, err
		}
	}
	return dispatch.NewPipeline(d, dl), nil
}

// NewWriters builds every enabled writer. On error the writers built so far are
// closed.
func NewWriters(defs []config.WriterDef) ([]model.Writer, error) {
	var out []model.Writer
	for i := range defs {
		def := &defs[i]
		if !def.Enabled {
			continue
		}
		mu.RLock()
		f, ok := writers[def.Type]
		mu.RUnlock()
		if !ok {
			CloseWriters(out)
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		w, err := f(def)
		if err != nil {
			CloseWriters(out)
			return nil, fmt.Errorf("error creating writer '%s': %w", def.Type, err)
		}
		log.Printf("Created writer '%s'", w.Name())
		out = append(out, w)
	}
	return out, nil
}

// CloseWriters closes the writers that hold resources.
func CloseWriters(ws []model.Writer) {
	for _, w := range ws {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.Warnf("Error closing writer '%s': %v", w.Name(), err)
			}
		}
	}
}
