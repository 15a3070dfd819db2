package factory

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/dispatch"
	"FlowSentinel/internal/model"
	"context"
	"path/filepath"
	"slices"
	"testing"
)

func TestNewDispatcher_WrapsRetry(t *testing.T) {
	cfg, err := config.Parse([]byte("classifier:\n  type: exec\n  exec:\n    command: cat\n"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDispatcher(&cfg.Classifier)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	defer d.Close()
	if _, ok := d.(*dispatch.Retrying); !ok {
		t.Errorf("NewDispatcher() = %T, want *dispatch.Retrying", d)
	}
}

func TestNewDispatcher_Errors(t *testing.T) {
	if _, err := NewDispatcher(&config.ClassifierConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("unknown type accepted")
	}
	cfg, _ := config.Parse(nil)
	cfg.Classifier.Exec.Command = ""
	if _, err := NewDispatcher(&cfg.Classifier); err == nil {
		t.Error("exec without command accepted")
	}

	// configs built in code skip Parse; bad durations are errors, not panics
	unparsed := []*config.ClassifierConfig{
		{Type: "grpc", GRPC: config.GRPCConfig{Addr: "127.0.0.1:1", Timeout: "soon"}},
		{Type: "nats", NATS: config.NATSConfig{URL: "nats://127.0.0.1:1", Subject: "x"}},
		{Type: "exec", Exec: config.ExecConfig{Command: "cat"}, Retry: config.RetryConfig{MaxAttempts: 1}},
	}
	for _, c := range unparsed {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("NewDispatcher(%s) panicked: %v", c.Type, r)
				}
			}()
			if d, err := NewDispatcher(c); err == nil {
				d.Close()
				t.Errorf("NewDispatcher(%s) accepted an unparsed duration", c.Type)
			}
		}()
	}
}

type stubDispatcher struct{}

func (stubDispatcher) Classify(_ context.Context, v [][]float64) ([]float64, error) {
	return make([]float64, len(v)), nil
}
func (stubDispatcher) Close() error { return nil }

func TestRegisterDispatcher(t *testing.T) {
	RegisterDispatcher("stub", func(*config.ClassifierConfig) (model.Dispatcher, error) { return stubDispatcher{}, nil })
	defer func() {
		mu.Lock()
		delete(dispatchers, "stub")
		mu.Unlock()
	}()

	cfg, err := config.Parse([]byte("classifier:\n  type: stub\n"))
	if err != nil {
		t.Fatalf("Parse() rejected a registered type: %v", err)
	}
	if !slices.Contains(DispatcherTypes(), "stub") {
		t.Errorf("DispatcherTypes() = %v, missing stub", DispatcherTypes())
	}
	cfg.Classifier.DeadLetterPath = filepath.Join(t.TempDir(), "dl", "dead.jsonl")
	p, err := NewPipeline(&cfg.Classifier)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	defer p.Close()

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	RegisterDispatcher("stub", nil)
}

func TestNewWriters(t *testing.T) {
	defs := []config.WriterDef{
		{Type: "gob", Enabled: true, Gob: config.GobConfig{RootPath: t.TempDir()}},
		{Type: "clickhouse", Enabled: false},
	}
	ws, err := NewWriters(defs)
	if err != nil {
		t.Fatalf("NewWriters() error = %v", err)
	}
	if len(ws) != 1 || ws[0].Name() != "gob" {
		t.Errorf("NewWriters() = %v", ws)
	}

	if _, err := NewWriters([]config.WriterDef{{Type: "parquet", Enabled: true}}); err == nil {
		t.Error("unknown writer type accepted")
	}
}
