package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsTotal.WithLabelValues("TCP").Add(3)
	m.VerdictsTotal.WithLabelValues("attack").Inc()
	m.FlowsActive.Set(7)

	if got := testutil.ToFloat64(m.PacketsTotal.WithLabelValues("TCP")); got != 3 {
		t.Errorf("packets_total{protocol=TCP} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.FlowsActive); got != 7 {
		t.Errorf("flows_active = %v, want 7", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	// Vectors only appear once a label set exists; histograms and the rest always do.
	if n != 10 {
		t.Errorf("gathered %d series, want 10", n)
	}
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice did not panic")
		}
	}()
	New(reg)
}
