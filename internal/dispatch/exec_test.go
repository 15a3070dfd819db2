package dispatch

import (
	"FlowSentinel/internal/config"
	"context"
	"os/exec"
	"path/filepath"
	"testing"
)

// thresholdScript labels a record as an attack when its first field exceeds 100.
const thresholdScript = `!/^#/ && NF { print ($1 > 100) ? 1 : 0 }`

func requireAwk(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("awk"); err != nil {
		t.Skip("awk not available")
	}
}

func TestExec_Stdio(t *testing.T) {
	requireAwk(t)
	e, err := NewExec(config.ExecConfig{Command: "awk", Args: []string{thresholdScript}})
	if err != nil {
		t.Fatal(err)
	}
	labels, err := e.Classify(context.Background(), [][]float64{{80, 1}, {443, 2}, {22, 3}})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	want := []float64{0, 1, 0}
	if len(labels) != len(want) {
		t.Fatalf("Classify() = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d = %v, want %v", i, labels[i], want[i])
		}
	}
}

func TestExec_FileContract(t *testing.T) {
	requireAwk(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "batch.txt")
	out := filepath.Join(dir, "results.txt")
	e, err := NewExec(config.ExecConfig{
		Command:    "sh",
		Args:       []string{"-c", "awk '" + thresholdScript + "' " + in + " > " + out + "; echo '#0.001'"},
		InputPath:  in,
		OutputPath: out,
	})
	if err != nil {
		t.Fatal(err)
	}
	labels, err := e.Classify(context.Background(), [][]float64{{500, 0}, {53, 0}})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(labels) != 2 || labels[0] != 1 || labels[1] != 0 {
		t.Errorf("Classify() = %v, want [1 0]", labels)
	}
}

func TestExec_Failure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	e, err := NewExec(config.ExecConfig{Command: "false"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Classify(context.Background(), [][]float64{{1}}); err == nil {
		t.Error("failing classifier reported success")
	}
}

func TestExec_FailureKeepsPartialResults(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "batch.txt")
	out := filepath.Join(dir, "results.txt")
	vectors := [][]float64{{1}, {2}, {3}}

	t.Run("file", func(t *testing.T) {
		e, err := NewExec(config.ExecConfig{
			Command:    "sh",
			Args:       []string{"-c", "printf '1\\n0\\n' > " + out + "; exit 3"},
			InputPath:  in,
			OutputPath: out,
		})
		if err != nil {
			t.Fatal(err)
		}
		labels, err := e.Classify(context.Background(), vectors)
		if err == nil {
			t.Fatal("non-zero exit reported success")
		}
		if len(labels) != 2 || labels[0] != 1 || labels[1] != 0 {
			t.Errorf("Classify() = %v, want the partial [1 0]", labels)
		}
	})

	t.Run("file without results", func(t *testing.T) {
		e, err := NewExec(config.ExecConfig{Command: "sh", Args: []string{"-c", "exit 1"}, InputPath: in, OutputPath: out})
		if err != nil {
			t.Fatal(err)
		}
		labels, err := e.Classify(context.Background(), vectors)
		if err == nil || len(labels) != 0 {
			t.Errorf("Classify() = %v, %v; want no labels and an error", labels, err)
		}
	})

	t.Run("stdio", func(t *testing.T) {
		e, err := NewExec(config.ExecConfig{Command: "sh", Args: []string{"-c", "echo 1; exit 2"}})
		if err != nil {
			t.Fatal(err)
		}
		labels, err := e.Classify(context.Background(), vectors)
		if err == nil {
			t.Fatal("non-zero exit reported success")
		}
		if len(labels) != 1 || labels[0] != 1 {
			t.Errorf("Classify() = %v, want the partial [1]", labels)
		}
	})
}

func TestNewExec_Validation(t *testing.T) {
	if _, err := NewExec(config.ExecConfig{}); err == nil {
		t.Error("missing command accepted")
	}
	if _, err := NewExec(config.ExecConfig{Command: "awk", InputPath: "in"}); err == nil {
		t.Error("input path without output path accepted")
	}
}
