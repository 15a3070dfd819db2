package dispatch

import (
	"FlowSentinel/internal/config"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
)

// Exec runs an external classifier program once per batch. With input and
// output paths configured the batch is exchanged through files; otherwise it is
// piped through the program's stdin and stdout.
type Exec struct {
	command    string
	args       []string
	inputPath  string
	outputPath string
	timeout    time.Duration
}

func NewExec(cfg config.ExecConfig) (*Exec, error) {
	if cfg.Command == "" {
		return nil, errors.New("exec classifier needs a command")
	}
	if (cfg.InputPath == "") != (cfg.OutputPath == "") {
		return nil, errors.New("exec classifier needs both input_path and output_path, or neither")
	}
	timeout := time.Minute
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid exec timeout: %w", err)
		}
		timeout = d
	}
	return &Exec{
		command:    cfg.Command,
		args:       cfg.Args,
		inputPath:  cfg.InputPath,
		outputPath: cfg.OutputPath,
		timeout:    timeout,
	}, nil
}

func (e *Exec) Classify(ctx context.Context, vectors [][]float64) ([]float64, error) {
	var in bytes.Buffer
	if err := EncodeBatch(&in, vectors); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if e.inputPath == "" {
		cmd.Stdin = &in
		out, runErr := cmd.Output()
		labels, err := DecodeLabels(bytes.NewReader(out))
		if runErr != nil {
			return labels, e.failure(runErr, &stderr, len(labels))
		}
		return labels, err
	}

	if err := os.WriteFile(e.inputPath, in.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write classifier input: %w", err)
	}
	// stale results from an earlier batch must never be read back
	if err := os.Remove(e.outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to clear classifier output: %w", err)
	}
	out, runErr := cmd.Output()
	if len(out) > 0 {
		log.Debugf("Classifier output: %s", bytes.TrimSpace(out))
	}

	// a failed run may still have written some results
	f, err := os.Open(e.outputPath)
	if err != nil {
		if runErr != nil {
			return nil, e.failure(runErr, &stderr, 0)
		}
		return nil, fmt.Errorf("failed to open classifier results: %w", err)
	}
	defer f.Close()
	labels, err := DecodeLabels(f)
	if runErr != nil {
		return labels, e.failure(runErr, &stderr, len(labels))
	}
	return labels, err
}

func (e *Exec) failure(err error, stderr *bytes.Buffer, partial int) error {
	return fmt.Errorf("classifier %s failed after %d labels: %w (%s)", e.command, partial, err, bytes.TrimSpace(stderr.Bytes()))
}

func (e *Exec) Close() error { return nil }
