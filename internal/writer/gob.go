package writer

import (
	"FlowSentinel/internal/model"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const timestampLayout = "2006-01-02_15-04-05"

// SummaryData holds the metadata for one written batch, internal to the writer.
type SummaryData struct {
	BatchID    string `json:"batch_id"`
	TotalFlows int    `json:"total_flows"`
	Classified int    `json:"classified"`
	Flagged    int    `json:"flagged"`
	Timestamp  string `json:"timestamp"`
}

// GobWriter writes every verdict batch to its own directory under rootPath, as a
// gob-encoded verdict list plus a summary.json.
type GobWriter struct {
	rootPath string
}

func NewGobWriter(rootPath string) *GobWriter {
	return &GobWriter{rootPath: rootPath}
}

func (w *GobWriter) Name() string { return "gob" }

func (w *GobWriter) Write(_ context.Context, batch model.VerdictBatch) error {
	if len(batch.Verdicts) == 0 {
		return nil
	}

	// 1. Create timestamped directory with a subdirectory per batch
	batchDir := filepath.Join(w.rootPath, batch.EvictedAt.Format(timestampLayout), batch.ID)
	if err := os.MkdirAll(batchDir, 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}

	// 2. Write the verdicts
	filePath := filepath.Join(batchDir, "verdicts.dat")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create verdict file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(batch.Verdicts); err != nil {
		return fmt.Errorf("failed to encode verdicts to gob for file '%s': %w", filePath, err)
	}

	// 3. Write summary file
	summary := SummaryData{
		BatchID:    batch.ID,
		TotalFlows: len(batch.Verdicts),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i := range batch.Verdicts {
		if batch.Verdicts[i].Classified {
			summary.Classified++
		}
		if batch.Verdicts[i].Flagged() {
			summary.Flagged++
		}
	}
	summaryFile, err := os.Create(filepath.Join(batchDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadVerdicts decodes a verdicts.dat file written by GobWriter.
func ReadVerdicts(path string) ([]model.Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var verdicts []model.Verdict
	if err := gob.NewDecoder(f).Decode(&verdicts); err != nil {
		return nil, fmt.Errorf("failed to decode verdicts: %w", err)
	}
	return verdicts, nil
}
