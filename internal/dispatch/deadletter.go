package dispatch

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DeadLetterEntry is one line of the dead-letter log: a batch the classifier
// never fully answered, kept so it can be replayed.
type DeadLetterEntry struct {
	BatchID  string    `json:"batch_id"`
	Time     time.Time `json:"time"`
	Digest   string    `json:"blake3"`
	FlowIDs  []string  `json:"flow_ids"`
	Records  []string  `json:"records"`
	Answered int       `json:"answered"`
	Error    string    `json:"error"`
}

// DeadLetter appends unconfirmed batches to a JSON-lines file.
type DeadLetter struct {
	mu   sync.Mutex
	path string
}

func NewDeadLetter(path string) (*DeadLetter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}
	return &DeadLetter{path: path}, nil
}

// Record appends one entry. The digest covers the encoded records, so a replay
// can be matched against the original batch.
func (d *DeadLetter) Record(batchID string, flowIDs []string, vectors [][]float64, answered int, cause error) error {
	var encoded bytes.Buffer
	if err := EncodeBatch(&encoded, vectors); err != nil {
		return err
	}
	sum := blake3.Sum256(encoded.Bytes())

	records := make([]string, len(vectors))
	var line []byte
	for i, v := range vectors {
		line = AppendRecord(line[:0], v)
		records[i] = string(bytes.TrimRight(line, "\n"))
	}

	entry := DeadLetterEntry{
		BatchID:  batchID,
		Time:     time.Now().UTC(),
		Digest:   hex.EncodeToString(sum[:]),
		FlowIDs:  flowIDs,
		Records:  records,
		Answered: answered,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append dead-letter entry: %w", err)
	}
	return nil
}
