package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrShortResult is returned when a classifier answers fewer records than it was given.
	ErrShortResult = errors.New("classifier returned fewer labels than records")
	ErrBadLabel    = errors.New("unparsable classifier label")
)

// AppendRecord appends the line encoding of one feature vector: values separated
// by a single space, fixed nine-digit precision, the last value in scientific
// notation, newline terminated.
func AppendRecord(b []byte, v []float64) []byte {
	for i, x := range v {
		if i == len(v)-1 {
			b = strconv.AppendFloat(b, x, 'e', 9, 64)
			break
		}
		b = strconv.AppendFloat(b, x, 'f', 9, 64)
		b = append(b, ' ')
	}
	return append(b, '\n')
}

// EncodeBatch writes one line per vector, in order.
func EncodeBatch(w io.Writer, vectors [][]float64) error {
	bw := bufio.NewWriter(w)
	var line []byte
	for _, v := range vectors {
		line = AppendRecord(line[:0], v)
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return bw.Flush()
}

// DecodeBatch parses the line encoding back into vectors.
func DecodeBatch(r io.Reader) ([][]float64, error) {
	var vectors [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		v := make([]float64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return vectors, fmt.Errorf("record %d field %d: %w", n, i+1, err)
			}
			v[i] = x
		}
		vectors = append(vectors, v)
	}
	if err := sc.Err(); err != nil {
		return vectors, fmt.Errorf("failed to read records: %w", err)
	}
	return vectors, nil
}

// EncodeLabels writes one label per line.
func EncodeLabels(w io.Writer, labels []float64) error {
	bw := bufio.NewWriter(w)
	for _, l := range labels {
		bw.WriteString(strconv.FormatFloat(l, 'g', -1, 64))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// DecodeLabels reads one numeric label per line. Blank lines and lines starting
// with '#' (classifier diagnostics) are skipped; only the first field of a line
// is read. On a bad line the labels read so far are returned with the error.
func DecodeLabels(r io.Reader) ([]float64, error) {
	var labels []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field := strings.Fields(line)[0]
		l, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return labels, fmt.Errorf("%w %q after %d labels", ErrBadLabel, field, len(labels))
		}
		labels = append(labels, l)
	}
	if err := sc.Err(); err != nil {
		return labels, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
