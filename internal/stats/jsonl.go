package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

type jsonlLine struct {
	Kind      string                       `json:"kind"`
	Record    *anonymizer.ProcessingRecord `json:"record,omitempty"`
	Uncertain *anonymizer.UncertainCase    `json:"uncertain,omitempty"`
}

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create stats dir: %v", anonymizer.ErrPersistence, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open stats log: %v", anonymizer.ErrPersistence, err)
	}
	w := bufio.NewWriter(f)
	return &JSONLSink{file: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (s *JSONLSink) WriteRecord(r anonymizer.ProcessingRecord) error {
	return s.enc.Encode(jsonlLine{Kind: "record", Record: &r})
}

func (s *JSONLSink) WriteUncertain(c anonymizer.UncertainCase) error {
	return s.enc.Encode(jsonlLine{Kind: "uncertain", Uncertain: &c})
}

func (s *JSONLSink) Flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ReplayJSONL feeds every entry of a JSONL stats file into l and returns
// the number of lines read. l should have no sinks of its own. Malformed
// lines are skipped and counted in skipped.
func ReplayJSONL(path string, l *Log) (read, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: open stats log: %v", anonymizer.ErrPersistence, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		read++
		var line jsonlLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			skipped++
			continue
		}
		switch {
		case line.Kind == "record" && line.Record != nil:
			l.Record(*line.Record)
		case line.Kind == "uncertain" && line.Uncertain != nil:
			l.RecordUncertain(*line.Uncertain)
		default:
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return read, skipped, fmt.Errorf("%w: read stats log: %v", anonymizer.ErrPersistence, err)
	}
	return read, skipped, nil
}
