package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// FileSink appends one JSON line per link result to a log file.
type FileSink struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	names     ServerNamer
	sizeBytes int64
}

type fileRecord struct {
	RunID          string    `json:"run_id"`
	Cycle          uint64    `json:"cycle"`
	LinkIndex      int       `json:"link_index"`
	Timestamp      time.Time `json:"ts"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	Type           string    `json:"type"`
	Value          any       `json:"value,omitempty"`
	Ok             bool      `json:"ok"`
	Kind           string    `json:"kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Overrun        bool      `json:"overrun"`
}

// NewFileSink opens (or creates) path for appending. A partial trailing line
// left by a crash is cut off so every line stays valid JSON.
func NewFileSink(path string, names ServerNamer) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	s := &FileSink{
		path:   path,
		file:   f,
		writer: bufio.NewWriterSize(f, 1<<16),
		names:  names,
	}
	if err := s.bootstrap(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileSink) bootstrap() error {
	stat, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size > 0 {
		size, err = lastCompleteLine(s.file, size)
		if err != nil {
			return fmt.Errorf("file sink scan: %w", err)
		}
		if err := s.file.Truncate(size); err != nil {
			return err
		}
	}
	s.sizeBytes = size
	_, err = s.file.Seek(size, io.SeekStart)
	return err
}

// lastCompleteLine returns the offset just past the last '\n' in f.
func lastCompleteLine(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func (s *FileSink) Name() string { return "file" }

// WriteBatch appends every result and flushes once per batch.
func (s *FileSink) WriteBatch(reports []*domain.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}

	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	for _, r := range reports {
		if r == nil {
			continue
		}
		for i, res := range r.Results {
			rec := fileRecord{
				RunID:          r.RunID,
				Cycle:          r.CycleIndex,
				LinkIndex:      i,
				Timestamp:      r.Started,
				Source:         tagKey(s.names, res.Link.SourceServerID, res.Link.SourceTag),
				Target:         tagKey(s.names, res.Link.TargetServerID, res.Link.TargetTag),
				Type:           res.Link.ValueType.String(),
				Value:          res.Value,
				Ok:             res.Ok(),
				Kind:           string(res.Kind),
				ElapsedSeconds: r.ElapsedSeconds(),
				Overrun:        r.Overrun,
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}

			line.Reset()
			if err := enc.Encode(rec); err != nil {
				// NaN and Inf have no JSON form
				rec.Value = fmt.Sprint(res.Value)
				line.Reset()
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			n, err := s.writer.Write(line.Bytes())
			s.sizeBytes += int64(n)
			if err != nil {
				return err
			}
		}
	}
	return s.writer.Flush()
}

// SizeBytes is the current length of the log file.
func (s *FileSink) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeBytes
}

// Close flushes and closes the file. Later writes fail with os.ErrClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.writer.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

var _ ports.ReportSink = (*FileSink)(nil)
