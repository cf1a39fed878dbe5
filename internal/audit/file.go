package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLog stores every record as one JSON line. Chain heads are indexed
// in memory on open, so appends stay a single file write.
type FileLog struct {
	path  string
	mu    sync.Mutex
	heads map[string]string
}

func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init audit file: %w", err)
	}
	defer f.Close()

	l := &FileLog{path: path, heads: make(map[string]string)}
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 10*1024*1024)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corrupt audit line: %w", err)
		}
		l.heads[rec.ConversationID] = rec.Hash
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return l, nil
}

func (l *FileLog) Append(_ context.Context, rec Record, expectedPrev string) (AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heads[rec.ConversationID] != expectedPrev {
		return Conflict, nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Conflict, fmt.Errorf("open append: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return Conflict, fmt.Errorf("encode append: %w", err)
	}
	l.heads[rec.ConversationID] = rec.Hash
	return Appended, nil
}

func (l *FileLog) Latest(_ context.Context, conversationID string) (Record, bool, error) {
	records, err := l.scan(conversationID, 0)
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[len(records)-1], true, nil
}

func (l *FileLog) History(_ context.Context, conversationID string, limit int) ([]Record, error) {
	return l.scan(conversationID, limit)
}

func (l *FileLog) scan(conversationID string, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 10*1024*1024)
	var out []Record
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.ConversationID == conversationID {
			out = append(out, rec)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
