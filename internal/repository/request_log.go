package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"SignalBridge/internal/domain/repository"
)

// FileRequestLog keeps the most recent maxEntries request lines in a JSON array file.
type FileRequestLog struct {
	mu         sync.Mutex
	path       string
	maxEntries int
}

var _ repository.RequestLog = (*FileRequestLog)(nil)

func NewFileRequestLog(path string, maxEntries int) *FileRequestLog {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &FileRequestLog{path: path, maxEntries: maxEntries}
}

func (l *FileRequestLog) Append(e repository.RequestLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.readLocked()
	items = append(items, e)
	if len(items) > l.maxEntries {
		items = items[len(items)-l.maxEntries:]
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal request log: %w", err)
	}
	return writeFileAtomic(l.path, b)
}

// Read returns the logged entries oldest first. A missing or unreadable file reads as empty.
func (l *FileRequestLog) Read() ([]repository.RequestLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked(), nil
}

func (l *FileRequestLog) readLocked() []repository.RequestLogEntry {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return []repository.RequestLogEntry{}
	}
	var items []repository.RequestLogEntry
	if err := json.Unmarshal(b, &items); err != nil || items == nil {
		return []repository.RequestLogEntry{}
	}
	return items
}
