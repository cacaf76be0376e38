package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Publisher receives batches of aggregated error logs.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval (e.g., 30s)
	CountThreshold int           // max unique logs before flush (e.g., 100)
	Topic          string        // destination passed to the publisher
	Publisher      Publisher
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates error lines by (level, message, fields, caller)
// and ships the counts on a timer or once CountThreshold unique lines pile up.
type LogCollector struct {
	config  *CollectionConfig
	logMap  map[string]*AggregatedLogEntry
	mutex   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	flushWg sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	ctx, cancel := context.WithCancel(context.Background())

	collector := &LogCollector{
		config: config,
		logMap: make(map[string]*AggregatedLogEntry),
		ctx:    ctx,
		cancel: cancel,
	}

	collector.wg.Add(1)
	go collector.periodicFlush()

	return collector
}

func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := d.generateKey(level, message, fields, caller)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if entry, exists := d.logMap[key]; exists {
		entry.Count++
		entry.LastSeen = now
	} else {
		d.logMap[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(d.logMap) >= d.config.CountThreshold {
		d.flushLogs()
	}
}

func (d *LogCollector) generateKey(level, message string, fields map[string]interface{}, caller string) string {
	data := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{
		Level:   level,
		Message: message,
		Fields:  fields,
		Caller:  caller,
	}

	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return fmt.Sprintf("%x", hash)
}

func (d *LogCollector) periodicFlush() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mutex.Lock()
			d.flushLogs()
			d.mutex.Unlock()
		case <-d.ctx.Done():
			d.mutex.Lock()
			d.flushLogs()
			d.mutex.Unlock()
			return
		}
	}
}

// flushLogs must be called with the mutex held.
func (d *LogCollector) flushLogs() {
	if len(d.logMap) == 0 || d.config.Publisher == nil {
		return
	}

	logs := make([]AggregatedLogEntry, 0, len(d.logMap))
	for _, entry := range d.logMap {
		logs = append(logs, *entry)
	}
	d.logMap = make(map[string]*AggregatedLogEntry)

	d.flushWg.Add(1)
	go func() {
		defer d.flushWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := d.config.Publisher.PublishMessage(ctx, d.config.Topic, logs); err != nil {
			fmt.Fprintf(os.Stderr, "failed to send aggregated logs: %v\n", err)
		}
	}()
}

// Close flushes what is buffered and waits for in-flight publishes.
func (d *LogCollector) Close() {
	d.cancel()
	d.wg.Wait()
	d.flushWg.Wait()
}
