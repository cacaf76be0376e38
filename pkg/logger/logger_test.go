package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestWriterLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.Info("signal created", String("id", "01234"), Float64("price", 61234.5), Bool("pending", true))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "signal created", line["message"])
	assert.Equal(t, "01234", line["id"])
	assert.Equal(t, 61234.5, line["price"])
	assert.Equal(t, true, line["pending"])
}

func TestWithAddsContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "exit_scheduler"))
	l.Warn("tick")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "exit_scheduler", line["component"])
}

func TestCollectorAggregatesDuplicateErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWriter(&bytes.Buffer{})
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs/errors", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("patch failed", String("id", "11111"), Error(errors.New("boom")))
	}
	l.Error("patch failed", String("id", "22222"), Error(errors.New("boom")))
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "logs/errors", pub.topic)

	counts := map[string]int{}
	for _, e := range pub.batches[0] {
		counts[e.Fields["id"].(string)] = e.Count
	}
	assert.Equal(t, map[string]int{"11111": 3, "22222": 1}, counts)
}
