package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps Kafka writer.
type Producer struct {
	writer messageWriter
	comp   string
}

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		ClientID:     "signalbridge",
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 1 * time.Second,
		Async:        false,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}

	return newProducer(writer, cfg.Compression), nil
}

func newProducer(w messageWriter, comp string) *Producer {
	producerMetricsOnce.Do(initProducerMetrics)
	return &Producer{writer: w, comp: comp}
}

// Publish sends one message to topic. Values other than []byte and string
// are JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	start := time.Now()
	v, err := encodeValue(value)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: v,
		Time:  start,
	}

	err = p.writer.WriteMessages(ctx, msg)
	observeProducerMetrics(topic, p.comp, int64(len(v)), time.Since(start), err)
	return err
}

// Close flushes pending messages and closes the producer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "none":
		return 0
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	producerMsgsTotal   *prometheus.CounterVec
	producerBytesTotal  *prometheus.CounterVec
	producerLatencyHist *prometheus.HistogramVec
	producerMetricsOnce sync.Once
)

func initProducerMetrics() {
	producerMsgsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_kafka_producer_messages_total",
			Help: "Total messages published to Kafka",
		},
		[]string{"topic", "compression", "result"},
	)
	producerBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_kafka_producer_bytes_total",
			Help: "Total payload bytes published",
		},
		[]string{"topic", "compression"},
	)
	producerLatencyHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalbridge_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
}

func observeProducerMetrics(topic, comp string, bytes int64, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgsTotal.WithLabelValues(topic, comp, result).Inc()
	if err == nil {
		producerBytesTotal.WithLabelValues(topic, comp).Add(float64(bytes))
	}
	producerLatencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}
