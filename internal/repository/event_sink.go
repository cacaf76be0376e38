package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"SignalBridge/internal/domain/models"
	"SignalBridge/internal/domain/repository"
)

type kafkaProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventSink publishes events as JSON keyed by signal id so that all
// events of one signal land on the same partition.
type KafkaEventSink struct {
	producer kafkaProducer
	topic    string
}

var _ repository.EventSink = (*KafkaEventSink)(nil)

func NewKafkaEventSink(producer kafkaProducer, topic string) *KafkaEventSink {
	return &KafkaEventSink{producer: producer, topic: topic}
}

func (k *KafkaEventSink) Publish(ctx context.Context, ev models.SignalEvent) error {
	if err := k.producer.Publish(ctx, k.topic, []byte(ev.Signal.ID), ev); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.Type, err)
	}
	return nil
}

func (k *KafkaEventSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ClickHouseEventSink archives events in a MergeTree table for outcome analysis.
type ClickHouseEventSink struct {
	db    execer
	table string
}

var _ repository.EventSink = (*ClickHouseEventSink)(nil)

func NewClickHouseEventSink(db execer, table string) *ClickHouseEventSink {
	return &ClickHouseEventSink{db: db, table: table}
}

// SignalEventsSchema returns the DDL for the events table.
func SignalEventsSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	event_id String,
	type LowCardinality(String),
	occurred_at DateTime64(3, 'UTC'),
	signal_id String,
	symbol LowCardinality(String),
	interval LowCardinality(String),
	decision LowCardinality(String),
	confidence String,
	price_entry Float64,
	price_exit Nullable(Float64),
	settle_status LowCardinality(String),
	payload String
) ENGINE = ReplacingMergeTree
ORDER BY (signal_id, type, event_id)`, database, table),
	}
}

func (c *ClickHouseEventSink) Publish(ctx context.Context, ev models.SignalEvent) error {
	payload, err := json.Marshal(ev.Signal)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	s := ev.Signal
	q := fmt.Sprintf("INSERT INTO %s (event_id, type, occurred_at, signal_id, symbol, interval, decision, confidence, price_entry, price_exit, settle_status, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", c.table)
	_, err = c.db.ExecContext(ctx, q,
		ev.EventID,
		ev.Type,
		ev.OccurredAt,
		s.ID,
		s.Symbol,
		s.Interval,
		s.Decision,
		s.Confidence,
		s.PriceEntry,
		s.PriceExit,
		s.SettleStatus,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert %s: %w", ev.Type, err)
	}
	return nil
}

// Close is a no-op; the pool is owned by pkg/clickhouse.Client.
func (c *ClickHouseEventSink) Close() error { return nil }
