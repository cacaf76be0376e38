package usecase

import (
	"context"

	"SignalBridge/internal/domain/models"
)

type nopMetrics struct{}

func (nopMetrics) RecordSignalCreated(string, string) {}
func (nopMetrics) RecordSettlement(string)            {}
func (nopMetrics) RecordPending(int)                  {}
func (nopMetrics) RecordError(string)                 {}
func (nopMetrics) RecordLastPrice(string, float64)    {}
func (nopMetrics) RecordLatency(string, float64)      {}

type nopSink struct{}

func (nopSink) Publish(context.Context, models.SignalEvent) error { return nil }
func (nopSink) Close() error                                     { return nil }
