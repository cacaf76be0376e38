package models

import "time"

// DateTimeLayout is the human-readable timestamp layout stored on signals.
const DateTimeLayout = "2006-01-02 15:04:05"

// Settlement status values carried on a stored signal.
const (
	SettlePending = "pending"
	SettleSettled = "settled"
	SettleFailed  = "failed"
)

// Features is the fixed-order indicator vector sent to the model:
// RSI, EMA-fast, EMA-slow, MACD, MACD-signal.
type Features [5]float64

func (f Features) RSI() float64        { return f[0] }
func (f Features) EMAFast() float64    { return f[1] }
func (f Features) EMASlow() float64    { return f[2] }
func (f Features) MACD() float64       { return f[3] }
func (f Features) MACDSignal() float64 { return f[4] }

// Prediction is the model's answer. Either field may be empty.
type Prediction struct {
	Decision   string `json:"decision"`
	Confidence string `json:"confidence"`
}

// Signal is one prediction event as persisted in the record store.
// Exit fields stay nil until settlement and are never rewritten after.
type Signal struct {
	ID            string   `json:"id"`
	Symbol        string   `json:"symbol"`
	Interval      string   `json:"interval"`
	Features      Features `json:"features"`
	PriceEntry    float64  `json:"price_entry"`
	Decision      string   `json:"decision"`
	Confidence    string   `json:"confidence"`
	Timestamp     int64    `json:"timestamp"`
	DateTime      string   `json:"datetime"`
	PriceExit     *float64 `json:"price_exit"`
	DateTimeExit  *string  `json:"datetime_exit"`
	TimestampExit *int64   `json:"timestamp_exit"`
	SettleStatus  string   `json:"settle_status"`
}

// CreatedAt returns the creation instant.
func (s *Signal) CreatedAt() time.Time { return time.Unix(s.Timestamp, 0) }

// Settled reports whether an exit price has been recorded.
func (s *Signal) Settled() bool { return s.PriceExit != nil }

// SettlementPatch is the partial document merged into a signal on exit.
type SettlementPatch struct {
	PriceExit     float64 `json:"price_exit"`
	DateTimeExit  string  `json:"datetime_exit"`
	TimestampExit int64   `json:"timestamp_exit"`
	SettleStatus  string  `json:"settle_status"`
}

// NewSettlementPatch builds the exit payload for a settlement at t.
func NewSettlementPatch(price float64, t time.Time, loc *time.Location) SettlementPatch {
	if loc == nil {
		loc = time.UTC
	}
	return SettlementPatch{
		PriceExit:     price,
		DateTimeExit:  t.In(loc).Format(DateTimeLayout),
		TimestampExit: t.Unix(),
		SettleStatus:  SettleSettled,
	}
}
