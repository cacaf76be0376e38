package service

import (
	"context"

	"SignalBridge/internal/domain/models"
)

// FeatureProvider samples technical indicators for a symbol.
type FeatureProvider interface {
	// Fetch returns the latest value record of one indicator.
	Fetch(ctx context.Context, indicator, symbol, interval string, params map[string]string) (map[string]string, error)
	// Features returns the full vector in model order.
	Features(ctx context.Context, symbol, interval string) (models.Features, error)
}

// PriceOracle returns the current reference price of the traded instrument.
type PriceOracle interface {
	Price(ctx context.Context) (float64, error)
}

// Predictor asks the model for a decision on a feature vector.
type Predictor interface {
	Predict(ctx context.Context, f models.Features) (models.Prediction, error)
}
