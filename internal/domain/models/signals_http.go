package models

// Requests for the signal HTTP endpoints. The interval tag is registered by
// the API handler against the provider's supported intervals.

type CreateSignalRequest struct {
	Symbol   string `json:"symbol" query:"symbol" validate:"omitempty,max=20"`
	Interval string `json:"interval" query:"interval" validate:"omitempty,interval"`
}

type FeaturesRequest struct {
	Symbol   string `query:"symbol" validate:"omitempty,max=20"`
	Interval string `query:"interval" validate:"omitempty,interval"`
}

type SetIntervalRequest struct {
	Interval string `json:"interval" query:"interval" validate:"required,interval"`
}

type SignalIDRequest struct {
	ID string `param:"id" validate:"required,numeric,max=12"`
}

type ListRequest struct {
	Limit int `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type CreateSignalResponse struct {
	ID     string  `json:"id"`
	Signal *Signal `json:"signal"`
}

type FeaturesResponse struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Features []float64 `json:"features"`
}

type IntervalResponse struct {
	Interval string `json:"interval"`
}

type HealthResponse struct {
	OK       bool `json:"ok"`
	Firebase bool `json:"firebase"`
}
