package predictor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SignalBridge/internal/domain/models"
	xhttp "SignalBridge/pkg/http"

	"github.com/tidwall/gjson"
)

// ErrUnavailable covers every way the model endpoint can fail to answer:
// transport errors, timeouts, non-2xx statuses and unparseable bodies.
var ErrUnavailable = errors.New("predictor unavailable")

// Client posts feature vectors to a hosted inference endpoint.
type Client struct {
	url  string
	http *xhttp.Client
}

func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

// Predict sends {"features":[...]} and reads the decision and confidence.
// The decision is taken from "decision", falling back to "signal".
func (c *Client) Predict(ctx context.Context, f models.Features) (models.Prediction, error) {
	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.url,
		Body:   predictRequest{Features: f[:]},
	}, &body)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parsePrediction(body)
}

func parsePrediction(body []byte) (models.Prediction, error) {
	if !gjson.ValidBytes(body) {
		return models.Prediction{}, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return models.Prediction{}, fmt.Errorf("%w: response is not an object", ErrUnavailable)
	}

	decision := res.Get("decision")
	if !decision.Exists() {
		decision = res.Get("signal")
	}
	return models.Prediction{
		Decision:   scalar(decision),
		Confidence: scalar(res.Get("confidence")),
	}, nil
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.True, gjson.False:
		return v.Raw
	}
	return ""
}
