package price

import (
	"context"
	"fmt"
	"strings"
	"time"

	xhttp "SignalBridge/pkg/http"

	"github.com/tidwall/gjson"
)

// HTTPOracle reads a spot price from a JSON endpoint such as
// https://min-api.cryptocompare.com/data/price?fsym=BTC&tsyms=USD.
type HTTPOracle struct {
	url   string
	field string
	http  *xhttp.Client
}

// NewHTTPOracle creates an oracle reading the number at field (a gjson path) of url's body.
func NewHTTPOracle(url, field string, timeout time.Duration) *HTTPOracle {
	if field == "" {
		field = "USD"
	}
	return &HTTPOracle{
		url:   url,
		field: field,
		http:  xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithRetry(1, 200*time.Millisecond)),
	}
}

// Price returns the current price. A response without a numeric value at the
// configured field yields 0 and no error; only transport failures are errors.
func (o *HTTPOracle) Price(ctx context.Context) (float64, error) {
	var body []byte
	err := o.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    o.url,
	}, &body)
	if err != nil {
		return 0, fmt.Errorf("price fetch: %w", err)
	}
	return parsePrice(body, o.field), nil
}

func parsePrice(body []byte, field string) float64 {
	v := gjson.GetBytes(body, field)
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if gjson.Parse(s).Type == gjson.Number {
			return gjson.Parse(s).Float()
		}
	}
	return 0
}
