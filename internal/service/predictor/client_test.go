package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SignalBridge/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictSendsFeatures(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"decision":"buy","confidence":"0.82"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	p, err := c.Predict(context.Background(), models.Features{55.2, 61000, 60500, 120.5, 100.1})
	require.NoError(t, err)
	assert.Equal(t, models.Prediction{Decision: "buy", Confidence: "0.82"}, p)
	assert.Equal(t, []float64{55.2, 61000, 60500, 120.5, 100.1}, got.Features)
}

func TestParsePrediction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.Prediction
	}{
		{"decision and string confidence", `{"decision":"sell","confidence":"0.5"}`, models.Prediction{Decision: "sell", Confidence: "0.5"}},
		{"numeric confidence", `{"decision":"hold","confidence":0.7312}`, models.Prediction{Decision: "hold", Confidence: "0.7312"}},
		{"signal fallback", `{"signal":"buy","confidence":1}`, models.Prediction{Decision: "buy", Confidence: "1"}},
		{"decision wins over signal", `{"decision":"sell","signal":"buy"}`, models.Prediction{Decision: "sell"}},
		{"empty object", `{}`, models.Prediction{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := parsePrediction([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestPredictUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>busy</html>`))
		}},
		{"not an object", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[1,2]`))
		}},
		{"timeout", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"decision":"buy"}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(srv.URL, 50*time.Millisecond)
			_, err := c.Predict(context.Background(), models.Features{})
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}
