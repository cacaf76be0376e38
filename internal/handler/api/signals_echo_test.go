package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	models "SignalBridge/internal/domain/models"
	"SignalBridge/internal/repository"
	"SignalBridge/internal/service/ratelimit"
	"SignalBridge/internal/usecase"
	xhttp "SignalBridge/pkg/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCreator struct{ mock.Mock }

func (m *mockCreator) Create(ctx context.Context, symbol, interval string) (*models.Signal, error) {
	args := m.Called(ctx, symbol, interval)
	s, _ := args.Get(0).(*models.Signal)
	return s, args.Error(1)
}

type mockReader struct{ mock.Mock }

func (m *mockReader) List(ctx context.Context) ([]models.Signal, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]models.Signal)
	return s, args.Error(1)
}

func (m *mockReader) Get(ctx context.Context, id string) (*models.Signal, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*models.Signal)
	return s, args.Error(1)
}

func (m *mockReader) Pending(ctx context.Context) ([]models.PendingEntry, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).([]models.PendingEntry)
	return s, args.Error(1)
}

func (m *mockReader) Features(ctx context.Context, symbol, interval string) (models.FeaturesResponse, error) {
	args := m.Called(ctx, symbol, interval)
	return args.Get(0).(models.FeaturesResponse), args.Error(1)
}

func (m *mockReader) Interval() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockReader) SetInterval(interval string) error {
	return m.Called(interval).Error(0)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	creator *mockCreator
	reader  *mockReader
	reqLog  *repository.FileRequestLog
	server  *xhttp.Server
}

func newAPIFixture(t *testing.T, limiter *ratelimit.Limiter, store Pinger) *apiFixture {
	t.Helper()
	f := &apiFixture{
		creator: &mockCreator{},
		reader:  &mockReader{},
		reqLog:  repository.NewFileRequestLog(filepath.Join(t.TempDir(), "logs.json"), 500),
	}
	h := NewSignalsEchoHandler(nil, f.creator, f.reader, f.reqLog, store, limiter, nil)
	reg := prometheus.NewRegistry()
	f.server = xhttp.NewServer(h, xhttp.WithMetrics(reg, reg, "/metrics"))
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var errs []xhttp.AppError
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func TestCreateSignal(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	sig := &models.Signal{ID: "04217", Symbol: "BTC/USD", Interval: "30min", Decision: "buy", Confidence: "0.82"}
	f.creator.On("Create", mock.Anything, "", "30min").Return(sig, nil)

	rec, env := f.do(t, http.MethodPost, "/api/signals", `{"interval":"30min"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusCreated, env.Status)

	var got models.CreateSignalResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "04217", got.ID)
	assert.Equal(t, "buy", got.Signal.Decision)
	assert.Nil(t, got.Signal.PriceExit)

	logs, err := f.reqLog.Read()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "POST", logs[0].Method)
	assert.Equal(t, "/api/signals", logs[0].Path)
	assert.Equal(t, http.StatusCreated, logs[0].Status)
}

func TestCreateSignalErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"features", &usecase.SignalError{Kind: usecase.FeatureUnavailable, Stage: "features", Err: errors.New("no values")}, http.StatusBadRequest, "ERR_FEATURE_UNAVAILABLE"},
		{"predictor", &usecase.SignalError{Kind: usecase.PredictorUnavailable, Stage: "predict", Err: errors.New("timeout")}, http.StatusBadGateway, "ERR_PREDICTOR_UNAVAILABLE"},
		{"price", &usecase.SignalError{Kind: usecase.PriceUnavailable, Stage: "price", Err: errors.New("refused")}, http.StatusBadGateway, "ERR_PRICE_UNAVAILABLE"},
		{"store", &usecase.SignalError{Kind: usecase.StoreUnavailable, Stage: "persist", Err: errors.New("503")}, http.StatusBadGateway, "ERR_STORE_UNAVAILABLE"},
		{"pending", &usecase.SignalError{Kind: usecase.PendingUnavailable, Stage: "register", Err: errors.New("disk")}, http.StatusInternalServerError, "ERR_PENDING_UNAVAILABLE"},
		{"symbol", &usecase.SignalError{Kind: usecase.UnsupportedSymbol, Stage: "symbol", Err: errors.New("ETH/USD")}, http.StatusBadRequest, "ERR_UNSUPPORTED_SYMBOL"},
		{"untagged", errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, nil, nil)
			f.creator.On("Create", mock.Anything, "BTC/USD", "").Return(nil, tt.err)

			rec, env := f.do(t, http.MethodPost, "/api/signals", `{"symbol":"BTC/USD"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, env))
		})
	}
}

func TestErrorCarriesFailingStage(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.creator.On("Create", mock.Anything, "", "").
		Return(nil, &usecase.SignalError{Kind: usecase.PredictorUnavailable, Stage: "predict", Err: errors.New("timeout")})

	_, env := f.do(t, http.MethodPost, "/api/signals", `{}`)
	var errs []xhttp.AppError
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "predict", errs[0].Params["stage"])
}

func TestCreateSignalRejectsUnknownInterval(t *testing.T) {
	f := newAPIFixture(t, nil, nil)

	rec, env := f.do(t, http.MethodPost, "/api/signals", `{"interval":"3min"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errs []xhttp.ValidationError
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_INTERVAL", errs[0].Code)
	f.creator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSignalRateLimited(t *testing.T) {
	f := newAPIFixture(t, ratelimit.New(1, 0), nil)
	f.creator.On("Create", mock.Anything, "", "").Return(&models.Signal{ID: "00001"}, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/signals", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec, env := f.do(t, http.MethodPost, "/api/signals", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ERR_RATE_LIMITED", errorCode(t, env))
	f.creator.AssertNumberOfCalls(t, "Create", 1)
}

func TestListSignals(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.reader.On("List", mock.Anything).Return([]models.Signal{{ID: "00003"}, {ID: "00002"}, {ID: "00001"}}, nil)

	rec, env := f.do(t, http.MethodGet, "/api/signals?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Signal `json:"rows"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(3), list.Total)
	require.Len(t, list.Rows, 2)
	assert.Equal(t, "00003", list.Rows[0].ID)
}

func TestGetSignal(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.reader.On("Get", mock.Anything, "04217").Return(&models.Signal{ID: "04217"}, nil)
	f.reader.On("Get", mock.Anything, "99999").Return(nil, &usecase.SignalError{Kind: usecase.NotFound, Stage: "get"})

	rec, _ := f.do(t, http.MethodGet, "/api/signals/04217", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/api/signals/99999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, env))

	rec, _ = f.do(t, http.MethodGet, "/api/signals/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntervalRoundTrip(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.reader.On("SetInterval", "1h").Return(nil)
	f.reader.On("Interval").Return("1h", nil)

	rec, _ := f.do(t, http.MethodPost, "/api/interval", `{"interval":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/api/interval", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.IntervalResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "1h", got.Interval)

	rec, _ = f.do(t, http.MethodPost, "/api/interval", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeaturesEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.reader.On("Features", mock.Anything, "ETH/USD", "").Return(models.FeaturesResponse{
		Symbol: "ETH/USD", Interval: "30min", Features: []float64{1, 2, 3, 4, 5},
	}, nil)

	rec, env := f.do(t, http.MethodGet, "/api/features?symbol=ETH/USD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.FeaturesResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, got.Features)
}

func TestHealth(t *testing.T) {
	down := newAPIFixture(t, nil, pingerFunc(func(context.Context) error { return repository.ErrStoreUnavailable }))
	rec, _ := down.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"firebase":false}`, rec.Body.String())

	up := newAPIFixture(t, nil, pingerFunc(func(context.Context) error { return nil }))
	rec, _ = up.do(t, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"ok":true,"firebase":true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	f.reader.On("Pending", mock.Anything).Return([]models.PendingEntry{}, nil)
	f.do(t, http.MethodGet, "/api/pending", "")

	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signalbridge_http_requests_total{method="GET",route="/api/pending",status="200"} 1`)
}
