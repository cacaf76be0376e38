package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"SignalBridge/internal/domain/models"
	drepo "SignalBridge/internal/domain/repository"

	"github.com/stretchr/testify/mock"
)

type mockFeatures struct{ mock.Mock }

func (m *mockFeatures) Fetch(ctx context.Context, indicator, symbol, interval string, params map[string]string) (map[string]string, error) {
	args := m.Called(ctx, indicator, symbol, interval, params)
	v, _ := args.Get(0).(map[string]string)
	return v, args.Error(1)
}

func (m *mockFeatures) Features(ctx context.Context, symbol, interval string) (models.Features, error) {
	args := m.Called(ctx, symbol, interval)
	return args.Get(0).(models.Features), args.Error(1)
}

type mockPrice struct{ mock.Mock }

func (m *mockPrice) Price(ctx context.Context) (float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Error(1)
}

type mockPredictor struct{ mock.Mock }

func (m *mockPredictor) Predict(ctx context.Context, f models.Features) (models.Prediction, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(models.Prediction), args.Error(1)
}

// memStore is an in-memory RecordStore with Firebase-like PATCH merge semantics.
type memStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]interface{}
	puts     []string
	patches  []patchCall
	gets     int
	patchErr error
	putErr   error
	getErr   error
}

type patchCall struct {
	path   string
	fields map[string]interface{}
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]map[string]interface{}{}}
}

func toMap(v interface{}) map[string]interface{} {
	b, _ := json.Marshal(v)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	return m
}

func (s *memStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	if path == drepo.SignalsRoot {
		if len(s.docs) == 0 {
			return nil, nil
		}
		all := map[string]interface{}{}
		for p, d := range s.docs {
			all[p[len(drepo.SignalsRoot)+1:]] = d
		}
		b, _ := json.Marshal(all)
		return b, nil
	}
	d, ok := s.docs[path]
	if !ok {
		return nil, nil
	}
	b, _ := json.Marshal(d)
	return b, nil
}

func (s *memStore) Put(_ context.Context, path string, doc interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, path)
	s.docs[path] = toMap(doc)
	return nil
}

func (s *memStore) Patch(_ context.Context, path string, fields interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := toMap(fields)
	s.patches = append(s.patches, patchCall{path: path, fields: m})
	if s.patchErr != nil {
		return s.patchErr
	}
	if s.docs[path] == nil {
		s.docs[path] = map[string]interface{}{}
	}
	for k, v := range m {
		s.docs[path][k] = v
	}
	return nil
}

func (s *memStore) doc(path string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[path]
}

func (s *memStore) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patches)
}

type fixedInterval struct{ v string }

func (f *fixedInterval) Get() (string, error) { return f.v, nil }
func (f *fixedInterval) Set(v string) error {
	if v == "" {
		return errors.New("empty")
	}
	f.v = v
	return nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	created     int
	settlements map[string]int
	errs        map[string]int
	pending     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{settlements: map[string]int{}, errs: map[string]int{}}
}

func (m *recordingMetrics) RecordSignalCreated(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}
func (m *recordingMetrics) RecordSettlement(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[result]++
}
func (m *recordingMetrics) RecordPending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
}
func (m *recordingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[kind]++
}
func (m *recordingMetrics) RecordLastPrice(string, float64) {}
func (m *recordingMetrics) RecordLatency(string, float64)   {}

type recordingSink struct {
	mu     sync.Mutex
	events []models.SignalEvent
}

func (s *recordingSink) Publish(_ context.Context, ev models.SignalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
func (s *recordingSink) Close() error { return nil }

type memRequestLog struct {
	mu      sync.Mutex
	entries []drepo.RequestLogEntry
}

func (l *memRequestLog) Append(e drepo.RequestLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}
func (l *memRequestLog) Read() ([]drepo.RequestLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]drepo.RequestLogEntry(nil), l.entries...), nil
}

// sequenceIDs hands out the given ids in order.
func sequenceIDs(ids ...string) IDGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(ids) {
			return "", errors.New("out of ids")
		}
		id := ids[i]
		i++
		return id, nil
	}
}
