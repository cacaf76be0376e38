package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalBridge/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFirebase is a tiny in-memory stand-in for the Realtime Database REST API.
type fakeFirebase struct {
	mu    sync.Mutex
	docs  map[string]map[string]interface{}
	gets  atomic.Int32
	calls []string
	fail  bool
}

func newFakeFirebase() *fakeFirebase {
	return &fakeFirebase{docs: map[string]map[string]interface{}{}}
}

func (f *fakeFirebase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if f.fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	path := r.URL.Path
	switch r.Method {
	case http.MethodGet:
		f.gets.Add(1)
		doc, ok := f.docs[path]
		if !ok {
			_, _ = w.Write([]byte("null"))
			return
		}
		_ = json.NewEncoder(w).Encode(doc)
	case http.MethodPut, http.MethodPatch:
		b, _ := io.ReadAll(r.Body)
		var in map[string]interface{}
		if err := json.Unmarshal(b, &in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPut || f.docs[path] == nil {
			f.docs[path] = in
		} else {
			for k, v := range in {
				f.docs[path][k] = v
			}
		}
		_, _ = w.Write(b)
	}
}

func TestFirebaseStorePutGetPatch(t *testing.T) {
	fb := newFakeFirebase()
	srv := httptest.NewServer(fb)
	defer srv.Close()

	s := NewFirebaseStore(srv.URL+"/", "", time.Second, 0, nil)
	ctx := context.Background()

	raw, err := s.Get(ctx, "signals/00001")
	require.NoError(t, err)
	assert.Nil(t, raw)

	require.NoError(t, s.Put(ctx, "signals/00001", map[string]interface{}{"id": "00001", "price_exit": nil}))
	require.NoError(t, s.Patch(ctx, "signals/00001", map[string]interface{}{"price_exit": 61500.25}))

	raw, err = s.Get(ctx, "signals/00001")
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "00001", doc["id"])
	assert.Equal(t, 61500.25, doc["price_exit"])

	assert.Contains(t, fb.calls, "PUT /signals/00001.json")
	assert.Contains(t, fb.calls, "PATCH /signals/00001.json")
}

func TestFirebaseStoreCachesReadsAndInvalidatesOnWrite(t *testing.T) {
	fb := newFakeFirebase()
	fb.docs["/signals/00002.json"] = map[string]interface{}{"id": "00002"}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewFirebaseStore(srv.URL, "", time.Second, 8*time.Second, mc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, "signals/00002")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fb.gets.Load())

	require.NoError(t, s.Patch(ctx, "signals/00002", map[string]interface{}{"decision": "buy"}))
	raw, err := s.Get(ctx, "signals/00002")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.gets.Load())
	assert.Contains(t, string(raw), `"decision":"buy"`)
}

func TestFirebaseStoreAuthParam(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.URL.Query().Get("auth")
		_, _ = w.Write([]byte("null"))
	}))
	defer srv.Close()

	s := NewFirebaseStore(srv.URL, "secret", time.Second, 0, nil)
	_, err := s.Get(context.Background(), "signals")
	require.NoError(t, err)
	assert.Equal(t, "secret", auth)
}

func TestFirebaseStoreUnavailable(t *testing.T) {
	fb := newFakeFirebase()
	fb.fail = true
	srv := httptest.NewServer(fb)
	defer srv.Close()

	s := NewFirebaseStore(srv.URL, "", time.Second, 0, nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "signals/1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.Put(ctx, "signals/1", map[string]string{"id": "1"}), ErrStoreUnavailable)
	assert.ErrorIs(t, s.Patch(ctx, "signals/1", map[string]string{"id": "1"}), ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
}

func TestLogPublisherWritesUnderTopic(t *testing.T) {
	fb := newFakeFirebase()
	srv := httptest.NewServer(fb)
	defer srv.Close()

	s := NewFirebaseStore(srv.URL, "", time.Second, 0, nil)
	p := NewLogPublisher(s)
	p.nowFn = func() time.Time { return time.Unix(0, 42) }

	require.NoError(t, p.PublishMessage(context.Background(), "logs/errors", map[string]int{"count": 3}))
	assert.Contains(t, fb.calls, "PUT /logs/errors/42.json")
}
