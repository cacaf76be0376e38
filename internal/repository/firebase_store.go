package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalBridge/internal/domain/repository"
	"SignalBridge/pkg/cache"
	xhttp "SignalBridge/pkg/http"
)

// ErrStoreUnavailable is returned when the record store cannot be reached or
// answers with a non-success status.
var ErrStoreUnavailable = errors.New("record store unavailable")

const firebaseCachePrefix = "fb"

// FirebaseStore talks to a Firebase Realtime Database over its REST API:
// every path maps to {url}/{path}.json. Reads are cached for a short soft TTL
// and every write drops the whole read cache.
type FirebaseStore struct {
	baseURL string
	authKey string
	ttl     time.Duration
	http    *xhttp.Client
	cache   cache.Store
}

// NewFirebaseStore creates a store. A nil cache disables read caching.
func NewFirebaseStore(baseURL, authKey string, timeout, ttl time.Duration, c cache.Store) *FirebaseStore {
	return &FirebaseStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		authKey: authKey,
		ttl:     ttl,
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
		cache:   c,
	}
}

var _ repository.RecordStore = (*FirebaseStore)(nil)

func (s *FirebaseStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	key := cache.GenerateKey(firebaseCachePrefix, path)
	if s.cache != nil && s.ttl > 0 {
		var cached []byte
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return nullToNil(cached), nil
		}
	}

	var body []byte
	if err := s.http.SendAndParse(ctx, s.request(xhttp.MethodGet, path, nil), &body); err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, path, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: get %s: invalid json", ErrStoreUnavailable, path)
	}

	if s.cache != nil && s.ttl > 0 {
		_ = s.cache.Set(ctx, key, body, s.ttl)
	}
	return nullToNil(body), nil
}

func (s *FirebaseStore) Put(ctx context.Context, path string, doc interface{}) error {
	return s.write(ctx, xhttp.MethodPut, path, doc)
}

func (s *FirebaseStore) Patch(ctx context.Context, path string, fields interface{}) error {
	return s.write(ctx, xhttp.MethodPatch, path, fields)
}

// Ping reads the root shallowly; used by the health endpoint.
func (s *FirebaseStore) Ping(ctx context.Context) error {
	opts := s.request(xhttp.MethodGet, "", nil)
	opts.QueryParams["shallow"] = []string{"true"}
	if err := s.http.SendAndParse(ctx, opts, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *FirebaseStore) write(ctx context.Context, method, path string, body interface{}) error {
	err := s.http.SendAndParse(ctx, s.request(method, path, body), nil)
	s.invalidate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrStoreUnavailable, strings.ToLower(method), path, err)
	}
	return nil
}

func (s *FirebaseStore) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.DeleteByPattern(ctx, cache.BuildPattern(firebaseCachePrefix + ":"))
}

func (s *FirebaseStore) request(method, path string, body interface{}) *xhttp.RequestOptions {
	u := s.baseURL + "/" + strings.Trim(path, "/") + ".json"
	q := map[string][]string{}
	if s.authKey != "" {
		q["auth"] = []string{s.authKey}
	}
	return &xhttp.RequestOptions{
		Method:      method,
		URL:         u,
		QueryParams: q,
		Body:        body,
	}
}

func nullToNil(b []byte) json.RawMessage {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return json.RawMessage(t)
}

// LogPublisher ships aggregated error logs from the logger collector into the
// record store, one child document per batch.
type LogPublisher struct {
	store repository.RecordStore
	nowFn func() time.Time
}

func NewLogPublisher(store repository.RecordStore) *LogPublisher {
	return &LogPublisher{store: store, nowFn: time.Now}
}

func (p *LogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	path := fmt.Sprintf("%s/%d", strings.Trim(topic, "/"), p.nowFn().UnixNano())
	return p.store.Put(ctx, path, payload)
}
