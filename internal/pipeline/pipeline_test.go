package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/teloslabs/telos-gateway/internal/backends"
	"github.com/teloslabs/telos-gateway/internal/cache"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/internal/usagelog"
)

// stubAdapter counts calls and returns a canned reply or error.
type stubAdapter struct {
	mu       sync.Mutex
	calls    int
	sessions []string
	opts     backends.Options
	reply    string
	err      error
	delay    time.Duration
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Configure(opts backends.Options) { s.opts = backends.Merge(s.opts, opts) }

func (s *stubAdapter) Send(_ context.Context, input, sessionID string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.sessions = append(s.sessions, sessionID)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return "", s.err
	}
	if s.reply != "" {
		return s.reply, nil
	}
	return "echo: " + input, nil
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	writer   *usagelog.Writer
	adapter  *stubAdapter
}

func newFixture(t *testing.T, withCache bool, opts Options) *fixture {
	t.Helper()

	st, err := store.Open("", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logStore, err := usagelog.NewGormStore(st.DB())
	if err != nil {
		t.Fatalf("usage log store: %v", err)
	}
	writer, err := usagelog.NewWriter(context.Background(), logStore, nil)
	if err != nil {
		t.Fatalf("usage log writer: %v", err)
	}

	adapter := &stubAdapter{}
	factories := map[string]Factory{
		BackendTextGen: func(o backends.Options) backends.Adapter {
			adapter.Configure(o)
			return adapter
		},
	}

	var c cache.Cache
	if withCache {
		mc := cache.NewMemoryCache(context.Background())
		t.Cleanup(mc.Close)
		c = mc
	}

	p, err := New(st.ModelConfigs, c, writer, factories, Defaults{
		Provider:  BackendTextGen,
		ModelName: "google/flan-t5-base",
		BaseURL:   "https://api-inference.huggingface.co",
		Timeout:   5 * time.Second,
	}, opts)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	return &fixture{pipeline: p, store: st, writer: writer, adapter: adapter}
}

// entries flushes the writer and returns all persisted usage-log records in
// insertion order.
func (f *fixture) entries(t *testing.T) []usagelog.Record {
	t.Helper()
	if err := f.writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	var recs []usagelog.Record
	if err := f.store.DB().Order("created_at, id").Find(&recs).Error; err != nil {
		t.Fatalf("load records: %v", err)
	}
	return recs
}

func TestProcessDefaultModelFallback(t *testing.T) {
	f := newFixture(t, true, Options{})

	res, err := f.pipeline.Process(context.Background(), Request{
		OwnerID: "owner-1",
		Input:   "hello",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Model != "google/flan-t5-base" {
		t.Errorf("model = %q, want default", res.Model)
	}
	if res.Cached {
		t.Error("first request reported as cached")
	}
	if f.adapter.opts.ModelName != "google/flan-t5-base" {
		t.Errorf("adapter model = %q, want default", f.adapter.opts.ModelName)
	}
	if got := f.adapter.sessions; len(got) != 1 || got[0] != "default" {
		t.Errorf("sessions = %v, want [default]", got)
	}

	recs := f.entries(t)
	if len(recs) != 1 {
		t.Fatalf("got %d log entries, want 1", len(recs))
	}
	if recs[0].Status != usagelog.StatusOK || recs[0].CacheHit {
		t.Errorf("entry = %+v, want OK miss", recs[0])
	}
}

func TestProcessOwnerConfigOverridesModel(t *testing.T) {
	f := newFixture(t, true, Options{})
	ctx := context.Background()

	if _, err := f.store.ModelConfigs.Upsert(ctx, &store.ModelConfig{
		OwnerID:   "owner-1",
		Provider:  BackendTextGen,
		ModelName: "bigscience/bloom",
		APIKeyRef: "hf_secret",
	}); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	res, err := f.pipeline.Process(ctx, Request{OwnerID: "owner-1", Input: "hi"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Model != "bigscience/bloom" {
		t.Errorf("model = %q, want configured model", res.Model)
	}
	if f.adapter.opts.APIKey != "hf_secret" {
		t.Errorf("adapter key = %q, want configured key", f.adapter.opts.APIKey)
	}
}

func TestProcessMissThenHit(t *testing.T) {
	f := newFixture(t, true, Options{})
	ctx := context.Background()
	req := Request{OwnerID: "owner-1", CredentialID: "cred-1", Input: "same prompt"}

	first, err := f.pipeline.Process(ctx, req)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := f.pipeline.Process(ctx, req)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if first.Cached {
		t.Error("first request reported as cached")
	}
	if !second.Cached {
		t.Error("second identical request missed the cache")
	}
	if second.Output != first.Output {
		t.Errorf("cached output %q differs from original %q", second.Output, first.Output)
	}
	if second.LatencyMs != 0 {
		t.Errorf("cached latency = %d, want 0", second.LatencyMs)
	}
	if n := f.adapter.callCount(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}

	recs := f.entries(t)
	if len(recs) != 2 {
		t.Fatalf("got %d log entries, want 2", len(recs))
	}
	if recs[0].CacheHit {
		t.Error("first entry marked as cache hit")
	}
	if !recs[1].CacheHit || recs[1].LatencyMs != 0 {
		t.Errorf("second entry = %+v, want cache hit with zero latency", recs[1])
	}
	for _, r := range recs {
		if r.CredentialID != "cred-1" {
			t.Errorf("entry credential = %q, want cred-1", r.CredentialID)
		}
		if r.Fingerprint == "" {
			t.Error("entry has empty fingerprint")
		}
	}
}

// slowLookupCache misses every Get after a fixed delay and drops Sets,
// mimicking a cache whose lookups time out.
type slowLookupCache struct {
	delay time.Duration
}

func (c *slowLookupCache) Get(context.Context, string) ([]byte, bool) {
	time.Sleep(c.delay)
	return nil, false
}

func (c *slowLookupCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func TestProcessLatencyExcludesCacheLookup(t *testing.T) {
	st, err := store.Open("", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	adapter := &stubAdapter{}
	factories := map[string]Factory{
		BackendTextGen: func(o backends.Options) backends.Adapter {
			adapter.Configure(o)
			return adapter
		},
	}

	cacheDelay := 300 * time.Millisecond
	p, err := New(st.ModelConfigs, &slowLookupCache{delay: cacheDelay}, nil, factories, Defaults{
		Provider:  BackendTextGen,
		ModelName: "google/flan-t5-base",
		Timeout:   5 * time.Second,
	}, Options{})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	res, err := p.Process(context.Background(), Request{OwnerID: "owner-1", Input: "hello"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// The reported latency covers the backend exchange only; a slow cache
	// lookup on a miss must not be billed to the model.
	if res.LatencyMs >= cacheDelay.Milliseconds() {
		t.Fatalf("latency = %dms, includes the %v cache lookup", res.LatencyMs, cacheDelay)
	}
}

func TestProcessOwnersDoNotShareCache(t *testing.T) {
	f := newFixture(t, true, Options{})
	ctx := context.Background()

	if _, err := f.pipeline.Process(ctx, Request{OwnerID: "owner-1", Input: "prompt"}); err != nil {
		t.Fatalf("owner-1 Process: %v", err)
	}
	res, err := f.pipeline.Process(ctx, Request{OwnerID: "owner-2", Input: "prompt"})
	if err != nil {
		t.Fatalf("owner-2 Process: %v", err)
	}
	if res.Cached {
		t.Error("owner-2 served from owner-1's cache entry")
	}
	if n := f.adapter.callCount(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestProcessBackendErrorLogged(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.adapter.err = &backends.BackendError{Name: "stub", Status: 503, Body: "overloaded"}

	_, err := f.pipeline.Process(context.Background(), Request{OwnerID: "owner-1", Input: "boom"})
	var be *backends.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}

	recs := f.entries(t)
	if len(recs) != 1 {
		t.Fatalf("got %d log entries, want 1", len(recs))
	}
	e := recs[0]
	if e.Status != usagelog.StatusErr {
		t.Errorf("status = %q, want ERR", e.Status)
	}
	if e.ErrorKind != usagelog.ErrKindBackend {
		t.Errorf("error kind = %q, want %q", e.ErrorKind, usagelog.ErrKindBackend)
	}
	if e.Output == "" {
		t.Error("error entry has no message")
	}
}

func TestProcessTransportErrorKind(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.adapter.err = &backends.TransportError{Name: "stub", Err: fmt.Errorf("connection refused")}

	_, err := f.pipeline.Process(context.Background(), Request{OwnerID: "owner-1", Input: "boom"})
	if err == nil {
		t.Fatal("want error")
	}

	recs := f.entries(t)
	if len(recs) != 1 || recs[0].ErrorKind != usagelog.ErrKindTransport {
		t.Fatalf("entries = %+v, want one TransportError entry", recs)
	}
}

func TestProcessErrorNotCached(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.adapter.err = &backends.BackendError{Name: "stub", Status: 500, Body: "boom"}
	ctx := context.Background()
	req := Request{OwnerID: "owner-1", Input: "retry me"}

	if _, err := f.pipeline.Process(ctx, req); err == nil {
		t.Fatal("want error")
	}

	// Clear the fault; the retry must reach the backend, not a cached error.
	f.adapter.err = nil
	res, err := f.pipeline.Process(ctx, req)
	if err != nil {
		t.Fatalf("Process after recovery: %v", err)
	}
	if res.Cached {
		t.Error("failed invocation was served from cache")
	}
	if n := f.adapter.callCount(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestProcessEmptyInputRejected(t *testing.T) {
	f := newFixture(t, true, Options{})

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := f.pipeline.Process(context.Background(), Request{OwnerID: "owner-1", Input: input})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %q: err = %v, want ErrInvalidInput", input, err)
		}
	}
	if n := f.adapter.callCount(); n != 0 {
		t.Errorf("backend called %d times for rejected input", n)
	}

	recs := f.entries(t)
	if len(recs) != 0 {
		t.Fatalf("rejected inputs produced %d log entries", len(recs))
	}
}

func TestProcessWithoutCache(t *testing.T) {
	f := newFixture(t, false, Options{})
	ctx := context.Background()
	req := Request{OwnerID: "owner-1", Input: "no cache"}

	for i := 0; i < 3; i++ {
		res, err := f.pipeline.Process(ctx, req)
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
		if res.Cached {
			t.Errorf("Process %d reported cached without a cache", i)
		}
	}
	if n := f.adapter.callCount(); n != 3 {
		t.Errorf("backend called %d times, want 3", n)
	}

	recs := f.entries(t)
	if len(recs) != 3 {
		t.Fatalf("got %d log entries, want 3", len(recs))
	}
}

func TestProcessCoalescesConcurrentMisses(t *testing.T) {
	f := newFixture(t, true, Options{Coalesce: true})
	f.adapter.delay = 50 * time.Millisecond
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pipeline.Process(ctx, Request{OwnerID: "owner-1", Input: "burst"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Process %d: %v", i, err)
		}
	}
	if calls := f.adapter.callCount(); calls != 1 {
		t.Errorf("backend called %d times, want 1 coalesced call", calls)
	}

	// Every caller still gets its own log entry.
	recs := f.entries(t)
	if len(recs) != n {
		t.Fatalf("got %d log entries, want %d", len(recs), n)
	}
}

func TestProcessUnknownBackendRejected(t *testing.T) {
	f := newFixture(t, true, Options{})
	ctx := context.Background()

	if _, err := f.store.ModelConfigs.Upsert(ctx, &store.ModelConfig{
		OwnerID:  "owner-1",
		Provider: "no-such-backend",
	}); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	_, err := f.pipeline.Process(ctx, Request{OwnerID: "owner-1", Input: "hi"})
	if err == nil {
		t.Fatal("want error for unknown backend")
	}
	if n := f.adapter.callCount(); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("owner-1", "m", "input")
	b := Fingerprint("owner-1", "m", "input")
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if Fingerprint("owner-2", "m", "input") == a {
		t.Error("fingerprint ignores owner")
	}
	if Fingerprint("owner-1", "other", "input") == a {
		t.Error("fingerprint ignores model")
	}
	if Fingerprint("owner-1", "m", "other") == a {
		t.Error("fingerprint ignores input")
	}
}
