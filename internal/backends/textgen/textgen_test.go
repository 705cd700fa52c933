package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teloslabs/telos-gateway/internal/backends"
)

func newTestAdapter(url string) *Adapter {
	return New(backends.Options{
		BaseURL:   url,
		ModelName: "google/flan-t5-base",
		APIKey:    "hf_test",
		Timeout:   5 * time.Second,
	})
}

func TestSendParsesGeneratedText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`[{"generated_text":"the answer"}]`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Send(context.Background(), "the question", "default")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "the answer" {
		t.Errorf("output = %q", out)
	}
	if gotPath != "/models/google/flan-t5-base" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer hf_test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["inputs"] != "the question" {
		t.Errorf("inputs = %v", gotBody["inputs"])
	}
}

func TestSendUnrecognizedShapePassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Send(context.Background(), "q", "default")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != `{"unexpected":"shape"}` {
		t.Errorf("output = %q, want verbatim body", out)
	}
}

func TestSendBareStringResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`"plain reply"`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Send(context.Background(), "q", "default")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "plain reply" {
		t.Errorf("output = %q", out)
	}
}

func TestSendBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).Send(context.Background(), "q", "default")

	var be *backends.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if be.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", be.Status)
	}
	if be.Body == "" {
		t.Error("upstream body not captured")
	}
	if be.HTTPStatus() != be.Status {
		t.Error("HTTPStatus does not expose the upstream status")
	}
}

func TestSendTransportError(t *testing.T) {
	// Nothing listens on this port.
	_, err := newTestAdapter("http://127.0.0.1:1").Send(context.Background(), "q", "default")

	var te *backends.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestConfigureMergesOptions(t *testing.T) {
	a := New(backends.Options{ModelName: "model-a", APIKey: "key-a"})
	a.Configure(backends.Options{ModelName: "model-b"})

	if a.opts.ModelName != "model-b" {
		t.Errorf("model = %q, want the reconfigured value", a.opts.ModelName)
	}
	if a.opts.APIKey != "key-a" {
		t.Errorf("key = %q, want the original value preserved", a.opts.APIKey)
	}
	if a.opts.BaseURL != defaultBaseURL {
		t.Errorf("base url = %q, want default", a.opts.BaseURL)
	}
}
