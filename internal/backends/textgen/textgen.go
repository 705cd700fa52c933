// Package textgen is the default inference adapter: a HuggingFace-style
// text-generation HTTP API.
//
// One POST per Send to <base>/models/<model> with the input text and
// generation options. The response schema varies by model, so parsing
// tolerates two shapes: an array of objects carrying a generated_text field
// (the first element wins), or anything else, which is passed through
// verbatim as the output text. This tolerance is a compatibility contract
// with the third-party backend, not a parsing shortcut.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/teloslabs/telos-gateway/internal/backends"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co"
	adapterName    = "textgen"
)

// Adapter implements backends.Adapter for text-generation endpoints.
type Adapter struct {
	opts   backends.Options
	client *http.Client
}

// New creates a textgen Adapter with the given initial options.
func New(opts backends.Options) *Adapter {
	a := &Adapter{
		opts: backends.Options{
			BaseURL: defaultBaseURL,
			Timeout: backends.DefaultTimeout,
		},
	}
	a.Configure(opts)
	return a
}

func (a *Adapter) Name() string { return adapterName }

// Configure merges non-zero fields of opts into the current settings.
func (a *Adapter) Configure(opts backends.Options) {
	a.opts = backends.Merge(a.opts, opts)
	a.client = &http.Client{Timeout: a.opts.Timeout}
}

// generateRequest is the outbound JSON body.
type generateRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		ReturnFullText bool `json:"return_full_text"`
	} `json:"parameters"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

// Send issues one generation call. sessionID is accepted for interface
// stability; this variant is stateless per call.
func (a *Adapter) Send(ctx context.Context, input, _ string) (string, error) {
	url := fmt.Sprintf("%s/models/%s", a.opts.BaseURL, a.opts.ModelName)

	var body generateRequest
	body.Inputs = input
	body.Parameters.ReturnFullText = false
	body.Options.WaitForModel = true

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("textgen: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("textgen: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &backends.TransportError{Name: adapterName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &backends.TransportError{Name: adapterName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &backends.BackendError{
			Name:   adapterName,
			Status: resp.StatusCode,
			Body:   string(raw),
		}
	}

	return parseOutput(raw), nil
}

// parseOutput extracts the generated text from a response body.
func parseOutput(raw []byte) string {
	// Common text-generation shape: [{"generated_text": "..."}].
	var arr []struct {
		GeneratedText *string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 && arr[0].GeneratedText != nil {
		return *arr[0].GeneratedText
	}

	// Bare JSON string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	// Unrecognized shape — pass it through verbatim.
	return string(raw)
}
