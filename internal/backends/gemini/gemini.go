// Package gemini adapts the Google Gemini API (official GenAI SDK).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/teloslabs/telos-gateway/internal/backends"
)

const adapterName = "gemini"

// Adapter implements backends.Adapter over the GenAI SDK.
type Adapter struct {
	opts backends.Options
}

// New creates a gemini Adapter with the given initial options.
func New(opts backends.Options) *Adapter {
	a := &Adapter{
		opts: backends.Options{Timeout: backends.DefaultTimeout},
	}
	a.Configure(opts)
	return a
}

func (a *Adapter) Name() string { return adapterName }

// Configure merges non-zero fields of opts into the current settings.
func (a *Adapter) Configure(opts backends.Options) {
	a.opts = backends.Merge(a.opts, opts)
}

// Send issues one generation call. sessionID is accepted for interface
// stability; this variant is stateless per call.
func (a *Adapter) Send(ctx context.Context, input, _ string) (string, error) {
	if a.opts.APIKey == "" {
		return "", fmt.Errorf("gemini: no API key configured")
	}

	cfg := &genai.ClientConfig{
		APIKey:     a.opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: a.opts.Timeout},
	}
	if a.opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: a.opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", &backends.TransportError{Name: adapterName, Err: err}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(input, genai.RoleUser),
	}

	resp, err := client.Models.GenerateContent(ctx, a.opts.ModelName, contents, nil)
	if err != nil {
		return "", toBackendError(err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func toBackendError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &backends.BackendError{
			Name:   adapterName,
			Status: apiErr.Code,
			Body:   apiErr.Message,
		}
	}
	return &backends.TransportError{Name: adapterName, Err: err}
}
