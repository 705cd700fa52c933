// Package openaicompat adapts any OpenAI-compatible chat completions API
// (OpenAI itself, or the many services that speak its protocol).
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/teloslabs/telos-gateway/internal/backends"
)

const adapterName = "openaicompat"

// Adapter implements backends.Adapter over the official OpenAI SDK.
type Adapter struct {
	opts backends.Options
}

// New creates an openaicompat Adapter with the given initial options.
func New(opts backends.Options) *Adapter {
	a := &Adapter{
		opts: backends.Options{Timeout: backends.DefaultTimeout},
	}
	a.Configure(opts)
	return a
}

func (a *Adapter) Name() string { return adapterName }

// Configure merges non-zero fields of opts into the current settings. The
// SDK client is rebuilt lazily on the next Send so reconfiguration takes
// effect immediately.
func (a *Adapter) Configure(opts backends.Options) {
	a.opts = backends.Merge(a.opts, opts)
}

// Send issues one chat completion call. sessionID is accepted for interface
// stability; this variant is stateless per call.
func (a *Adapter) Send(ctx context.Context, input, _ string) (string, error) {
	if a.opts.APIKey == "" {
		return "", fmt.Errorf("openaicompat: no API key configured")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(a.opts.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: a.opts.Timeout}),
	}
	if a.opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(a.opts.BaseURL))
	}
	client := openaiSDK.NewClient(reqOpts...)

	resp, err := client.Chat.Completions.New(ctx, openaiSDK.ChatCompletionNewParams{
		Model: a.opts.ModelName,
		Messages: []openaiSDK.ChatCompletionMessageParamUnion{
			openaiSDK.UserMessage(input),
		},
	})
	if err != nil {
		return "", toBackendError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toBackendError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return &backends.BackendError{
			Name:   adapterName,
			Status: apiErr.StatusCode,
			Body:   apiErr.Error(),
		}
	}
	return &backends.TransportError{Name: adapterName, Err: err}
}
