// Package anthropic adapts the Anthropic Messages API (official SDK).
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teloslabs/telos-gateway/internal/backends"
)

const (
	adapterName      = "anthropic"
	defaultMaxTokens = 4096
)

// Adapter implements backends.Adapter over the official Anthropic SDK.
type Adapter struct {
	opts backends.Options
}

// New creates an anthropic Adapter with the given initial options.
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

// Send issues one message call. sessionID is accepted for interface
// stability; this variant is stateless per call.
func (a *Adapter) Send(ctx context.Context, input, _ string) (string, error) {
	if a.opts.APIKey == "" {
		return "", fmt.Errorf("anthropic: no API key configured")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(a.opts.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: a.opts.Timeout}),
	}
	if a.opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(a.opts.BaseURL))
	}
	client := anthropicSDK.NewClient(clientOpts...)

	msg, err := client.Messages.New(ctx, anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(a.opts.ModelName),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicSDK.MessageParam{
			anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(input)),
		},
	})
	if err != nil {
		return "", toBackendError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropicSDK.TextBlock:
			sb.WriteString(v.Text)
		case *anthropicSDK.TextBlock:
			sb.WriteString(v.Text)
		}
	}
	return sb.String(), nil
}

func toBackendError(err error) error {
	var apiErr *anthropicSDK.Error
	if errors.As(err, &apiErr) {
		return &backends.BackendError{
			Name:   adapterName,
			Status: apiErr.StatusCode,
			Body:   apiErr.Error(),
		}
	}
	return &backends.TransportError{Name: adapterName, Err: err}
}
