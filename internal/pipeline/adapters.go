package pipeline

import (
	"github.com/teloslabs/telos-gateway/internal/backends"
	anthropicAdapter "github.com/teloslabs/telos-gateway/internal/backends/anthropic"
	"github.com/teloslabs/telos-gateway/internal/backends/gemini"
	"github.com/teloslabs/telos-gateway/internal/backends/openaicompat"
	"github.com/teloslabs/telos-gateway/internal/backends/textgen"
)

// Backend names accepted in model configs.
const (
	BackendTextGen      = "textgen"
	BackendOpenAICompat = "openaicompat"
	BackendAnthropic    = "anthropic"
	BackendGemini       = "gemini"
)

// DefaultFactories returns the factory for every built-in adapter variant.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		BackendTextGen:      func(opts backends.Options) backends.Adapter { return textgen.New(opts) },
		BackendOpenAICompat: func(opts backends.Options) backends.Adapter { return openaicompat.New(opts) },
		BackendAnthropic:    func(opts backends.Options) backends.Adapter { return anthropicAdapter.New(opts) },
		BackendGemini:       func(opts backends.Options) backends.Adapter { return gemini.New(opts) },
	}
}

// KnownBackend reports whether name is a built-in adapter variant.
func KnownBackend(name string) bool {
	switch name {
	case BackendTextGen, BackendOpenAICompat, BackendAnthropic, BackendGemini:
		return true
	}
	return false
}
