package llm

import (
	"context"
	"io"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)
}

// StreamingProvider writes the answer to w as the model produces it.
type StreamingProvider interface {
	ChatStream(ctx context.Context, history []Message, w io.Writer, options ...Option) error
}

// Stream uses ChatStream when p supports it and otherwise writes the whole
// Chat answer at once.
func Stream(ctx context.Context, p LLMProvider, history []Message, w io.Writer, options ...Option) error {
	if sp, ok := p.(StreamingProvider); ok {
		return sp.ChatStream(ctx, history, w, options...)
	}
	answer, err := p.Chat(ctx, history, options...)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, answer)
	return err
}
