package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/loopd/internal/config"
)

// ErrEmptyResponse is returned when a model answers with no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// LangChain generates through a langchaingo model. Tools are not offered to
// the model; AllowedTools is ignored.
type LangChain struct {
	name      string
	model     llms.Model
	modelName string
	maxTokens int
}

// NewLangChain wraps model. name identifies the backend, modelName is the
// default when Options.Model is empty.
func NewLangChain(name string, model llms.Model, modelName string, maxTokens int) *LangChain {
	return &LangChain{name: name, model: model, modelName: modelName, maxTokens: maxTokens}
}

// NewAnthropic builds an Anthropic backend from cfg. The client always talks
// to the public Anthropic API.
func NewAnthropic(cfg config.GeneratorConfig) (*LangChain, error) {
	opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey.Value())}
	if cfg.Model != "" {
		opts = append(opts, anthropic.WithModel(cfg.Model))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return NewLangChain(config.BackendAnthropic, llm, cfg.Model, cfg.MaxTokens), nil
}

// NewOpenAI builds an OpenAI-compatible backend from cfg. BaseURL points it
// at any server speaking the OpenAI API.
func NewOpenAI(cfg config.GeneratorConfig) (*LangChain, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey.Value())}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLangChain(config.BackendOpenAI, llm, cfg.Model, cfg.MaxTokens), nil
}

// Name implements Generator.
func (l *LangChain) Name() string {
	return l.name
}

// Generate implements Generator. Text is streamed as the model produces it;
// models that do not stream deliver it in one chunk at the end.
func (l *LangChain) Generate(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	return NewStream(ctx, opts.Timeout, func(ctx context.Context, emit EmitFunc) error {
		return l.run(ctx, prompt, opts, emit)
	}), nil
}

func (l *LangChain) run(ctx context.Context, prompt string, opts Options, emit EmitFunc) error {
	var streamed bool
	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			if !emit(Chunk{Text: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}),
	}
	if model := opts.Model; model != "" {
		callOpts = append(callOpts, llms.WithModel(model))
	} else if l.modelName != "" {
		callOpts = append(callOpts, llms.WithModel(l.modelName))
	}
	if l.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(l.maxTokens))
	}

	msgs := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}
	resp, err := l.model.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return fmt.Errorf("%s generate: %w", l.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ErrEmptyResponse
	}

	choice := resp.Choices[0]
	u := usageFromInfo(choice.GenerationInfo)
	chunk := Chunk{Usage: &u}
	if !streamed {
		chunk.Text = choice.Content
	}
	emit(chunk)
	return nil
}

// usageFromInfo reads token counts from a choice's GenerationInfo. Providers
// name the keys differently.
func usageFromInfo(info map[string]any) Usage {
	var u Usage
	u.InputTokens = firstInt(info, "InputTokens", "PromptTokens", "input_tokens", "prompt_tokens")
	u.OutputTokens = firstInt(info, "OutputTokens", "CompletionTokens", "output_tokens", "completion_tokens")
	return u
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
