// Package openai adapts the OpenAI chat completion API (and compatible
// endpoints) to the provider contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/voxline-ai/voxline/internal/providers"
)

type LLM struct {
	client *goopenai.Client
}

// NewLLM builds a streaming chat client. baseURL is optional and lets
// OpenAI-compatible gateways stand in for the real API.
func NewLLM(apiKey, baseURL string) (*LLM, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing api key")
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLM{client: goopenai.NewClientWithConfig(cfg)}, nil
}

func (l *LLM) Stream(ctx context.Context, model string, messages []providers.Message, functions []providers.FunctionSchema) (<-chan providers.LLMChunk, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(messages),
		Stream:   true,
		StreamOptions: &goopenai.StreamOptions{
			IncludeUsage: true,
		},
	}
	for _, fn := range functions {
		req.Tools = append(req.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}

	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: start completion stream: %w", err)
	}

	out := make(chan providers.LLMChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var (
			call  *providers.FunctionCall
			args  strings.Builder
			usage *providers.Usage
		)
		for {
			resp, err := stream.Recv()
			if err != nil {
				terminal := providers.LLMChunk{Done: true, Usage: usage}
				if !errors.Is(err, io.EOF) {
					terminal.Err = fmt.Errorf("openai: completion stream: %w", err)
				} else if call != nil {
					call.Arguments = args.String()
					terminal.FunctionCall = call
				}
				deliver(ctx, out, terminal)
				return
			}

			if resp.Usage != nil {
				usage = &providers.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				if !deliver(ctx, out, providers.LLMChunk{TextDelta: delta.Content}) {
					return
				}
			}
			// Tool call arguments arrive fragmented across deltas; only the
			// first fragment of a call carries its name.
			for _, tc := range delta.ToolCalls {
				if tc.Function.Name != "" {
					call = &providers.FunctionCall{Name: tc.Function.Name}
					args.Reset()
				}
				args.WriteString(tc.Function.Arguments)
			}
		}
	}()
	return out, nil
}

func deliver(ctx context.Context, out chan<- providers.LLMChunk, chunk providers.LLMChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func toChatMessages(messages []providers.Message) []goopenai.ChatCompletionMessage {
	chat := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == providers.RoleFunction {
			// The tool message protocol wants an id even when we track calls
			// by name only.
			cm.Role = goopenai.ChatMessageRoleTool
			cm.ToolCallID = m.Name
			cm.Name = m.Name
		}
		if m.FunctionCall != nil {
			cm.ToolCalls = []goopenai.ToolCall{{
				ID:   m.FunctionCall.Name,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      m.FunctionCall.Name,
					Arguments: m.FunctionCall.Arguments,
				},
			}}
		}
		chat = append(chat, cm)
	}
	return chat
}
