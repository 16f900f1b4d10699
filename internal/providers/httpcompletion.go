package providers

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelai/router/internal/kerr"
)

// HTTPCompletionAdapter implements the OpenAI-compatible variant (§6.2):
// POST <base>/chat/completions with {model, messages, temperature,
// max_tokens, stream:false}, success body {choices:[{message:{content}}]}.
// Availability is probed via GET <base>/models returning 2xx.
//
// The wire contract is implemented through the go-openai SDK client pointed
// at a configurable base URL, since that client already speaks exactly this
// JSON shape; the availability probe is the same client's ListModels call
// against GET <base>/models.
type HTTPCompletionAdapter struct {
	BaseAdapter
	client  *openai.Client
	baseURL string
	modelID string
}

var _ Adapter = (*HTTPCompletionAdapter)(nil)

// NewHTTPCompletionAdapter constructs an adapter bound to a model id, base
// URL, and API key (may be empty for unauthenticated local servers).
func NewHTTPCompletionAdapter(baseURL, apiKey, modelID string) *HTTPCompletionAdapter {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &HTTPCompletionAdapter{
		BaseAdapter: NewBaseAdapter("http_completion", 2, 150*time.Millisecond),
		client:      openai.NewClientWithConfig(cfg),
		baseURL:     cfg.BaseURL,
		modelID:     modelID,
	}
}

func (a *HTTPCompletionAdapter) Initialize(ctx context.Context) error { return nil }
func (a *HTTPCompletionAdapter) Close() error                         { return nil }

// IsAvailable probes GET <base>/models and accepts any 2xx.
func (a *HTTPCompletionAdapter) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.client.ListModels(probeCtx)
	return err == nil
}

// Generate implements Adapter.
func (a *HTTPCompletionAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout())
	defer cancel()

	model := req.Model
	if model == "" {
		model = a.modelID
	}

	var messages []openai.ChatCompletionMessage
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	var result string
	err := a.Retry(ctx, func(err error) bool {
		ke, ok := kerr.As(err)
		return ok && ke.Kind == kerr.Backend
	}, func() error {
		resp, callErr := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: float32(req.Temperature),
			MaxTokens:   req.MaxTokens,
			Stream:      false,
		})
		if callErr != nil {
			return classifyOpenAIError(ctx, callErr)
		}
		if len(resp.Choices) == 0 {
			return kerr.New(kerr.Backend, "http_completion response missing choices[0]")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		if ke, ok := kerr.As(err); ok {
			return "", ke
		}
		return "", kerr.Wrap(kerr.ClassifyTransport(err), err)
	}
	return result, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return kerr.Wrap(kerr.Timeout, ctx.Err())
	}
	var apiErr *openai.APIError
	if e, ok := err.(*openai.APIError); ok {
		apiErr = e
		return kerr.Newf(kerr.ClassifyStatus(apiErr.HTTPStatusCode), "http_completion backend status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if e, ok := err.(*openai.RequestError); ok {
		reqErr = e
		return kerr.Newf(kerr.ClassifyStatus(reqErr.HTTPStatusCode), "http_completion transport error: %s", reqErr.Error())
	}
	return kerr.Wrap(kerr.ClassifyTransport(err), err)
}
