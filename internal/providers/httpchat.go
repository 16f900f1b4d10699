package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelai/router/internal/kerr"
)

// HTTPChatAdapter implements the HTTPChat variant (§6.2): POST <base>/api/chat
// with {model, messages, stream:false, options:{temperature, num_predict}},
// success body {message:{content}}. Availability is probed via
// GET <base>/api/tags -> {models:[{name}...]}.
type HTTPChatAdapter struct {
	BaseAdapter
	client  *http.Client
	baseURL string
	modelID string
}

var _ Adapter = (*HTTPChatAdapter)(nil)

// NewHTTPChatAdapter constructs an adapter bound to a specific model id and base URL.
func NewHTTPChatAdapter(baseURL, modelID string) *HTTPChatAdapter {
	return &HTTPChatAdapter{
		BaseAdapter: NewBaseAdapter("http_chat", 2, 150*time.Millisecond),
		client:      &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		modelID:     modelID,
	}
}

func (a *HTTPChatAdapter) Initialize(ctx context.Context) error { return nil }
func (a *HTTPChatAdapter) Close() error                         { return nil }

// IsAvailable probes the chat-style backend's model listing endpoint,
// succeeding only if the call completes within 5s and a.modelID is present.
func (a *HTTPChatAdapter) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false
	}
	for _, m := range payload.Models {
		if m.Name == a.modelID {
			return true
		}
	}
	return false
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message *chatMessage `json:"message"`
}

// Generate implements Adapter.
func (a *HTTPChatAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout())
	defer cancel()

	var result string
	err := a.Retry(ctx, func(err error) bool {
		ke, ok := kerr.As(err)
		return ok && ke.Kind == kerr.Backend
	}, func() error {
		text, genErr := a.doGenerate(ctx, req)
		if genErr != nil {
			return genErr
		}
		result = text
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

func (a *HTTPChatAdapter) doGenerate(ctx context.Context, req GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = a.modelID
	}

	body := chatRequest{
		Model: model,
		Messages: buildMessages(req),
		Stream:  false,
		Options: map[string]any{
			"temperature":  req.Temperature,
			"num_predict":  req.MaxTokens,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", kerr.Wrap(kerr.Internal, fmt.Errorf("marshal http_chat request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", kerr.Wrap(kerr.Internal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", kerr.Wrap(kerr.Timeout, ctx.Err())
		}
		return "", kerr.Wrap(kerr.ClassifyTransport(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", kerr.Newf(kerr.ClassifyStatus(resp.StatusCode), "http_chat backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", kerr.Wrap(kerr.Backend, fmt.Errorf("decode http_chat response: %w", err))
	}
	if decoded.Message == nil {
		return "", kerr.New(kerr.Backend, "http_chat response missing message.content")
	}
	return decoded.Message.Content, nil
}

func buildMessages(req GenerateRequest) []chatMessage {
	var msgs []chatMessage
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return msgs
}
