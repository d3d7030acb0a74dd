package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/HatmanStack/plot-palette-sub000/internal/retry"
)

// Completion is one model response plus its token accounting.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// InferenceClient invokes a hosted model with a rendered prompt.
type InferenceClient interface {
	Invoke(ctx context.Context, model, prompt string) (Completion, error)
}

// HTTPClient talks to the hosted inference service, building the
// provider-specific request body and parsing the provider-specific response
// shape for each model family.
type HTTPClient struct {
	BaseURL   string
	APIKey    string
	MaxTokens int
	Models    *ModelTable
	Client    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, models *ModelTable) *HTTPClient {
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		MaxTokens: 2048,
		Models:    models,
		Client:    &http.Client{},
	}
}

type familyAdapter struct {
	buildBody func(c *HTTPClient, model, prompt string) (any, error)
	parseBody func(data []byte) (Completion, error)
}

// adapters is the closed set of wire formats. Lookup is by Family, never by
// substring matching on model names.
var adapters = map[Family]familyAdapter{
	FamilyChat:       {buildChatBody, parseChatBody},
	FamilyCompletion: {buildCompletionBody, parseCompletionBody},
	FamilyGeneric:    {buildGenericBody, parseGenericBody},
}

func (c *HTTPClient) Invoke(ctx context.Context, model, prompt string) (Completion, error) {
	adapter, ok := adapters[c.Models.FamilyFor(model)]
	if !ok {
		return Completion{}, fmt.Errorf("model %q: no adapter for family %q", model, c.Models.FamilyFor(model))
	}
	body, err := adapter.buildBody(c, model, prompt)
	if err != nil {
		return Completion{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s/invoke", c.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Completion{}, retry.Transient(fmt.Errorf("invoke %s: %w", model, err))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Completion{}, retry.Transient(fmt.Errorf("invoke %s: %w", model, err))
		}
		return Completion{}, fmt.Errorf("invoke %s: %w", model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, model); err != nil {
		return Completion{}, err
	}
	return adapter.parseBody(data)
}

// classifyStatus maps HTTP status codes onto the retry taxonomy: throttling,
// service-unavailable, and gateway timeouts are transient; everything else
// 4xx/5xx is permanent.
func classifyStatus(code int, model string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests,
		code == http.StatusServiceUnavailable,
		code == http.StatusBadGateway,
		code == http.StatusGatewayTimeout:
		return retry.Transient(fmt.Errorf("invoke %s: status %d", model, code))
	default:
		return fmt.Errorf("invoke %s: status %d", model, code)
	}
}

// chat family: messages with role-tagged content blocks.

type chatContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatResponse struct {
	Content []chatContent `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func buildChatBody(c *HTTPClient, model, prompt string) (any, error) {
	return chatRequest{
		Model:     model,
		MaxTokens: c.MaxTokens,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []chatContent{{Type: "text", Text: prompt}},
		}},
	}, nil
}

func parseChatBody(data []byte) (Completion, error) {
	var r chatResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return Completion{}, fmt.Errorf("parse chat response: %w", err)
	}
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return Completion{
		Text:         sb.String(),
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
	}, nil
}

// completion family: raw prompt in, single completion string out.

type completionRequest struct {
	Prompt            string `json:"prompt"`
	MaxTokensToSample int    `json:"max_tokens_to_sample"`
}

type completionResponse struct {
	Completion string `json:"completion"`
	Usage      struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func buildCompletionBody(c *HTTPClient, _, prompt string) (any, error) {
	return completionRequest{Prompt: prompt, MaxTokensToSample: c.MaxTokens}, nil
}

func parseCompletionBody(data []byte) (Completion, error) {
	var r completionResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return Completion{}, fmt.Errorf("parse completion response: %w", err)
	}
	return Completion{
		Text:         r.Completion,
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
	}, nil
}

// generic family: plain inputText/maxTokenCount shape.

type genericRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int `json:"maxTokenCount"`
	} `json:"textGenerationConfig"`
}

type genericResponse struct {
	InputTextTokenCount int64 `json:"inputTextTokenCount"`
	Results             []struct {
		OutputText string `json:"outputText"`
		TokenCount int64  `json:"tokenCount"`
	} `json:"results"`
}

func buildGenericBody(c *HTTPClient, _, prompt string) (any, error) {
	r := genericRequest{InputText: prompt}
	r.TextGenerationConfig.MaxTokenCount = c.MaxTokens
	return r, nil
}

func parseGenericBody(data []byte) (Completion, error) {
	var r genericResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return Completion{}, fmt.Errorf("parse generic response: %w", err)
	}
	if len(r.Results) == 0 {
		return Completion{}, fmt.Errorf("generic response has no results")
	}
	return Completion{
		Text:         r.Results[0].OutputText,
		InputTokens:  r.InputTextTokenCount,
		OutputTokens: r.Results[0].TokenCount,
	}, nil
}
