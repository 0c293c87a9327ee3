package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the OpenAI-compatible endpoint used when none is configured.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

var (
	errMissingAPIKey = errors.New("missing API key")
	errNotJSONObject = errors.New("response is not a JSON object")
)

// structuredFailureCodes are provider error codes meaning the model could not
// satisfy the requested schema.
var structuredFailureCodes = map[string]bool{
	"tool_use_failed":      true,
	"json_validate_failed": true,
}

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the transport; tests point it at httptest servers.
	HTTPClient *http.Client
}

// OpenAIClient calls a chat completions endpoint such as Groq or OpenAI.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ Model = (*OpenAIClient)(nil)

// NewOpenAIClient validates cfg and creates a client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("missing model")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   cfg.Model,
		client:  client,
	}, nil
}

// Name returns the configured model.
func (c *OpenAIClient) Name() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"top_p,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

// Run sends one chat completion.
func (c *OpenAIClient) Run(ctx context.Context, req Request) (*Result, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a careful root cause analysis facilitator. Output exactly what the user asks for."},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.Schema != nil {
		body.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Schema.Name,
				"schema": req.Schema.JSONSchema(),
				"strict": true,
			},
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := gjson.GetBytes(respRaw, "error.code").String()
		msg := gjson.GetBytes(respRaw, "error.message").String()
		if msg == "" {
			msg = string(respRaw)
		}
		if structuredFailureCodes[code] {
			return nil, fmt.Errorf("%w: %s: %s", ErrStructuredOutput, code, msg)
		}
		return nil, fmt.Errorf("chat completion http %d: %s", resp.StatusCode, msg)
	}

	content := gjson.GetBytes(respRaw, "choices.0.message.content")
	if !content.Exists() {
		return nil, fmt.Errorf("chat completion response missing choices")
	}
	res := &Result{
		Attrs: map[string]string{
			"content":       content.String(),
			"finish_reason": gjson.GetBytes(respRaw, "choices.0.finish_reason").String(),
		},
	}
	if req.Schema == nil {
		res.Output = content.String()
		return res, nil
	}

	cleaned := cleanJSONContent(content.String())
	if !gjson.Valid(cleaned) || !gjson.Parse(cleaned).IsObject() {
		return nil, fmt.Errorf("decode structured output: %w", errNotJSONObject)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	res.Output = m
	return res, nil
}
