package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thirdeye-labs/overseer/pkg/models"
)

// ── Anthropic ───────────────────────────────────────────────

type anthropicDriver struct {
	client *http.Client
}

func (d *anthropicDriver) Kind() string { return "anthropic" }

func (d *anthropicDriver) httpClient() *http.Client {
	if d.client != nil {
		return d.client
	}
	return defaultHTTPClient
}

func (d *anthropicDriver) endpoint(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return "https://api.anthropic.com/v1"
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens"`
	TopP        float64              `json:"top_p,omitempty"`
	Stop        []string             `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *anthropicDriver) Complete(ctx context.Context, cfg Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured")
	}

	// The messages API takes the system prompt out of band.
	system := ""
	userMessages := make([]models.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		userMessages = append(userMessages, m)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      system,
		Messages:    userMessages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint(cfg)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var aResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&aResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	text := ""
	for _, c := range aResp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	return &models.CompletionResponse{
		Text:         text,
		Model:        req.Model,
		TokensIn:     aResp.Usage.InputTokens,
		TokensOut:    aResp.Usage.OutputTokens,
		FinishReason: aResp.StopReason,
	}, nil
}

// anthropicFallbackModels is served when the remote listing call fails;
// the models endpoint also requires a key the health probe may lack.
var anthropicFallbackModels = []models.ModelInfo{
	{ID: "claude-sonnet-4-20250514", ContextWindow: 200000, InputPer1K: 0.003, OutputPer1K: 0.015, SupportsJSON: true},
	{ID: "claude-3-5-haiku-20241022", ContextWindow: 200000, InputPer1K: 0.0008, OutputPer1K: 0.004, SupportsJSON: true},
	{ID: "claude-opus-4-20250514", ContextWindow: 200000, InputPer1K: 0.015, OutputPer1K: 0.075, SupportsJSON: true},
}

func (d *anthropicDriver) ListModels(ctx context.Context, cfg Config) ([]models.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/models", nil)
	if err != nil {
		return anthropicFallbackModels, nil
	}
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return anthropicFallbackModels, nil
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return anthropicFallbackModels, nil
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listing); err != nil || len(listing.Data) == 0 {
		return anthropicFallbackModels, nil
	}

	out := make([]models.ModelInfo, 0, len(listing.Data))
	for _, m := range listing.Data {
		out = append(out, models.ModelInfo{ID: m.ID, ContextWindow: 200000})
	}
	return out, nil
}

func (d *anthropicDriver) HealthCheck(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/models", nil)
	if err != nil {
		return fmt.Errorf("anthropic: create health request: %w", err)
	}
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: health probe failed: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 500 {
		return fmt.Errorf("anthropic: health probe status %d", httpResp.StatusCode)
	}
	return nil
}
