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

// defaultHTTPClient is shared by the built-in drivers. Per-call deadlines
// come from the caller's context, so no client-level timeout.
var defaultHTTPClient = &http.Client{Timeout: 0}

// ── OpenAI (and OpenAI-compatible) ──────────────────────────

type openAIDriver struct {
	client *http.Client

	// kind lets the same adapter serve OpenAI-compatible backends
	// (vLLM, LiteLLM, and similar) under a separate registry entry.
	kind string
}

func (d *openAIDriver) Kind() string {
	if d.kind != "" {
		return d.kind
	}
	return "openai"
}

func (d *openAIDriver) httpClient() *http.Client {
	if d.client != nil {
		return d.client
	}
	return defaultHTTPClient
}

func (d *openAIDriver) endpoint(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return "https://api.openai.com/v1"
}

type openAIRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	TopP        float64              `json:"top_p,omitempty"`
	Stop        []string             `json:"stop,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (d *openAIDriver) Complete(ctx context.Context, cfg Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}

	body, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint(cfg)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &models.CompletionResponse{
		Text:         oaiResp.Choices[0].Message.Content,
		Model:        req.Model,
		TokensIn:     oaiResp.Usage.PromptTokens,
		TokensOut:    oaiResp.Usage.CompletionTokens,
		FinishReason: oaiResp.Choices[0].FinishReason,
	}, nil
}

// openAIFallbackModels is served when the remote listing call fails.
var openAIFallbackModels = []models.ModelInfo{
	{ID: "gpt-4o", ContextWindow: 128000, InputPer1K: 0.0025, OutputPer1K: 0.01, SupportsJSON: true},
	{ID: "gpt-4o-mini", ContextWindow: 128000, InputPer1K: 0.00015, OutputPer1K: 0.0006, SupportsJSON: true},
	{ID: "gpt-4-turbo", ContextWindow: 128000, InputPer1K: 0.01, OutputPer1K: 0.03, SupportsJSON: true},
}

func (d *openAIDriver) ListModels(ctx context.Context, cfg Config) ([]models.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/models", nil)
	if err != nil {
		return openAIFallbackModels, nil
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return openAIFallbackModels, nil
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return openAIFallbackModels, nil
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listing); err != nil || len(listing.Data) == 0 {
		return openAIFallbackModels, nil
	}

	out := make([]models.ModelInfo, 0, len(listing.Data))
	for _, m := range listing.Data {
		out = append(out, models.ModelInfo{ID: m.ID})
	}
	return out, nil
}

func (d *openAIDriver) HealthCheck(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create health request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai: health probe failed: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 500 {
		return fmt.Errorf("openai: health probe status %d", httpResp.StatusCode)
	}
	return nil
}
