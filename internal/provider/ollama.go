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

// ── Ollama (local models) ───────────────────────────────────

type ollamaDriver struct {
	client *http.Client
}

func (d *ollamaDriver) Kind() string { return "ollama" }

func (d *ollamaDriver) httpClient() *http.Client {
	if d.client != nil {
		return d.client
	}
	return defaultHTTPClient
}

func (d *ollamaDriver) endpoint(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return "http://localhost:11434"
}

type ollamaRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

func (d *ollamaDriver) Complete(ctx context.Context, cfg Config, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		options["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.endpoint(cfg)+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	return &models.CompletionResponse{
		Text:         oResp.Message.Content,
		Model:        req.Model,
		TokensIn:     oResp.PromptEvalCount,
		TokensOut:    oResp.EvalCount,
		FinishReason: oResp.DoneReason,
	}, nil
}

// ollamaFallbackModels covers the common local pulls when /api/tags is
// unreachable.
var ollamaFallbackModels = []models.ModelInfo{
	{ID: "llama3.1:8b", ContextWindow: 131072},
	{ID: "qwen2.5-coder:7b", ContextWindow: 32768},
	{ID: "mistral:7b", ContextWindow: 32768},
}

func (d *ollamaDriver) ListModels(ctx context.Context, cfg Config) ([]models.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/api/tags", nil)
	if err != nil {
		return ollamaFallbackModels, nil
	}

	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return ollamaFallbackModels, nil
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return ollamaFallbackModels, nil
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listing); err != nil || len(listing.Models) == 0 {
		return ollamaFallbackModels, nil
	}

	out := make([]models.ModelInfo, 0, len(listing.Models))
	for _, m := range listing.Models {
		out = append(out, models.ModelInfo{ID: m.Name})
	}
	return out, nil
}

func (d *ollamaDriver) HealthCheck(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", d.endpoint(cfg)+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create health request: %w", err)
	}
	httpResp, err := d.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: health probe failed: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health probe status %d", httpResp.StatusCode)
	}
	return nil
}
