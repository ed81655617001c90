package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ModelInfo describes a model known to the endpoint.
type ModelInfo struct {
	Name          string `json:"name"`
	ParamSize     string `json:"param_size"`
	Quantization  string `json:"quantization"`
	ContextLength int    `json:"context_length,omitempty"`
}

type showWireResponse struct {
	Details struct {
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
	ModelInfo map[string]any `json:"model_info"`
}

type tagsWireResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// Introspect fetches parameter size, quantization and context length
// for a model. Called once at startup; the detected context length
// becomes the process-wide effective context window unless the config
// caps it explicitly.
func (c *Client) Introspect(ctx context.Context, model string) (ModelInfo, error) {
	if model == "" {
		model = c.DefaultModel()
	}
	payload, _ := json.Marshal(map[string]string{"model": model})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/show", bytes.NewReader(payload))
	if err != nil {
		return ModelInfo{}, fmt.Errorf("create show request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ModelInfo{}, fmt.Errorf("llm: show %s returned status %d: %s", model, resp.StatusCode, body)
	}

	var wire showWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ModelInfo{}, fmt.Errorf("decode show response: %w", err)
	}

	return ModelInfo{
		Name:          model,
		ParamSize:     wire.Details.ParameterSize,
		Quantization:  wire.Details.QuantizationLevel,
		ContextLength: contextLengthFrom(wire.ModelInfo),
	}, nil
}

// ListModels returns all models available on the endpoint. Context
// lengths are filled by a per-model introspection; failures there are
// tolerated and leave the field zero.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: tags returned status %d: %s", resp.StatusCode, body)
	}

	var wire tagsWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	models := make([]ModelInfo, 0, len(wire.Models))
	for _, m := range wire.Models {
		info := ModelInfo{
			Name:         m.Name,
			ParamSize:    m.Details.ParameterSize,
			Quantization: m.Details.QuantizationLevel,
		}
		if detail, err := c.Introspect(ctx, m.Name); err == nil {
			info.ContextLength = detail.ContextLength
		}
		models = append(models, info)
	}
	return models, nil
}

// contextLengthFrom scans model_info for the architecture-prefixed
// "<arch>.context_length" key Ollama reports.
func contextLengthFrom(info map[string]any) int {
	for key, val := range info {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if f, ok := val.(float64); ok {
			return int(f)
		}
	}
	return 0
}
