// Package provider talks to the external text-completion service and
// wraps its blocking API behind the non-blocking Completer contract.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultGroqAPIBase = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.1-8b-instant"
	defaultTemperature = 0.7
)

// Groq is the blocking completion provider: one synchronous
// chat-completions round-trip per Invoke. The API is OpenAI-compatible.
type Groq struct {
	apiKey      string
	apiBase     string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type GroqConfig struct {
	APIKey  string
	APIBase string
	Model   string
	// Temperature of nil means the default; an explicit zero is
	// passed through as-is.
	Temperature *float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

func NewGroq(cfg GroqConfig) *Groq {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGroqAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultGroqModel
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Groq{
		apiKey:      cfg.APIKey,
		apiBase:     cfg.APIBase,
		model:       cfg.Model,
		temperature: temperature,
		client:      newHTTPClient(cfg.Timeout),
		logger:      cfg.Logger,
	}
}

func (g *Groq) Name() string { return "groq/" + g.model }

// Healthy probes the models endpoint with the configured credentials.
func (g *Groq) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("groq not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("groq: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("groq returned %d", resp.StatusCode)
	}
	return nil
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	Choices []struct {
		Message      groqMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke performs one blocking completion call. It returns the raw
// provider error; normalization to CompletionError happens in the
// Adapter. The HTTP client timeout bounds the call.
func (g *Groq) Invoke(prompt string) (string, error) {
	body := groqRequest{
		Model:       g.model,
		Messages:    []groqMessage{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, g.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var parsed groqResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			return "", fmt.Errorf("groq %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("groq %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed groqResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("groq: empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}
