// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ai is an OpenAI-compatible REST client used for both embeddings
// and chat completions, streaming included. Providers share the same wire
// format; only base URL and model names differ, per the provider table.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client talks to one provider endpoint with one credential.
type Client struct {
	provider   Provider
	model      string
	apiKey     string
	dimension  int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the provider's base URL, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.provider.BaseURL = baseURL }
}

// WithEmbeddingDimension overrides the default vector size.
func WithEmbeddingDimension(dim int) Option {
	return func(c *Client) { c.dimension = dim }
}

// WithLogger injects a logger; nil falls back to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client for a provider from the table, a chat model,
// and a per-request credential.
func NewClient(providerName, model, apiKey string, opts ...Option) (*Client, error) {
	provider, err := LookupProvider(providerName)
	if err != nil {
		return nil, err
	}
	c := &Client{
		provider:   provider,
		model:      model,
		apiKey:     apiKey,
		dimension:  EmbeddingDimension,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Provider returns the resolved provider entry.
func (c *Client) Provider() Provider { return c.provider }

// Model returns the configured chat model.
func (c *Client) Model() string { return c.model }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for one text. Transient failures (429, 5xx,
// network) are retried with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{
		Model: c.provider.EmbeddingModel,
		Input: []string{text},
	}
	if c.provider.SupportsDimensions {
		req.Dimensions = c.dimension
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: provider returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []toolDef `json:"tools,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func encodeTools(tools []ToolSchema) []toolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Complete runs one non-streaming chat call and returns content and/or
// tool calls.
func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolSchema, temperature float64) (*Completion, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       encodeTools(tools),
		Temperature: temperature,
	}
	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("complete: provider returned no choices")
	}
	msg := resp.Choices[0].Message
	return &Completion{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream runs a streaming chat call. Deltas arrive on the returned channel
// until the provider sends [DONE] or the context is canceled; the channel
// is closed afterwards. A mid-stream failure is delivered as a final delta
// with Err set.
func (c *Client) Stream(ctx context.Context, messages []Message, tools []ToolSchema, temperature float64) (<-chan StreamDelta, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       encodeTools(tools),
		Temperature: temperature,
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("stream: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream: provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	out := make(chan StreamDelta)
	go c.consumeStream(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, out chan<- StreamDelta) {
	defer close(out)
	defer func() { _ = body.Close() }()

	emit := func(d StreamDelta) bool {
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("ai.stream.bad_chunk", "error", err)
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(StreamDelta{Content: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				delta := &ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				if !emit(StreamDelta{ToolCall: delta}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(StreamDelta{Err: fmt.Errorf("stream: read: %w", err)})
	}
}

// postJSON sends one JSON request with retries and decodes the response.
func (c *Client) postJSON(ctx context.Context, path string, payload, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint(path), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("provider returned status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(data)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("ai.request.retry", "path", path, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, policy, notify)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.provider.BaseURL, "/") + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
