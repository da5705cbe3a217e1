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

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupProvider(t *testing.T) {
	p, err := LookupProvider(ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", p.EmbeddingModel)
	assert.True(t, p.SupportsDimensions)

	p, err = LookupProvider(ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", p.EmbeddingModel)
	assert.False(t, p.SupportsDimensions)

	_, err = LookupProvider("mystery")
	require.Error(t, err)
}

func TestEmbed_DimensionsPerProvider(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	openai, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)
	vec, err := openai.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, EmbeddingDimension, got.Dimensions)

	gemini, err := NewClient(ProviderGemini, "gemini-2.0-flash", "test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = gemini.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", got.Model)
	assert.Zero(t, got.Dimensions)
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":[{"embedding":[1]}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	vec, err := c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbed_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "search_code", req.Tools[0].Function.Name)

		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"search_code","arguments":"{\"query\":\"auth\"}"}}
		]}}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "k", WithBaseURL(srv.URL))
	require.NoError(t, err)

	tools := []ToolSchema{{
		Name:        "search_code",
		Description: "Hybrid search over the indexed repository.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
	}}
	out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "find auth"}}, tools, 0.3)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search_code", out.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"auth"}`, out.ToolCalls[0].Function.Arguments)
}

func TestStream_ContentAndSplitToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search_code","arguments":"{\"qu"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"x\"}"}}]}}]}`,
			`[DONE]`,
		}
		for _, f := range frames {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "k", WithBaseURL(srv.URL))
	require.NoError(t, err)

	deltas, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, 0.3)
	require.NoError(t, err)

	var content string
	args := map[int]string{}
	names := map[int]string{}
	for d := range deltas {
		require.NoError(t, d.Err)
		content += d.Content
		if d.ToolCall != nil {
			args[d.ToolCall.Index] += d.ToolCall.Arguments
			if d.ToolCall.Name != "" {
				names[d.ToolCall.Index] = d.ToolCall.Name
			}
		}
	}
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "search_code", names[0])
	assert.JSONEq(t, `{"query":"x"}`, args[0])
}

func TestStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(ProviderOpenAI, "gpt-4o-mini", "bad", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, 0.3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
