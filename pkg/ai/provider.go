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

import "fmt"

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// EmbeddingDimension is the fixed vector size used across the system.
const EmbeddingDimension = 768

// Provider describes one OpenAI-compatible endpoint.
type Provider struct {
	Name           string
	BaseURL        string
	EmbeddingModel string
	// SupportsDimensions is true when the embeddings endpoint accepts a
	// dimensions parameter to size the output vector.
	SupportsDimensions bool
}

var providers = map[string]Provider{
	ProviderOpenAI: {
		Name:               ProviderOpenAI,
		BaseURL:            "https://api.openai.com/v1",
		EmbeddingModel:     "text-embedding-3-small",
		SupportsDimensions: true,
	},
	ProviderGemini: {
		Name:           ProviderGemini,
		BaseURL:        "https://generativelanguage.googleapis.com/v1beta/openai/",
		EmbeddingModel: "text-embedding-004",
	},
}

// LookupProvider returns the provider table entry for a name.
func LookupProvider(name string) (Provider, error) {
	p, ok := providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("unknown ai provider %q", name)
	}
	return p, nil
}
