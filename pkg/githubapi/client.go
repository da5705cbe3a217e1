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

// Package githubapi fetches repository metadata, file trees, and raw file
// contents from GitHub. Dependency directories, binaries, oversized files,
// and most dotfiles are filtered before anything reaches the pipeline.
package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors surfaced to callers.
var (
	ErrInvalidURL   = errors.New("invalid github url")
	ErrRepoNotFound = errors.New("repository not found")
)

const (
	defaultAPIBaseURL = "https://api.github.com"
	defaultRawBaseURL = "https://raw.githubusercontent.com"

	requestTimeout = 30 * time.Second
)

var urlPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

// RepoMetadata holds the repository fields the pipeline persists.
type RepoMetadata struct {
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	Language      string
	Stars         int
	Forks         int
}

// Client talks to the GitHub REST API and the raw content host.
type Client struct {
	apiBaseURL string
	rawBaseURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the API and raw-content hosts (tests).
func WithBaseURLs(apiBaseURL, rawBaseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = strings.TrimRight(apiBaseURL, "/")
		c.rawBaseURL = strings.TrimRight(rawBaseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a GitHub client with a 30 second per-request timeout.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiBaseURL: defaultAPIBaseURL,
		rawBaseURL: defaultRawBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseURL extracts (owner, repo) from any URL containing
// github.com/<owner>/<repo>, with an optional .git suffix.
func ParseURL(githubURL string) (owner, repo string, err error) {
	m := urlPattern.FindStringSubmatch(githubURL)
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, githubURL)
	}
	owner = m[1]
	repo = strings.TrimSuffix(m[2], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, githubURL)
	}
	return owner, repo, nil
}

// GetMetadata fetches repository metadata.
func (c *Client) GetMetadata(ctx context.Context, owner, repo string) (*RepoMetadata, error) {
	url := fmt.Sprintf("%s/repos/%s/%s", c.apiBaseURL, owner, repo)
	body, status, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrRepoNotFound, owner, repo)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: unexpected status %d", status)
	}

	var raw struct {
		Name          string `json:"name"`
		FullName      string `json:"full_name"`
		Description   string `json:"description"`
		DefaultBranch string `json:"default_branch"`
		Language      string `json:"language"`
		Stars         int    `json:"stargazers_count"`
		Forks         int    `json:"forks_count"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	meta := &RepoMetadata{
		Owner:         raw.Owner.Login,
		Name:          raw.Name,
		FullName:      raw.FullName,
		Description:   raw.Description,
		DefaultBranch: raw.DefaultBranch,
		Language:      raw.Language,
		Stars:         raw.Stars,
		Forks:         raw.Forks,
	}
	if meta.DefaultBranch == "" {
		meta.DefaultBranch = "main"
	}
	return meta, nil
}

// GetTree fetches the recursive file tree for a branch and converts it to a
// nested structure, applying the inclusion filter. A 404 for branch "main"
// is retried against "master".
func (c *Client) GetTree(ctx context.Context, owner, repo, branch string) (*TreeNode, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiBaseURL, owner, repo, branch)
	body, status, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound && branch == "main" {
		c.logger.Info("github.tree.branch_fallback", "owner", owner, "repo", repo, "from", "main", "to", "master")
		url = fmt.Sprintf("%s/repos/%s/%s/git/trees/master?recursive=1", c.apiBaseURL, owner, repo)
		body, status, err = c.get(ctx, url)
		if err != nil {
			return nil, err
		}
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s branch %s", ErrRepoNotFound, owner, repo, branch)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch tree: unexpected status %d", status)
	}

	var raw struct {
		Tree []treeEntry `json:"tree"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return BuildNestedTree(raw.Tree), nil
}

// GetRawContent fetches one file from the raw content host and decodes it
// as UTF-8. Non-text content is rejected so callers can skip the file.
func (c *Client) GetRawContent(ctx context.Context, owner, repo, branch, path string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBaseURL, owner, repo, branch, path)
	body, status, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fetch content %s: unexpected status %d", path, status)
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("fetch content %s: not valid utf-8", path)
	}
	return string(body), nil
}

// get performs one GET and returns the body and status code. Transport
// errors are returned as-is; HTTP error statuses are left to the caller.
func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
