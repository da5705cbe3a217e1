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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repolens/internal/ui"
	"github.com/kraklabs/repolens/pkg/ai"
	"github.com/kraklabs/repolens/pkg/githubapi"
	"github.com/kraklabs/repolens/pkg/parser"
	"github.com/kraklabs/repolens/pkg/pipeline"
	"github.com/kraklabs/repolens/pkg/query"
	"github.com/kraklabs/repolens/pkg/search"
	"github.com/kraklabs/repolens/pkg/store"
)

// server holds the HTTP API state.
type server struct {
	cfg      *Config
	store    *store.Store
	github   *githubapi.Client
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
	logger   *slog.Logger
}

// runServe starts the HTTP API server and blocks until SIGINT/SIGTERM.
func runServe(args []string, cfg *Config, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", cfg.Host, "Listen address")
	port := fs.Int("port", cfg.Port, "Listen port")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repolens serve [options]

Description:
  Start the HTTP API server. Ingestion runs asynchronously; progress is
  polled through the task endpoint and query answers stream over SSE.

Endpoints:
  POST /api/repositories      Start ingesting a repository
  GET  /api/repositories/{id} Repository metadata and overview
  GET  /api/tasks/{id}        Ingestion task progress
  POST /api/query             Ask a question (SSE event stream)
  GET  /healthz               Liveness probe
  GET  /metrics               Prometheus metrics

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := newLogger(cfg)
	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		ui.Error("open database: %v", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	registry := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(registry)
	gh := githubapi.NewClient(logger)
	parsers := parser.NewRegistry(logger)

	opts := []pipeline.Option{pipeline.WithMetrics(metrics)}
	if cfg.IsDevelopment() {
		opts = append(opts, pipeline.WithDevFallback(cfg.Preferences()))
	}
	pipe := pipeline.New(st, gh, parsers, logger, opts...)

	s := &server{cfg: cfg, store: st, github: gh, pipeline: pipe, registry: registry, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/repositories", s.handleCreateRepository)
	mux.HandleFunc("GET /api/repositories/{id}", s.handleGetRepository)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", *host, *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: query responses are long-lived SSE streams.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	if !globals.Quiet {
		ui.Success("repolens server listening on http://%s", addr)
	}
	logger.Info("server.start", "addr", addr, "env", cfg.Env)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ui.Error("server: %v", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server.shutdown.failed", "error", err)
		}
	}
	return 0
}

// apiKey resolves the provider credential for one request. Production
// requires the header; development falls back to config or environment.
func (s *server) apiKey(r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, nil
	}
	if s.cfg.IsDevelopment() {
		if key := s.cfg.APIKeyFallback(); key != "" {
			return key, nil
		}
	}
	return "", errors.New("missing X-API-Key header")
}

type createRepositoryRequest struct {
	GitHubURL string `json:"github_url"`
	SessionID string `json:"session_id,omitempty"`
}

type createRepositoryResponse struct {
	RepoID    string `json:"repo_id"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	FullName  string `json:"full_name"`
}

func (s *server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	key, err := s.apiKey(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req createRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GitHubURL == "" {
		writeError(w, http.StatusBadRequest, "github_url is required")
		return
	}

	// Unknown sessions are created on the fly with the server defaults.
	if req.SessionID == "" {
		req.SessionID = store.NewID()
	}
	ctx := r.Context()
	if _, err := s.store.EnsureSession(ctx, req.SessionID, s.cfg.Preferences()); err != nil {
		s.logger.Error("api.session.ensure_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session setup failed")
		return
	}

	owner, name, err := githubapi.ParseURL(req.GitHubURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	repo, task, err := s.prepareIngestion(ctx, req.SessionID, req.GitHubURL, owner, name)
	if err != nil {
		s.logger.Error("api.ingest.prepare_failed", "repo", owner+"/"+name, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	// The run outlives the request.
	go func() {
		_ = s.pipeline.Run(context.Background(), pipeline.Request{
			RepoID:    repo.RepoID,
			TaskID:    task.TaskID,
			SessionID: req.SessionID,
			APIKey:    key,
		})
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, createRepositoryResponse{
		RepoID:    repo.RepoID,
		TaskID:    task.TaskID,
		SessionID: req.SessionID,
		FullName:  repo.FullName,
	})
}

// prepareIngestion fetches metadata and the file tree, then persists the
// repository and task documents the pipeline picks up.
func (s *server) prepareIngestion(ctx context.Context, sessionID, githubURL, owner, name string) (*store.Repository, *store.Task, error) {
	meta, err := s.github.GetMetadata(ctx, owner, name)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch metadata: %w", err)
	}
	tree, err := s.github.GetTree(ctx, owner, name, meta.DefaultBranch)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tree: %w", err)
	}

	task := &store.Task{TaskID: store.NewID(), TaskType: "repository_ingestion"}
	repo := &store.Repository{
		RepoID:        store.NewID(),
		SessionID:     sessionID,
		GitHubURL:     githubURL,
		Owner:         meta.Owner,
		Name:          meta.Name,
		FullName:      meta.FullName,
		Description:   meta.Description,
		DefaultBranch: meta.DefaultBranch,
		Language:      meta.Language,
		Stars:         meta.Stars,
		Forks:         meta.Forks,
		Status:        store.RepoStatusFetched,
		FileTree:      tree,
	}
	if err := createIngestionDocs(ctx, s.store, task, repo); err != nil {
		return nil, nil, err
	}
	return repo, task, nil
}

type repositoryResponse struct {
	RepoID             string         `json:"repo_id"`
	GitHubURL          string         `json:"github_url"`
	FullName           string         `json:"full_name"`
	Description        string         `json:"description,omitempty"`
	DefaultBranch      string         `json:"default_branch"`
	Status             string         `json:"status"`
	FileCount          int            `json:"file_count"`
	LanguagesBreakdown map[string]int `json:"languages_breakdown,omitempty"`
	Overview           string         `json:"overview,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	TaskID             string         `json:"task_id"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (s *server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load repository failed")
		return
	}
	writeJSON(w, repositoryResponse{
		RepoID:             repo.RepoID,
		GitHubURL:          repo.GitHubURL,
		FullName:           repo.FullName,
		Description:        repo.Description,
		DefaultBranch:      repo.DefaultBranch,
		Status:             repo.Status,
		FileCount:          repo.FileCount,
		LanguagesBreakdown: repo.LanguagesBreakdown,
		Overview:           repo.Overview,
		ErrorMessage:       repo.ErrorMessage,
		TaskID:             repo.TaskID,
		CreatedAt:          repo.CreatedAt,
	})
}

type taskResponse struct {
	TaskID       string    `json:"task_id"`
	TaskType     string    `json:"task_type"`
	Status       string    `json:"status"`
	CurrentStep  string    `json:"current_step"`
	TotalFiles   int       `json:"total_files"`
	Processed    int       `json:"processed_files"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task failed")
		return
	}
	writeJSON(w, taskResponse{
		TaskID:       task.TaskID,
		TaskType:     task.TaskType,
		Status:       task.Status,
		CurrentStep:  task.Progress.CurrentStep,
		TotalFiles:   task.Progress.TotalFiles,
		Processed:    task.Progress.ProcessedFiles,
		ErrorMessage: task.ErrorMessage,
		UpdatedAt:    task.UpdatedAt,
	})
}

type queryRequest struct {
	RepoID    string `json:"repo_id"`
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// handleQuery streams query events as server-sent "data:" frames.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	key, err := s.apiKey(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RepoID == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "repo_id and question are required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = store.NewID()
	}

	ctx := r.Context()
	sess, err := s.store.EnsureSession(ctx, req.SessionID, s.cfg.Preferences())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session setup failed")
		return
	}

	client, err := ai.NewClient(sess.Preferences.AIProvider, sess.Preferences.AIModel, key,
		ai.WithEmbeddingDimension(s.cfg.EmbeddingDimension))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orchestrator := query.New(s.store, search.New(s.store, client, s.logger), client, s.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := orchestrator.Ask(ctx, req.SessionID, req.RepoID, req.Question)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("api.query.encode_failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; the orchestrator stops via ctx.
			return
		}
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
