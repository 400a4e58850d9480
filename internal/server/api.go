// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"hfhub/internal/hubapi"
	"hfhub/pkg/hfhub"
)

// DownloadRequest is the request body for starting a download.
// Note: Output path is NOT configurable via API for security reasons.
// The server uses its configured ModelsDir for models and DatasetsDir for datasets.
type DownloadRequest struct {
	Repo     string   `json:"repo"`
	Revision string   `json:"revision,omitempty"`
	Dataset  bool     `json:"dataset,omitempty"`
	Filters  []string `json:"filters,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
	DryRun   bool     `json:"dryRun,omitempty"`
}

// PlanResponse is the response for a dry-run/plan request.
type PlanResponse struct {
	Repo       string     `json:"repo"`
	Revision   string     `json:"revision"`
	Files      []PlanFile `json:"files"`
	TotalSize  int64      `json:"totalSize"`
	TotalFiles int        `json:"totalFiles"`
}

// PlanFile represents a file in the plan.
type PlanFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	LFS  bool   `json:"lfs"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token       string `json:"token,omitempty"`
	ModelsDir   string `json:"modelsDir"`
	DatasetsDir string `json:"datasetsDir"`
	MaxWorkers  int    `json:"maxWorkers"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": "2.3.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStartDownload starts a new download job.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}

	req.Repo, req.Filters = splitRepoFilterSyntax(req.Repo, req.Filters)

	if !isValidRepoID(req.Repo) {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}

	if req.DryRun {
		s.handlePlanInternal(w, req)
		return
	}

	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Download already in progress",
		})
	} else {
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handlePlan returns a download plan without starting the download.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req.DryRun = true
	s.handlePlanInternal(w, req)
}

func (s *Server) handlePlanInternal(w http.ResponseWriter, req DownloadRequest) {
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}

	req.Repo, req.Filters = splitRepoFilterSyntax(req.Repo, req.Filters)

	revision := req.Revision
	if revision == "" {
		revision = "main"
	}

	kind := hfhub.RepoModel
	if req.Dataset {
		kind = hfhub.RepoDataset
	}
	repo := hfhub.RepoSpec{Kind: kind, ID: req.Repo, Revision: revision}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s.mu.RLock()
	endpoint, token := s.config.Endpoint, s.config.Token
	s.mu.RUnlock()

	provider := hubapi.New(firstNonEmpty(endpoint, "https://huggingface.co"), token)
	info, err := provider.RepoInfo(ctx, repo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to scan repository", err.Error())
		return
	}

	var files []PlanFile
	var totalSize int64
	for _, sib := range info.Siblings {
		if !hfhub.MatchesFilter(req.Filters, req.Excludes, sib.RFilename) {
			continue
		}
		files = append(files, PlanFile{Path: sib.RFilename, Size: sib.Size, LFS: sib.LFS})
		totalSize += sib.Size
	}

	writeJSON(w, http.StatusOK, PlanResponse{
		Repo:       req.Repo,
		Revision:   info.SHA,
		Files:      files,
		TotalSize:  totalSize,
		TotalFiles: len(files),
	})
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	tokenStatus := ""
	if cfg.Token != "" {
		tokenStatus = "********" + cfg.Token[max(0, len(cfg.Token)-4):]
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Token:       tokenStatus,
		ModelsDir:   cfg.ModelsDir,
		DatasetsDir: cfg.DatasetsDir,
		MaxWorkers:  cfg.MaxWorkers,
		Endpoint:    cfg.Endpoint,
	})
}

// handleUpdateSettings updates settings.
// Note: Output directories cannot be changed via API for security.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token      *string `json:"token,omitempty"`
		MaxWorkers *int    `json:"maxWorkers,omitempty"`
		Endpoint   *string `json:"endpoint,omitempty"`
		// Note: ModelsDir and DatasetsDir are NOT updatable via API for security
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	s.mu.Lock()
	if req.Token != nil {
		s.config.Token = *req.Token
	}
	if req.MaxWorkers != nil && *req.MaxWorkers > 0 {
		s.config.MaxWorkers = *req.MaxWorkers
	}
	if req.Endpoint != nil {
		s.config.Endpoint = *req.Endpoint
	}
	s.jobs.mu.Lock()
	s.jobs.config = s.config
	s.jobs.mu.Unlock()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

func isValidRepoID(id string) bool {
	parts := strings.Split(id, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// splitRepoFilterSyntax peels a "owner/name:filter1,filter2" repo string
// into its bare repo ID and the filters it carried, when no explicit
// filters were already supplied.
func splitRepoFilterSyntax(repo string, filters []string) (string, []string) {
	if !strings.Contains(repo, ":") || len(filters) != 0 {
		return repo, filters
	}
	parts := strings.SplitN(repo, ":", 2)
	if strings.TrimSpace(parts[1]) == "" {
		return parts[0], filters
	}
	for _, f := range strings.Split(parts[1], ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			filters = append(filters, f)
		}
	}
	return parts[0], filters
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
