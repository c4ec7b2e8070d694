package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/model"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/store"
)

// listJobsResponse wraps the jobs listing.
type listJobsResponse struct {
	Jobs []platform.Job `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.client.ListJobs(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if jobs == nil {
		jobs = []platform.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || jobID <= 0 {
		s.writeError(w, http.StatusBadRequest, "job id must be a positive integer")
		return
	}

	job, err := s.client.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// runJobNowRequest is the JSON body for POST /v1/jobs/{id}/run-now.
type runJobNowRequest struct {
	NotebookParams map[string]string `json:"notebook_params,omitempty"`
}

func (s *Server) handleRunJobNow(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || jobID <= 0 {
		s.writeError(w, http.StatusBadRequest, "job id must be a positive integer")
		return
	}

	var req runJobNowRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil && !errors.Is(derr, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	runID, err := s.client.RunNow(r.Context(), jobID, req.NotebookParams)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	id := strconv.FormatInt(runID, 10)
	s.recordSubmitted(r.Context(), &store.Operation{
		ID:       historyID(model.KindRun, id),
		Kind:     string(model.KindRun),
		Scope:    "job:" + strconv.FormatInt(jobID, 10),
		RemoteID: id,
	})

	s.writeJSON(w, http.StatusAccepted, submitRunResponse{RunID: runID})
}

// listClustersResponse wraps the clusters listing.
type listClustersResponse struct {
	Clusters []platform.ClusterInfo `json:"clusters"`
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.client.ListClusters(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if clusters == nil {
		clusters = []platform.ClusterInfo{}
	}

	s.writeJSON(w, http.StatusOK, listClustersResponse{Clusters: clusters})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.client.GetCluster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cluster)
}

func (s *Server) handleStartCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.client.StartCluster(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTerminateCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.client.TerminateCluster(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRestartCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.client.RestartCluster(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// listWorkspaceResponse wraps the workspace listing.
type listWorkspaceResponse struct {
	Objects []platform.ObjectInfo `json:"objects"`
}

func (s *Server) handleListWorkspace(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}

	objects, err := s.client.ListWorkspace(r.Context(), path)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if objects == nil {
		objects = []platform.ObjectInfo{}
	}

	s.writeJSON(w, http.StatusOK, listWorkspaceResponse{Objects: objects})
}

// exportNotebookResponse is the JSON response for GET /v1/workspace/export.
type exportNotebookResponse struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

func (s *Server) handleExportNotebook(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "SOURCE"
	}

	content, err := s.client.ExportNotebook(r.Context(), path, format)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, exportNotebookResponse{
		Path:    path,
		Format:  format,
		Content: content,
	})
}
