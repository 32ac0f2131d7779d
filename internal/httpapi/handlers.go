package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/clipshelf/clipshelf/internal/dispatch"
	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/matching"
	"github.com/clipshelf/clipshelf/internal/signature"
	"github.com/clipshelf/clipshelf/pkg/log"
)

// localBypassHeader lets local-dev callers skip signature verification. Only
// honored when the server runs with WithLocalDev(true).
const localBypassHeader = "x-local-dev-bypass"

type intakeRequest struct {
	FileID      string `json:"fileId"`
	Key         string `json:"key"`
	Bucket      string `json:"bucket"`
	Source      string `json:"source"`
	Platform    string `json:"platform"`
	OriginalURL string `json:"originalUrl"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Source == "" {
		req.Source = string(jobs.SourceDirect)
	}

	job, err := s.dispatcher.Enqueue(r.Context(), dispatch.EnqueueRequest{
		FileID:      req.FileID,
		Key:         req.Key,
		Bucket:      req.Bucket,
		Source:      jobs.SourceKind(req.Source),
		Platform:    req.Platform,
		OriginalURL: req.OriginalURL,
		Size:        req.Size,
		ContentType: req.ContentType,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"job":     jobResponseFrom(job),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := jobs.ListFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = jobs.Status(status)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
	}

	list, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.store.StatusCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]jobResponse, 0, len(list))
	for _, job := range list {
		responses = append(responses, jobResponseFrom(job))
	}
	writeJSON(w, http.StatusOK, jobsListResponse{
		Jobs:   responses,
		Counts: counts,
		Queue:  s.dispatcher.Info(),
	})
}

type jobsListResponse struct {
	Jobs   []jobResponse       `json:"jobs"`
	Counts map[jobs.Status]int `json:"counts"`
	Queue  dispatch.Info       `json:"queue"`
}

type jobResponse struct {
	*jobs.Job
	DisplayStatus jobs.DisplayStatus `json:"display_status"`
}

func jobResponseFrom(job *jobs.Job) jobResponse {
	return jobResponse{Job: job, DisplayStatus: job.Status.Display()}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.TrimSuffix(rest, "/")
	if strings.HasSuffix(rest, "/retrigger") {
		s.handleRetrigger(w, r, strings.TrimSuffix(rest, "/retrigger"))
		return
	}
	if strings.HasSuffix(rest, "/match") {
		s.handleMatch(w, r, strings.TrimSuffix(rest, "/match"))
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.store.GetJob(r.Context(), rest)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobResponseFrom(job))
	case http.MethodDelete:
		// Deletion is an explicit administrative operation; jobs are never
		// removed automatically.
		if err := s.store.DeleteJob(r.Context(), rest); err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRetrigger(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.orchestrator.AIReady() {
		writeError(w, http.StatusUnprocessableEntity, "AI capability is not configured; set LLM_API_KEY")
		return
	}

	result, err := s.orchestrator.Retrigger(r.Context(), id)
	if err != nil && !errors.Is(err, jobs.ErrNotFound) {
		log.Error("Retrigger for job %s errored: %v", id, err)
	}
	writeJSON(w, http.StatusOK, result)
}

type matchRequest struct {
	Candidates []matching.Candidate `json:"candidates"`
}

type matchResponse struct {
	JobID     string                      `json:"job_id"`
	Product   string                      `json:"product"`
	MaxTotal  float64                     `json:"max_total"`
	Rankings  []matching.CandidateRanking `json:"rankings"`
	Reference matching.ReferenceProfile   `json:"reference"`
}

// handleMatch ranks caller-supplied shopping candidates against the job's
// extracted reference profile. The reference is the first detected product's
// fused attribute set.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Result == nil || job.Result.Analysis == nil || len(job.Result.Analysis.Products) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "job has no extracted product attributes yet")
		return
	}

	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}

	product := job.Result.Analysis.Products[0]
	reference := matching.ReferenceProfile{Attributes: make(map[string]matching.AttributeValue, len(product.Attributes))}
	for name, value := range product.Attributes {
		reference.Attributes[name] = matching.AttributeValue{
			Value:      value,
			Confidence: product.Confidence[name],
		}
	}

	writeJSON(w, http.StatusOK, matchResponse{
		JobID:     job.ID,
		Product:   product.Name,
		MaxTotal:  s.matcher.MaxTotal(),
		Rankings:  s.matcher.Rank(reference, req.Candidates),
		Reference: reference,
	})
}

func (s *Server) handleQueueCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read body")
		return
	}

	bypass := s.localDev && r.Header.Get(localBypassHeader) == "true"
	if !bypass {
		token := r.Header.Get("signature")
		if err := signature.Verify(s.keys, token, body); err != nil {
			// Rejected before any job state is touched.
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var payload jobs.DispatchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payload")
		return
	}

	result, err := s.orchestrator.Process(r.Context(), payload)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) || errors.Is(err, jobs.ErrInvalidPayload) {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		log.Error("Queue callback processing errored: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "internal processing error",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusNotImplemented, "cost ledger is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":    s.ledger.Snapshot(),
		"total_cost": s.ledger.TotalCost(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
