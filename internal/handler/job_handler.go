package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"md5cracker/internal/events"
	"md5cracker/internal/metrics"
	"md5cracker/internal/models"
	"md5cracker/internal/service"
)

const maxUploadBytes = 100 << 20

// JobHandler handles HTTP requests for jobs
type JobHandler struct {
	jobService  *service.JobService
	hub         *events.Hub
	metrics     *metrics.Metrics
	rateLimiter *service.RateLimiter
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *service.JobService, hub *events.Hub, m *metrics.Metrics, rateLimiter *service.RateLimiter) *JobHandler {
	return &JobHandler{
		jobService:  jobService,
		hub:         hub,
		metrics:     m,
		rateLimiter: rateLimiter,
	}
}

// Register attaches all routes to the router
func (h *JobHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/jobs").Subrouter()
	api.HandleFunc("", h.Upload).Methods(http.MethodPost)
	api.HandleFunc("", h.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/{jobId}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/{jobId}/events", h.StreamEvents).Methods(http.MethodGet)
	api.HandleFunc("/{jobId}/results", h.DownloadResults).Methods(http.MethodGet)

	r.HandleFunc("/metrics", h.GetMetrics).Methods(http.MethodGet)
}

// Upload handles POST /api/jobs. The 202 is returned once every work unit
// has been durably enqueued; processing continues in the background.
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := h.rateLimiter.CheckUploadRate(clientAddr(r)); err != nil {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart request", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	job, dropped, err := h.jobService.CreateJob(r.Context(), file)
	if err != nil {
		log.Printf("error creating job: %v", err)
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jobId":        job.ID,
		"droppedLines": dropped,
	}); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// ListJobs handles GET /api/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobService.ListCompletedJobs(r.Context())
	if err != nil {
		log.Printf("error listing jobs: %v", err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(jobs); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// GetJob handles GET /api/jobs/{jobId}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("error getting job: %v", err)
		http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(job); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// StreamEvents handles GET /api/jobs/{jobId}/events as a server-sent event
// stream. A later subscription for the same job evicts this one.
func (h *JobHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(jobID)
	defer h.hub.Unsubscribe(jobID, sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Stream completed or evicted.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("job_id=%s: error encoding event: %v", jobID, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// DownloadResults handles GET /api/jobs/{jobId}/results. The CSV is
// regenerated on every request; before completion it is a partial snapshot.
func (h *JobHandler) DownloadResults(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	if _, err := h.jobService.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("error getting job: %v", err)
		http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s-results.csv\"", jobID))
	if err := h.jobService.WriteResultsCSV(r.Context(), jobID, w); err != nil {
		log.Printf("job_id=%s: error writing results csv: %v", jobID, err)
	}
}

// GetMetrics handles GET /metrics
func (h *JobHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.metrics.GetSnapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// clientAddr extracts the client host from the request for rate limiting.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
