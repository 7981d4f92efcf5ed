package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clipstream/internal/jobs"
	"clipstream/internal/logging"
)

// DownloadRequest is the /api/download body.
type DownloadRequest struct {
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
	Playlist bool   `json:"playlist,omitempty"`
}

// DownloadResponse acknowledges an accepted background job.
type DownloadResponse struct {
	JobID       string `json:"jobId"`
	ProgressURL string `json:"progressUrl"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		req.URL = query.Get("url")
		req.Format = query.Get("format")
		req.Playlist = query.Get("playlist") == "1" || strings.EqualFold(query.Get("playlist"), "true")
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mediaURL, err := validateURL(req.URL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	jobID, err := s.svc.Runner.StartDownload(r.Context(), mediaURL, req.Format, req.Playlist)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, DownloadResponse{
		JobID:       jobID,
		ProgressURL: "/api/progress/" + jobID,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID, ok := pathID(r, "/api/progress/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if _, known := s.svc.Store.Get(jobID); !known && !s.svc.Registry.Has(jobID) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// One trailing frame after the terminal record so a client that
	// reconnects right at the end still observes the outcome.
	var terminalSeen bool
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		rec, known := s.svc.Store.Get(jobID)
		if !known {
			if terminalSeen {
				return
			}
			rec.Done = true
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(payload); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()

		if rec.Terminal() {
			if terminalSeen {
				return
			}
			terminalSeen = true
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID, ok := pathID(r, "/api/cancel/")
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch err := s.svc.Registry.Cancel(jobID); {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "cancellation requested", "jobId": jobID})
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrAlreadyCancelled):
		s.writeError(w, http.StatusConflict, "job already cancelled")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// JobView is one row of the /api/downloads listing.
type JobView struct {
	JobID     string    `json:"jobId"`
	URL       string    `json:"url"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"createdAt"`
	ElapsedMs int64     `json:"elapsedMs"`
}

// DownloadsResponse is the /api/downloads payload.
type DownloadsResponse struct {
	Jobs []JobView `json:"jobs"`
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Opportunistic sweep so the listing never shows tokens past their age
	// limit, even between janitor runs.
	if swept := s.svc.Registry.SweepStale(s.svc.TokenMaxAge); swept > 0 {
		s.logger.Info("swept stale jobs", logging.Int("count", swept))
	}

	infos := s.svc.Registry.List()
	views := make([]JobView, 0, len(infos))
	for _, info := range infos {
		views = append(views, JobView{
			JobID:     info.ID,
			URL:       info.SourceURL,
			Cancelled: info.Cancelled,
			CreatedAt: info.CreatedAt,
			ElapsedMs: info.Elapsed.Milliseconds(),
		})
	}
	s.writeJSON(w, http.StatusOK, DownloadsResponse{Jobs: views})
}

func (s *Server) handleDiskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.svc.Disk.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status       string             `json:"status"`
	ActiveJobs   int                `json:"activeJobs"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus mirrors a preflight result for API consumers.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command,omitempty"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{Status: "ok", ActiveJobs: s.svc.Registry.Len()}
	if s.svc.DepsCheck != nil {
		for _, dep := range s.svc.DepsCheck(r.Context()) {
			resp.Dependencies = append(resp.Dependencies, DependencyStatus{
				Name:      dep.Name,
				Command:   dep.Command,
				Available: dep.Available,
				Version:   dep.Version,
				Detail:    dep.Detail,
			})
			if !dep.Optional && !dep.Available {
				resp.Status = "degraded"
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
