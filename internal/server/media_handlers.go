package server

import (
	"fmt"
	"net/http"

	"clipstream/internal/logging"
	"clipstream/internal/ytdlp"
)

// InfoResponse is the /api/info payload.
type InfoResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Uploader       string  `json:"uploader,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Thumbnail      string  `json:"thumbnail,omitempty"`
	IsPlaylist     bool    `json:"isPlaylist"`
	PlaylistCount  int     `json:"playlistCount,omitempty"`
	EstimatedBytes int64   `json:"estimatedBytes,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mediaURL, err := requestURL(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	info, err := s.svc.Client.FetchInfo(r.Context(), mediaURL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, InfoResponse{
		ID:             info.ID,
		Title:          info.Title,
		Uploader:       info.Uploader,
		Duration:       info.DurationSeconds,
		Thumbnail:      info.Thumbnail,
		IsPlaylist:     info.IsCollection(),
		PlaylistCount:  info.PlaylistCount,
		EstimatedBytes: info.EstimatedBytes(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mediaURL, err := requestURL(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Presets stay usable even when the per-URL lookup fails, so this
	// endpoint degrades to the fallback table instead of erroring.
	info, err := s.svc.Client.FetchInfo(r.Context(), mediaURL)
	if err != nil {
		s.logger.Warn("format lookup failed",
			logging.String(logging.FieldURL, mediaURL),
			logging.Error(err))
		s.writeJSON(w, http.StatusOK, ytdlp.FormatsUnavailable())
		return
	}
	s.writeJSON(w, http.StatusOK, ytdlp.BuildFormats(info))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mediaURL, err := requestURL(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	format := r.URL.Query().Get("format")

	info, err := s.svc.Client.FetchInfo(r.Context(), mediaURL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	filename := ytdlp.SanitizeFilename(info.Title) + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Accept-Ranges", "bytes")

	result := s.svc.Runner.Stream(r.Context(), w, mediaURL, format, info.EstimatedBytes())
	if result.Err != nil {
		if result.BytesWritten == 0 {
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			w.Header().Del("Accept-Ranges")
			s.writeServiceError(w, result.Err)
			return
		}
		// Mid-stream failure. A JSON body would corrupt the payload, so
		// drop the connection and let the client see the truncation.
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handlePlaylistZip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	mediaURL, err := requestURL(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	format := r.URL.Query().Get("format")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.zip"`)

	recorder := &writeObserver{ResponseWriter: w}
	jobID, err := s.svc.Runner.StreamPlaylistZip(r.Context(), recorder, mediaURL, format)
	if err != nil {
		if !recorder.wrote {
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			s.writeServiceError(w, err)
			return
		}
		s.logger.Warn("playlist archive aborted",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err))
		panic(http.ErrAbortHandler)
	}
}

// writeObserver notes whether any body bytes went out, which decides
// between a JSON error and dropping the connection.
type writeObserver struct {
	http.ResponseWriter
	wrote bool
}

func (o *writeObserver) Write(b []byte) (int, error) {
	o.wrote = true
	return o.ResponseWriter.Write(b)
}

func (o *writeObserver) Flush() {
	if f, ok := o.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
