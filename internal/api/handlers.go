package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/auth"
	"github.com/support934/smartgecode-saas/internal/engine"
	"github.com/support934/smartgecode-saas/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			zap.L().Warn("api: readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorBody{
				Status:  "not ready",
				Message: "Store unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"jobId"`
	TotalRows int    `json:"totalRows"`
}

// handleSubmit accepts a multipart upload with "file" and "email" fields.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Missing file or email")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	email := strings.TrimSpace(r.FormValue("email"))
	file, header, err := r.FormFile("file")
	if err != nil || email == "" {
		writeMessage(w, http.StatusBadRequest, "Missing file or email")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "could not read upload")
		return
	}

	sub, err := s.engine.SubmitBatch(r.Context(), engine.Upload{
		Filename:   header.Filename,
		Data:       data,
		OwnerEmail: email,
	}, auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:    statusSuccess,
		JobID:     sub.JobID,
		TotalRows: sub.TotalRows,
	})
}

// handleJob returns the job status, or the results file when download=true.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	email := q.Get("email")

	if download, _ := strconv.ParseBool(q.Get("download")); download {
		d, err := s.engine.DownloadResults(r.Context(), id, email, q.Get("format"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", d.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+d.Filename+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(d.Body) //nolint:errcheck
		return
	}

	st, err := s.engine.PollStatus(r.Context(), id, email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.engine.ListJobs(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(r.Context(), id, r.URL.Query().Get("email")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "jobId": id})
}

type lookupResponse struct {
	Status           model.RowStatus `json:"status"`
	Lat              *float64        `json:"lat,omitempty"`
	Lng              *float64        `json:"lng,omitempty"`
	FormattedAddress string          `json:"formatted_address,omitempty"`
	Message          string          `json:"message,omitempty"`
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SingleLookup(r.Context(), r.URL.Query().Get("address"), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Matched() {
		writeJSON(w, http.StatusOK, lookupResponse{
			Status:  model.RowStatusError,
			Message: "No match found for that address",
		})
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{
		Status:           model.RowStatusSuccess,
		Lat:              &res.Latitude,
		Lng:              &res.Longitude,
		FormattedAddress: res.FormattedAddress,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Usage(r.Context(), auth.FromContext(r.Context())))
}
