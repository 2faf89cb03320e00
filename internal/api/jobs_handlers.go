package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/jobs"
	"github.com/JakeFAU/pagecapture/internal/metrics"
	"github.com/JakeFAU/pagecapture/internal/storage/local"
	"github.com/JakeFAU/pagecapture/internal/store"
)

const (
	uploadField     = "file"
	archiveFilename = "screenshots.zip"
	startedMessage  = "Process started. Check the logs below."
)

type submitResponse struct {
	JobID   string `json:"job_id"`
	Tasks   int    `json:"tasks"`
	Events  string `json:"events"`
	Message string `json:"message"`
}

type jobResponse struct {
	Job      store.JobRecord       `json:"job"`
	Outcomes []store.OutcomeRecord `json:"outcomes"`
}

// submitJob handles POST /v1/jobs with a multipart "file" field holding an
// .xlsx or .csv URL list. It responds 202 as soon as the job is queued.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		metrics.ObserveSubmission("invalid")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		writeError(w, http.StatusBadRequest, "missing upload field \""+uploadField+"\"")
		return
	}
	defer func() { _ = file.Close() }()

	pairs, err := s.parser.Parse(header.Filename, file)
	if err != nil {
		metrics.ObserveSubmission("invalid")
		s.logger.Info("rejected upload", zap.String("filename", header.Filename), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticket, err := s.submitter.Submit(r.Context(), jobs.Submission{Source: header.Filename, Pairs: pairs})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			metrics.ObserveSubmission("rejected")
			writeError(w, http.StatusServiceUnavailable, "too many queued jobs, retry later")
			return
		}
		metrics.ObserveSubmission("error")
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	metrics.ObserveSubmission("accepted")
	w.Header().Set("Location", "/v1/jobs/"+ticket.JobID)
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   ticket.JobID,
		Tasks:   ticket.Tasks,
		Events:  "/v1/jobs/" + ticket.JobID + "/events",
		Message: startedMessage,
	})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err, "failed to load job")
		return
	}
	outcomes, err := s.jobStore.ListOutcomes(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err, "failed to list outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []store.OutcomeRecord{}
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Outcomes: outcomes})
}

// jobArchive handles GET /v1/jobs/{job_id}/archive.
func (s *Server) jobArchive(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeStoreError(w, err, "failed to load job")
		return
	}
	if job.ArchivePath == "" {
		writeError(w, http.StatusNotFound, "archive not available")
		return
	}
	s.serveArchive(w, r, job.ArchivePath)
}

// download handles the legacy GET /download?path= link carried by
// completion events.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	s.serveArchive(w, r, r.URL.Query().Get("path"))
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, path string) {
	if s.archives == nil {
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}
	f, info, err := s.archives.Open(path)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, local.ErrPathOutsideRoot) {
			s.logger.Warn("open archive failed", zap.String("path", path), zap.Error(err))
		}
		writeError(w, http.StatusNotFound, "File not found.")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+archiveFilename+"\"; filename*=UTF-8''"+url.PathEscape(archiveFilename))
	http.ServeContent(w, r, archiveFilename, info.ModTime(), f)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}
