package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/extract"
	"github.com/dgallion1/docgraph/internal/parser"
	"github.com/dgallion1/docgraph/internal/pipeline"
)

// jobOptions reads per-job settings from the form, falling back to config.
// Unknown domains and levels are rejected here rather than failing the job.
func (s *Server) jobOptions(r *http.Request) (pipeline.JobOptions, error) {
	opts := pipeline.JobOptions{
		Domain:   r.FormValue("domain"),
		Level:    r.FormValue("level"),
		FailFast: s.cfg.FailFast,
	}
	if opts.Domain == "" {
		opts.Domain = s.cfg.Domain
	}
	if opts.Level == "" {
		opts.Level = s.cfg.Level
	}
	if _, err := s.deps.Domains.Get(opts.Domain); err != nil {
		return opts, err
	}
	if _, err := extract.ParseLevel(opts.Level); err != nil {
		return opts, err
	}
	for name, dst := range map[string]*bool{
		"fail_fast":     &opts.FailFast,
		"force_restart": &opts.ForceRestart,
		"publish":       &opts.Publish,
	} {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	return opts, nil
}

// readUpload validates and reads one uploaded file.
func (s *Server) readUpload(fh *multipart.FileHeader) (string, []byte, int, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return filename, nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	f, err := fh.Open()
	if err != nil {
		return filename, nil, http.StatusInternalServerError, fmt.Errorf("failed to open file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return filename, nil, http.StatusInternalServerError, fmt.Errorf("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return filename, nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	return filename, data, http.StatusOK, nil
}

func accepted(job *pipeline.Job) map[string]any {
	return map[string]any{
		"job_id":    job.ID,
		"filename":  job.Filename,
		"status":    pipeline.StatusQueued,
		"poll_url":  fmt.Sprintf("/api/extract/%s/status", job.ID),
		"graph_url": fmt.Sprintf("/api/extract/%s/graph", job.ID),
	}
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := s.jobOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	filename, data, code, err := s.readUpload(files[0])
	if err != nil {
		jsonError(w, err.Error(), code)
		return
	}

	job := pipeline.NewJob(filename, r.FormValue("title"), data, opts)
	if err := s.deps.Orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(job))
}

func (s *Server) handleBatchExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := s.jobOptions(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		filename, data, _, err := s.readUpload(fh)
		if err != nil {
			results = append(results, map[string]any{"filename": filename, "error": err.Error()})
			continue
		}
		job := pipeline.NewJob(filename, "", data, opts)
		if err := s.deps.Orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{"filename": filename, "error": err.Error()})
			continue
		}
		results = append(results, accepted(job))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) handleExtractStatus(w http.ResponseWriter, r *http.Request) {
	job := s.deps.Orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleExtractGraph(w http.ResponseWriter, r *http.Request) {
	job := s.deps.Orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	res := job.Result()
	if res == nil {
		snap := job.Snapshot()
		jsonError(w, fmt.Sprintf("graph not ready (status %s)", snap.Status), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	type domain struct {
		Name          string   `json:"name"`
		Description   string   `json:"description"`
		EntityTypes   []string `json:"entity_types"`
		RelationTypes []string `json:"relation_types"`
	}
	var out []domain
	for _, d := range s.deps.Domains.List() {
		out = append(out, domain{
			Name:          d.Name,
			Description:   d.Description,
			EntityTypes:   d.EntityTypeNames(),
			RelationTypes: d.RelationTypeNames(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domains":      out,
		"levels":       []extract.Level{extract.LevelBrief, extract.LevelStandard, extract.LevelDeep},
		"chunk_levels": []chunker.Level{chunker.LevelDocument, chunker.LevelChapter, chunker.LevelSection},
	})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
