// Package fileserver is the relay's blob store for message attachments:
// accept an upload, hand back a url/type/name triple, serve it later.
package fileserver

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/akchat/internal/logger"
	"github.com/google/uuid"
)

// UploadResponse mirrors what the web client expects from the upload endpoint.
type UploadResponse struct {
	Success  bool   `json:"success"`
	FileURL  string `json:"fileUrl"`
	Filename string `json:"filename"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Service stores and serves attachment blobs on the local disk.
type Service struct {
	UploadDir     string
	MaxUploadSize int64
	allowedMIME   map[string]bool
}

// New creates a service with the given directory, size cap (bytes) and MIME
// allowlist.
func New(uploadDir string, maxUploadSize int64, allowedMIME []string) *Service {
	allowed := make(map[string]bool, len(allowedMIME))
	for _, m := range allowedMIME {
		allowed[strings.ToLower(m)] = true
	}
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxUploadSize, allowedMIME: allowed}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("fileserver writeJSON: %v", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Upload handles POST multipart/form-data with a "file" field. Disallowed
// MIME types and oversize bodies are rejected before anything hits disk.
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)

	if err := r.ParseMultipartForm(s.MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if !s.allowedMIME[strings.ToLower(contentType)] {
		s.writeError(w, http.StatusBadRequest, "file type not allowed: "+contentType)
		return
	}

	// Some clients encode spaces in filenames as "+"; normalize for display.
	origName := strings.TrimSpace(strings.ReplaceAll(header.Filename, "+", " "))
	ext := strings.ToLower(filepath.Ext(origName))
	storedName := uuid.New().String() + ext

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create upload dir")
		return
	}
	dstPath := filepath.Join(s.UploadDir, storedName)
	dst, err := os.Create(dstPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	written, err := io.Copy(dst, file)
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		os.Remove(dstPath)
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	s.writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		FileURL:  "/api/files/" + storedName,
		Filename: origName,
		FileType: contentType,
		FileSize: written,
	})
}

// Serve streams a stored blob. filename must already be path-stripped by
// the caller.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	// Re-base to defeat any traversal that survived routing.
	path := filepath.Join(s.UploadDir, filepath.Base(filename))
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stat file")
		return
	}
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
