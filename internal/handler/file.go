package handler

import (
	"net/http"
	"path/filepath"

	"github.com/akchat/internal/config"
	"github.com/akchat/internal/fileserver"
	"github.com/go-chi/chi/v5"
)

type FileHandler struct {
	svc *fileserver.Service
}

func NewFileHandler(cfg *config.Config) *FileHandler {
	return &FileHandler{svc: fileserver.New(cfg.UploadDir, cfg.MaxUploadSize, cfg.AllowedFileMIME)}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.svc.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.svc.Serve(w, r, filepath.Base(chi.URLParam(r, "filename")))
}
