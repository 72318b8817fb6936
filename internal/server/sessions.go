package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
)

const multipartMemory = 32 << 20

// extensionMIMETypes resolves uploads sent without a usable content type
var extensionMIMETypes = map[string]string{
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/x-m4a",
	".mp4":  "audio/mp4",
}

// uploadMIMEType returns the declared type, falling back to the file extension
func uploadMIMEType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionMIMETypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return declared
}

// handleCreateSession implements POST /api/sessions with a multipart "file" field
func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+smallBodyLimit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		status, _ := statusFor(err)
		if status == http.StatusRequestEntityTooLarge {
			writeError(w, status, fmt.Sprintf("File too large. Maximum size is %dMB", h.config.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	if header.Size > h.config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Maximum size is %dMB", h.config.MaxUploadBytes>>20))
		return
	}

	mimeType := uploadMIMEType(header.Header.Get("Content-Type"), header.Filename)
	if !audio.IsSupportedMIMEType(mimeType) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported audio format: %s", mimeType))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > h.config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Maximum size is %dMB", h.config.MaxUploadBytes>>20))
		return
	}

	src := audio.Source{Name: header.Filename, MIMEType: mimeType, Data: data}
	s, err := h.sessions.Create(r.Context(), currentUser(r).ID, src)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, s.Info())
}

// handleGetSession implements GET /api/sessions/{id}
func (h *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Get(chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleConfirmSession implements POST /api/sessions/{id}/confirm
func (h *HTTPServer) handleConfirmSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Confirm(chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, info)
}

// handleCancelSession implements POST /api/sessions/{id}/cancel
func (h *HTTPServer) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Cancel(chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
