package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/knowledge"
	"github.com/agentoven/agentdesk/pkg/middleware"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead leaves room for form fields around the file part.
const multipartOverhead = 1 << 20

func (h *Handlers) ListKnowledge(w http.ResponseWriter, r *http.Request) {
	items, err := h.Knowledge.List(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// AddKnowledge accepts a JSON body for text and url items, or a multipart
// form with a "file" part for file items.
func (h *Handlers) AddKnowledge(w http.ResponseWriter, r *http.Request) {
	var (
		in  models.KnowledgeInput
		err error
	)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		in, err = readFileUpload(w, r)
	} else {
		err = decodeJSON(w, r, &in)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	item, err := h.Knowledge.Add(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func readFileUpload(w http.ResponseWriter, r *http.Request) (models.KnowledgeInput, error) {
	in := models.KnowledgeInput{ContentType: models.ContentFile}

	r.Body = http.MaxBytesReader(w, r.Body, knowledge.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(knowledge.MaxFileSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, apperr.Validation("file exceeds the %d MiB limit", knowledge.MaxFileSize>>20)
		}
		return in, apperr.Validation("invalid multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return in, apperr.Validation("form field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, knowledge.MaxFileSize+1))
	if err != nil {
		return in, apperr.Validation("read upload: %v", err)
	}
	in.Data = data
	in.FileName = header.Filename
	in.MimeType = header.Header.Get("Content-Type")

	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
			return in, apperr.Validation("metadata must be a JSON object")
		}
	}
	return in, nil
}

func (h *Handlers) DeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	err := h.Knowledge.Delete(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
