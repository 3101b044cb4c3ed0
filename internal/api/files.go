package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"roomsync/internal/content"
	"roomsync/internal/filestore"
	"roomsync/internal/storage"
)

const maxUploadSize = 20 << 20

// FileIndex keeps attachment metadata.
type FileIndex interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(hash string) (storage.FileMetadata, error)
}

type FilesHandler struct {
	store filestore.FileStore
	index FileIndex
}

func NewFilesHandler(store filestore.FileStore, index FileIndex) *FilesHandler {
	return &FilesHandler{store: store, index: index}
}

// UploadResponse carries what a file message needs.
type UploadResponse struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// UploadHandler stores the request body. ?name= names the file; ?user= and ?room= are
// recorded for moderation.
func (h *FilesHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := content.SanitizeName(q.Get("name"))
	if name == "" {
		http.Error(w, "File name is required", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	stored, err := h.store.Save(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.Printf("failed to store upload: %v", err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		Hash:      stored.Hash,
		Name:      name,
		MimeType:  content.DetectMIME(name, stored.Head),
		Size:      stored.Size,
		CreatedAt: time.Now().UnixMilli(),
		UserID:    q.Get("user"),
		RoomID:    q.Get("room"),
	}
	if err := h.index.UpsertFileMetadata(meta); err != nil {
		log.Printf("failed to index upload %s: %v", stored.Hash, err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		URL:      "/api/files/" + meta.Hash,
		Name:     meta.Name,
		MimeType: meta.MimeType,
		Size:     meta.Size,
	})
}

func (h *FilesHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	meta, err := h.index.GetFileMetadata(hash)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	rc, err := h.store.Get(hash)
	if err != nil {
		if errors.Is(err, filestore.ErrInvalidHash) {
			http.Error(w, "Invalid file id", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", fmt.Sprint(meta.Size))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": meta.Name}))
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to send file %s: %v", hash, err)
	}
}
