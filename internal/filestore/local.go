package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFileStore implements FileStore using the local filesystem.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (s *LocalFileStore) getPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// headWriter keeps the first HeadSize bytes written to it.
type headWriter struct {
	buf []byte
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := HeadSize - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (s *LocalFileStore) Save(r io.Reader) (Stored, error) {
	// Write to temporary file first, hashing on the way
	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return Stored{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // Clean up if rename fails or content already exists
	}()

	h := sha256.New()
	head := &headWriter{}
	size, err := io.Copy(io.MultiWriter(tmp, h, head), r)
	if err != nil {
		return Stored{}, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Stored{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	stored := Stored{Hash: hex.EncodeToString(h.Sum(nil)), Size: size, Head: head.buf}
	path := s.getPath(stored.Hash)

	// Idempotency check
	if _, err := os.Stat(path); err == nil {
		return stored, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Stored{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Atomically rename
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Stored{}, fmt.Errorf("failed to rename file: %w", err)
	}
	return stored, nil
}

func (s *LocalFileStore) Get(hash string) (io.ReadCloser, error) {
	if !validHash(hash) {
		return nil, ErrInvalidHash
	}
	f, err := os.Open(s.getPath(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", hash, err)
	}
	return f, nil
}
