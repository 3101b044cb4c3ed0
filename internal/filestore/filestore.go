// Package filestore keeps attachment content addressed by its SHA-256 hash.
package filestore

import (
	"errors"
	"io"
)

// HeadSize is how many leading bytes Save keeps for type detection.
const HeadSize = 262

var ErrInvalidHash = errors.New("invalid content hash")

// Stored describes content after a Save.
type Stored struct {
	Hash string
	Size int64
	Head []byte
}

type FileStore interface {
	// Save stores the content of r. Saving the same content twice is a no-op that
	// reports the same hash.
	Save(r io.Reader) (Stored, error)

	// Get opens the content stored under hash.
	Get(hash string) (io.ReadCloser, error)
}
