package storage

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var ErrFileNotFound = errors.New("file not found")

// FileMetadata describes an uploaded attachment. Content is addressed by Hash.
type FileMetadata struct {
	Hash      string `msgpack:"hash"`
	Name      string `msgpack:"name"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
	RoomID    string `msgpack:"roomId"`
}

func (f *FileMetadata) Key() []byte {
	return []byte(f.Hash)
}

func (f *FileMetadata) MarshalBinary() (data []byte, err error) {
	type alias FileMetadata
	return msgpack.Marshal((*alias)(f))
}

func (f *FileMetadata) UnmarshalBinary(data []byte) error {
	type alias FileMetadata
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (s *BboltStorage) UpsertFileMetadata(meta FileMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		return tx.Bucket(bucketFiles).Put(meta.Key(), data)
	})
}

func (s *BboltStorage) GetFileMetadata(hash string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrFileNotFound, hash)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}
