package storage

import (
	"context"
	"fmt"
	"mime/multipart"
	"path"
	"time"
)

// Upload describes an audio file written by SaveUpload
type Upload struct {
	Path     string
	Filename string
	Size     int64
}

// SaveUpload stores a multipart audio upload under the user's prefix and returns where it went
func (s *LocalStore) SaveUpload(ctx context.Context, userID string, file *multipart.FileHeader) (*Upload, error) {
	if userID == "" {
		return nil, fmt.Errorf("upload needs a user id")
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%d_%s", time.Now().UnixNano(), path.Base(file.Filename))
	dst := path.Join("audio", userID, name)
	if err := s.Put(ctx, dst, src); err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	return &Upload{
		Path:     dst,
		Filename: file.Filename,
		Size:     file.Size,
	}, nil
}
