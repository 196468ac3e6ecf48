// Package storage ships finalized data files to where consumers read them.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Uploader makes a local data file available to consumers and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, path string) (uri string, err error)
}

// UploadError wraps an upload failure with the operation and object key.
type UploadError struct {
	Op  string
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// LocalUploader leaves files in place.
type LocalUploader struct{}

func (LocalUploader) Upload(_ context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &UploadError{Op: "Upload", Key: path, Err: err}
	}
	return "file://" + filepath.ToSlash(abs), nil
}
