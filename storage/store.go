// Package storage receives validated buffers and returns retrievable URLs.
// It only ever sees content the validation pipeline accepted.
package storage

import "context"

// StoredObject describes one persisted upload.
type StoredObject struct {
	Path string // filesystem path (local store) or backend key
	URL  string // public retrieval URL
}

// ObjectStore is the collaborator contract on accept: it takes ownership of
// the validated buffer and returns where it can be retrieved from.
type ObjectStore interface {
	Save(ctx context.Context, candidateID, sanitizedFilename, detectedType string, data []byte) (StoredObject, error)
}
