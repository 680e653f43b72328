package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// extensions maps confirmed types onto stored file extensions. The client's
// filename extension is never trusted for this.
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// LocalStore writes accepted uploads under baseDir/yyyy/mm/dd and serves them
// from publicBase. Names are derived from the candidate ID, so two uploads can
// never collide regardless of what filename the client declared.
type LocalStore struct {
	BaseDir    string
	PublicBase string
}

// NewLocalStore builds a store rooted at baseDir.
func NewLocalStore(baseDir, publicBase string) *LocalStore {
	return &LocalStore{BaseDir: baseDir, PublicBase: publicBase}
}

// Save persists the buffer and returns its path and public URL.
func (s *LocalStore) Save(ctx context.Context, candidateID, sanitizedFilename, detectedType string, data []byte) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, err
	}
	now := time.Now()
	year := now.Format("2006")
	month := now.Format("01")
	day := now.Format("02")
	dir := filepath.Join(s.BaseDir, year, month, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("create upload directory: %w", err)
	}

	ext := extensions[detectedType]
	name := candidateID + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("write upload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/%s/%s", s.PublicBase, year, month, day, name)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return StoredObject{Path: abs, URL: url}, nil
}
