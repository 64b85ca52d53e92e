package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxPhotoBytes = 10 << 20
	MaxAudioBytes = 50 << 20
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

var photoExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".heic": {},
}

var photoMimes = map[string]struct{}{
	"image/jpeg": {}, "image/png": {}, "image/gif": {}, "image/webp": {}, "image/heic": {},
}

var audioExts = map[string]struct{}{
	".m4a": {}, ".mp3": {}, ".wav": {}, ".aac": {}, ".ogg": {}, ".webm": {},
}

var audioMimes = map[string]struct{}{
	"audio/mp4": {}, "audio/mpeg": {}, "audio/wav": {}, "audio/x-wav": {},
	"audio/aac": {}, "audio/ogg": {}, "audio/webm": {}, "audio/m4a": {},
}

// ValidatePhoto applies the photo upload policy: size cap plus both an
// allow-listed extension and an allow-listed content type.
func ValidatePhoto(fileName, mimeType string, size int64) error {
	if size > MaxPhotoBytes {
		return fmt.Errorf("%w: photo exceeds %d bytes", ErrTooLarge, MaxPhotoBytes)
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := photoExts[ext]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if _, ok := photoMimes[strings.ToLower(mimeType)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	return nil
}

// ValidateAudio is looser than photos: recorders report content types
// inconsistently, so either a known extension or a known content type
// passes.
func ValidateAudio(fileName, mimeType string, size int64) error {
	if size > MaxAudioBytes {
		return fmt.Errorf("%w: audio exceeds %d bytes", ErrTooLarge, MaxAudioBytes)
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, extOK := audioExts[ext]; extOK {
		return nil
	}
	if _, mimeOK := audioMimes[strings.ToLower(mimeType)]; mimeOK {
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, ext, mimeType)
}

// Store keeps media files on disk under a flat directory with opaque
// names; the original file name lives only in evidence metadata.
type Store struct {
	Dir string
}

func (s Store) Init() error {
	return os.MkdirAll(s.Dir, 0o755)
}

// Save writes data under a fresh opaque name and returns the storage
// path relative to the store directory.
func (s Store) Save(fileName string, data []byte) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(fileName))
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	return name, nil
}

func (s Store) Read(storagePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, filepath.Base(storagePath)))
}

// Remove deletes a stored file. Missing files are not an error; delete
// requests may be retried after a partial failure.
func (s Store) Remove(storagePath string) error {
	err := os.Remove(filepath.Join(s.Dir, filepath.Base(storagePath)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EncodeInline produces the base64 form embedded in offline download
// packages.
func EncodeInline(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeInline parses base64 payloads sent by clients that embed file
// bytes in JSON rather than multipart.
func DecodeInline(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode inline media: %w", err)
	}
	return data, nil
}
