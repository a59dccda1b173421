// Package audio stores uploaded recordings.
//
// Files live flat in one directory under generated names
// ("<32 hex chars><ext>"); the client's filename is only consulted for its
// extension. An optional Archive mirrors files to object storage.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// DefaultExt is used when the upload has no usable extension. Browsers'
// MediaRecorder produces webm.
const DefaultExt = ".webm"

// ErrInvalidName is returned for names that are not plain file names.
var ErrInvalidName = errors.New("audio: invalid file name")

// safeExt accepts extensions that are safe to put in a file name as-is.
var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// Store keeps audio files in a local directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: creating upload dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r into a new file and returns its generated name. The data is
// written to a staging file first and renamed into place, so a file under
// its final name is always complete. On error nothing is left behind.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	stagingPath := filepath.Join(s.dir, ".upload-"+xid.New().String())
	staging, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("audio: creating staging file: %w", err)
	}
	defer os.Remove(stagingPath) // no-op after a successful rename

	if _, err := io.Copy(staging, r); err != nil {
		staging.Close()
		return "", fmt.Errorf("audio: writing upload: %w", err)
	}
	if err := staging.Close(); err != nil {
		return "", fmt.Errorf("audio: closing staging file: %w", err)
	}

	name := strings.ReplaceAll(uuid.NewString(), "-", "") + Ext(originalName)
	if err := os.Rename(stagingPath, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("audio: moving upload into place: %w", err)
	}

	return name, nil
}

// Path returns the absolute-or-relative path of a stored file.
func (s *Store) Path(name string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Open opens a stored file for reading.
func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("audio: removing %s: %w", name, err)
	}
	return nil
}

// Ext returns the extension of originalName with its case kept, or
// DefaultExt if there is none or it is not path-safe (ASCII letters, digits,
// '-' and '_', at most 32 characters).
func Ext(originalName string) string {
	ext := filepath.Ext(originalName)
	if !safeExt.MatchString(ext) {
		return DefaultExt
	}
	return ext
}

var contentTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

// ContentType guesses the MIME type of a stored file from its extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func validName(name string) bool {
	return name != "" &&
		name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.HasPrefix(name, ".")
}
