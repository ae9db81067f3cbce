package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStorage manages the scratch directory used for uploads, conversions
// and fetched metadata. Nothing in it is meant to outlive the operation that created it.
type FileStorage struct {
	tempDir string
}

// NewFileStorage creates the scratch directory if needed
func NewFileStorage(tempDir string) (*FileStorage, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, err
	}
	return &FileStorage{tempDir: tempDir}, nil
}

// Dir returns the scratch directory
func (fs *FileStorage) Dir() string {
	return fs.tempDir
}

// ConversionPath returns a unique output path for converting a book to format.
// Concurrent conversions of the same book never share a path.
func (fs *FileStorage) ConversionPath(bookID int64, format string) string {
	name := fmt.Sprintf("%d-%s.%s", bookID, uuid.NewString(), strings.ToLower(format))
	return filepath.Join(fs.tempDir, name)
}

// SaveUpload stores an uploaded file under a unique directory, keeping its
// sanitized original name (calibre derives the title from it).
func (fs *FileStorage) SaveUpload(filename string, reader io.Reader) (string, error) {
	name := sanitizeFileName(filepath.Base(filename))
	if name == "" {
		name = "upload"
	}
	dir, err := os.MkdirTemp(fs.tempDir, "upload-*")
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(dir, name)

	file, err := os.Create(filePath)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	return filePath, nil
}

// RemoveUpload deletes an upload saved by SaveUpload together with its directory
func (fs *FileStorage) RemoveUpload(filePath string) {
	dir := filepath.Dir(filePath)
	if filepath.Dir(dir) == filepath.Clean(fs.tempDir) {
		os.RemoveAll(dir)
		return
	}
	os.Remove(filePath)
}

// SweepStale removes scratch entries older than maxAge and returns how many were removed.
// It catches files left behind by a crash mid-conversion.
func (fs *FileStorage) SweepStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.tempDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(fs.tempDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

var (
	invalidNameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)
	repeatedSpaces   = regexp.MustCompile(`[_\s]+`)
)

// sanitizeFileName removes or replaces characters that are invalid in filenames
func sanitizeFileName(name string) string {
	if name == "" {
		return ""
	}

	name = invalidNameChars.ReplaceAllString(name, "_")
	name = repeatedSpaces.ReplaceAllString(name, " ")

	// Leading dots would hide the file; trailing ones break on Windows shares
	name = strings.Trim(name, " .")

	if len(name) > 200 {
		ext := filepath.Ext(name)
		name = name[:200-len(ext)] + ext
	}

	return name
}
