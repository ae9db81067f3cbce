package formats

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/justyntemme/calibrewebui/internal/storage"
)

// Info is what an uploaded file tells about itself before calibre sees it
type Info struct {
	Format string `json:"format"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Pages  int    `json:"pages,omitempty"`
}

// FormatOf returns the upper-case format implied by a file name's extension
func FormatOf(filename string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Allowed reports the file's format and whether it is in the allowed list
func Allowed(filename string, allowed []string) (string, bool) {
	format := FormatOf(filename)
	if format == "" {
		return "", false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, format) {
			return format, true
		}
	}
	return format, false
}

// Validate checks that the file is structurally what its extension claims.
// Formats without a structural check only need to be non-empty.
func Validate(path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return nil, storage.ErrInvalidInput.WithMessage("%s is empty", filepath.Base(path))
	}

	format := FormatOf(path)
	var info *Info
	switch format {
	case "EPUB":
		info, err = validateEPUB(path)
	case "CBZ":
		info, err = validateCBZ(path)
	case "CBR":
		info, err = validateCBR(path)
	case "PDF":
		info, err = validatePDF(path)
	default:
		info = &Info{}
	}
	if err != nil {
		return nil, storage.ErrInvalidInput.WithMessage("invalid %s file: %v", format, err)
	}

	info.Format = format
	if info.Title == "" {
		info.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return info, nil
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

func errNoImages(kind string) error {
	return fmt.Errorf("%s archive contains no images", kind)
}
