package formats

import (
	"archive/zip"
	"errors"
	"io"

	"github.com/nwaples/rardecode/v2"
)

// validateCBZ requires a readable zip with at least one image
func validateCBZ(filePath string) (*Info, error) {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	pages := 0
	for _, f := range r.File {
		if isImage(f.Name) {
			pages++
		}
	}
	if pages == 0 {
		return nil, errNoImages("CBZ")
	}
	return &Info{Pages: pages}, nil
}

// validateCBR requires a readable rar with at least one image
func validateCBR(filePath string) (*Info, error) {
	r, err := rardecode.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	pages := 0
	for {
		header, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !header.IsDir && isImage(header.Name) {
			pages++
		}
	}
	if pages == 0 {
		return nil, errNoImages("CBR")
	}
	return &Info{Pages: pages}, nil
}
