package formats

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

type container struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title   []string `xml:"title"`
		Creator []string `xml:"creator"`
	} `xml:"metadata"`
	Spine struct {
		Items []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// validateEPUB requires a container pointing at a parsable package document
func validateEPUB(filePath string) (*Info, error) {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	c := &container{}
	if err := decodeFile(&r.Reader, "META-INF/container.xml", c); err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}
	if len(c.RootFiles) == 0 {
		return nil, fmt.Errorf("container lists no package document")
	}

	pkg := &opfPackage{}
	opfPath := path.Clean(c.RootFiles[0].FullPath)
	if err := decodeFile(&r.Reader, opfPath, pkg); err != nil {
		return nil, fmt.Errorf("package %s: %w", opfPath, err)
	}

	info := &Info{Pages: len(pkg.Spine.Items)}
	if len(pkg.Metadata.Title) > 0 {
		info.Title = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	if len(pkg.Metadata.Creator) > 0 {
		info.Author = strings.TrimSpace(pkg.Metadata.Creator[0])
	}
	return info, nil
}

func decodeFile(r *zip.Reader, name string, v any) error {
	f, err := findFile(r, name)
	if err != nil {
		return err
	}
	defer f.Close()
	return xml.NewDecoder(f).Decode(v)
}

func findFile(r *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range r.File {
		if f.Name == name || strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, os.ErrNotExist
}
