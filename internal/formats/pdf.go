package formats

import (
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// validatePDF runs pdfcpu's validation and reads the document info
func validatePDF(filePath string) (*Info, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	if err := api.Validate(f, conf); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}

	info := &Info{}
	pdfInfo, err := api.PDFInfo(f, filePath, nil, false, conf)
	if err != nil {
		// Valid but without readable info; calibre derives the title itself
		return info, nil
	}
	info.Pages = pdfInfo.PageCount
	info.Title = pdfInfo.Title
	info.Author = pdfInfo.Author
	return info, nil
}
