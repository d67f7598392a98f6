package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// Classify determines the file type from the extension and then the file's
// leading bytes. Content wins over the extension, so a renamed PDF is still
// treated as a PDF. Files whose extension promises a format their content
// does not match are reported as corrupt.
func Classify(path string) (store.FileType, error) {
	byName := store.FileTypeFromName(path)

	f, err := os.Open(path)
	if err != nil {
		return store.FileTypeOther, docerrors.New(docerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return store.FileTypeOther, docerrors.New(docerrors.ErrCodeFileCorrupt, "cannot read file header", err)
	}
	head = head[:n]

	switch {
	case bytes.Contains(head, pdfMagic):
		return store.FileTypePDF, nil
	case bytes.HasPrefix(head, zipMagic):
		if isDOCX(f) {
			return store.FileTypeDOCX, nil
		}
	}

	if byName != store.FileTypeOther {
		return byName, docerrors.New(docerrors.ErrCodeFileCorrupt,
			fmt.Sprintf("content of %s does not look like %s", path, byName), nil)
	}
	return store.FileTypeOther, docerrors.New(docerrors.ErrCodeUnsupportedFormat,
		fmt.Sprintf("unsupported file type: %s", path), nil)
}

func isDOCX(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return false
	}
	for _, zf := range zr.File {
		if zf.Name == docxBodyPart {
			return true
		}
	}
	return false
}
