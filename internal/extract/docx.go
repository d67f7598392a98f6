package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

const docxBodyPart = "word/document.xml"

// wordML namespace for the main document part.
const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCXContent is the text of a Word document. Paragraphs are body
// paragraphs in document order; TableRows are flattened table rows with
// cells joined by " | ".
type DOCXContent struct {
	Paragraphs []string
	TableRows  []string
}

// Units returns body paragraphs followed by table rows.
func (c *DOCXContent) Units() []string {
	out := make([]string, 0, len(c.Paragraphs)+len(c.TableRows))
	out = append(out, c.Paragraphs...)
	return append(out, c.TableRows...)
}

// Text joins all units with blank lines.
func (c *DOCXContent) Text() string {
	return strings.Join(c.Units(), "\n\n")
}

// ParseDOCX reads the paragraphs and tables of a .docx file.
func ParseDOCX(path string) (*DOCXContent, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileCorrupt, "not a valid DOCX archive", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != docxBodyPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, docerrors.New(docerrors.ErrCodeFileCorrupt, "cannot open document body", err)
		}
		defer func() { _ = rc.Close() }()
		content, err := parseDocumentXML(rc)
		if err != nil {
			return nil, docerrors.New(docerrors.ErrCodeFileCorrupt, "malformed document body", err)
		}
		return content, nil
	}
	return nil, docerrors.New(docerrors.ErrCodeFileCorrupt,
		fmt.Sprintf("DOCX archive has no %s", docxBodyPart), nil)
}

// parseDocumentXML walks word/document.xml as a token stream. Paragraphs
// nested in table cells contribute to their cell, never to the body list.
func parseDocumentXML(r io.Reader) (*DOCXContent, error) {
	dec := xml.NewDecoder(r)
	out := &DOCXContent{}

	var (
		tableDepth int
		inText     bool
		para       strings.Builder
		cell       []string
		row        []string
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS && t.Name.Space != "" {
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					row = row[:0]
				}
			case "tc":
				if tableDepth == 1 {
					cell = cell[:0]
				}
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}

		case xml.EndElement:
			if t.Name.Space != wordNS && t.Name.Space != "" {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				if text == "" {
					continue
				}
				if tableDepth > 0 {
					cell = append(cell, text)
				} else {
					out.Paragraphs = append(out.Paragraphs, text)
				}
			case "tc":
				if tableDepth == 1 {
					if text := strings.TrimSpace(strings.Join(cell, " ")); text != "" {
						row = append(row, text)
					}
				}
			case "tr":
				if tableDepth == 1 && len(row) > 0 {
					out.TableRows = append(out.TableRows, strings.Join(row, " | "))
				}
			case "tbl":
				tableDepth--
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out, nil
}
