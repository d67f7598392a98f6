package preflight

import (
	"fmt"
	"strings"
)

// CheckOCRTools verifies that the programs used for scanned PDFs are on
// PATH. Without them scanned documents are recorded as failed extractions.
func (c *Checker) CheckOCRTools() CheckResult {
	result := CheckResult{
		Name:     "ocr_tools",
		Required: false,
	}

	ex := c.cfg.Extraction
	var tools []string
	switch ex.OCREngine {
	case "none":
		result.Status = StatusWarn
		result.Message = "OCR disabled"
		result.Details = "Scanned PDFs will fail extraction; set extraction.ocr_engine to tesseract or tika"
		return result
	case "tika":
		tools = []string{ex.PdftoppmBin}
	default:
		tools = []string{ex.PdftoppmBin, ex.TesseractBin}
	}

	var found, missing []string
	for _, tool := range tools {
		if path, err := c.lookPath(tool); err == nil {
			found = append(found, path)
		} else {
			missing = append(missing, tool)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("not found: %s", strings.Join(missing, ", "))
		result.Details = "Install poppler-utils and tesseract-ocr, or point extraction.pdftoppm_bin/tesseract_bin at them"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s engine ready", engineName(ex.OCREngine))
	result.Details = strings.Join(found, ", ")
	if ex.OCREngine == "tika" {
		result.Details += "; tika at " + ex.TikaURL
	}
	return result
}

func engineName(name string) string {
	if name == "" {
		return "tesseract"
	}
	return name
}
