package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Rasterizer renders a single PDF page (1-based) to a PNG image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error)
}

// PdftoppmRasterizer renders pages with poppler's pdftoppm.
type PdftoppmRasterizer struct {
	Bin    string
	Runner CommandRunner
}

// NewPdftoppmRasterizer returns a rasterizer using bin (default "pdftoppm").
func NewPdftoppmRasterizer(bin string) *PdftoppmRasterizer {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &PdftoppmRasterizer{Bin: bin, Runner: ExecRunner{}}
}

// Rasterize implements Rasterizer.
func (r *PdftoppmRasterizer) Rasterize(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docanalysis-raster-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	prefix := filepath.Join(dir, "page")
	p := strconv.Itoa(page)
	args := []string{"-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-png", "-singlefile", pdfPath, prefix}
	if _, err := r.Runner.Run(ctx, nil, r.Bin, args...); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, docerrors.New(docerrors.ErrCodeOCRUnavailable, "pdftoppm is not installed", err).
				WithSuggestion("Install poppler-utils (apt install poppler-utils / brew install poppler)")
		}
		return nil, docerrors.New(docerrors.ErrCodeOCRFailed, fmt.Sprintf("rasterizing page %d failed", page), err)
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeOCRFailed, fmt.Sprintf("rasterizer produced no image for page %d", page), err)
	}
	return img, nil
}

// OCREngine recognizes text in a page image.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
}

// TesseractEngine runs the tesseract CLI, feeding the image on stdin.
type TesseractEngine struct {
	Bin      string
	Language string
	Runner   CommandRunner
}

// NewTesseractEngine returns an engine using bin (default "tesseract").
func NewTesseractEngine(bin, language string) *TesseractEngine {
	if bin == "" {
		bin = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &TesseractEngine{Bin: bin, Language: language, Runner: ExecRunner{}}
}

// Name implements OCREngine.
func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize implements OCREngine.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	args := []string{"stdin", "stdout", "-l", e.Language, "--oem", "3", "--psm", "6",
		"-c", "preserve_interword_spaces=1"}
	out, err := e.Runner.Run(ctx, image, e.Bin, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", docerrors.New(docerrors.ErrCodeOCRUnavailable, "tesseract is not installed", err).
				WithSuggestion("Install tesseract-ocr or set extraction.ocr_engine: tika")
		}
		return "", docerrors.New(docerrors.ErrCodeOCRFailed, "tesseract failed", err)
	}
	return string(out), nil
}

// TikaEngine sends page images to an Apache Tika server.
type TikaEngine struct {
	BaseURL string
	Client  *http.Client
}

// NewTikaEngine returns an engine talking to baseURL.
func NewTikaEngine(baseURL string, timeout time.Duration) *TikaEngine {
	return &TikaEngine{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Name implements OCREngine.
func (e *TikaEngine) Name() string { return "tika" }

// Recognize implements OCREngine.
func (e *TikaEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.BaseURL+"/tika", bytes.NewReader(image))
	if err != nil {
		return "", docerrors.New(docerrors.ErrCodeOCRFailed, "failed to create Tika request", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "text/plain")

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", docerrors.New(docerrors.ErrCodeOCRUnavailable, "cannot reach Tika server", err).
			WithDetail("url", e.BaseURL).
			WithSuggestion("Start Tika (docker run -p 9998:9998 apache/tika) or set extraction.ocr_engine: tesseract")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", docerrors.New(docerrors.ErrCodeOCRFailed, "failed to read Tika response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", docerrors.New(docerrors.ErrCodeOCRFailed,
			fmt.Sprintf("Tika returned status %d", resp.StatusCode), errors.New(strings.TrimSpace(string(body))))
	}
	return string(body), nil
}

// guardedEngine wraps an engine with a circuit breaker. Once the breaker
// opens, pages fail fast with the recognition-unavailable error.
type guardedEngine struct {
	engine  OCREngine
	breaker *docerrors.CircuitBreaker
}

// Guard wraps engine with a circuit breaker.
func Guard(engine OCREngine, opts ...docerrors.CircuitBreakerOption) OCREngine {
	return &guardedEngine{
		engine:  engine,
		breaker: docerrors.NewCircuitBreaker("ocr-"+engine.Name(), opts...),
	}
}

func (g *guardedEngine) Name() string { return g.engine.Name() }

func (g *guardedEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	var text string
	err := g.breaker.Execute(func() error {
		var err error
		text, err = g.engine.Recognize(ctx, image)
		return err
	})
	if errors.Is(err, docerrors.ErrCircuitOpen) {
		return "", docerrors.New(docerrors.ErrCodeOCRUnavailable,
			fmt.Sprintf("%s disabled after repeated failures", g.engine.Name()), err)
	}
	return text, err
}

// unavailableEngine is used when OCR is switched off.
type unavailableEngine struct{}

func (unavailableEngine) Name() string { return "none" }

func (unavailableEngine) Recognize(context.Context, []byte) (string, error) {
	return "", docerrors.New(docerrors.ErrCodeOCRUnavailable, "OCR is disabled", nil).
		WithSuggestion("Set extraction.ocr_engine to tesseract or tika")
}

// NewOCREngine builds the configured engine behind a circuit breaker.
func NewOCREngine(name, tesseractBin, language, tikaURL string, timeout time.Duration) (OCREngine, error) {
	switch name {
	case "tesseract", "":
		return Guard(NewTesseractEngine(tesseractBin, language)), nil
	case "tika":
		return Guard(NewTikaEngine(tikaURL, timeout)), nil
	case "none":
		return unavailableEngine{}, nil
	default:
		return nil, docerrors.ConfigError(fmt.Sprintf("unknown OCR engine %q", name), nil)
	}
}
