package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/storage"
)

const (
	// RasterScale is the upscale factor applied when rasterizing page 1.
	RasterScale = 2

	pointsPerInch    = 72
	maxDocumentBytes = 10 << 20
	pdfMagic         = "%PDF"
)

var (
	ErrRasterizeFailed = errors.New("annotate: pdf rasterization failed")
	ErrDocumentFetch   = errors.New("annotate: document cannot be fetched")
)

// Rasterizer turns the first page of a PDF into an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) (image.Image, error)
}

// CommandRasterizer shells out to poppler's pdftoppm.
type CommandRasterizer struct {
	Command string
	Scale   int
}

func (r CommandRasterizer) Rasterize(ctx context.Context, pdf []byte) (image.Image, error) {
	command := r.Command
	if command == "" {
		command = "pdftoppm"
	}
	scale := r.Scale
	if scale <= 0 {
		scale = RasterScale
	}
	workDir, err := os.MkdirTemp("", "evitare-raster-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRasterizeFailed, err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(input, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRasterizeFailed, err)
	}
	outputRoot := filepath.Join(workDir, "page")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command,
		"-f", "1", "-l", "1", "-singlefile", "-png",
		"-r", strconv.Itoa(pointsPerInch*scale),
		input, outputRoot)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrRasterizeFailed, err, strings.TrimSpace(stderr.String()))
	}

	file, err := os.Open(outputRoot + ".png")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRasterizeFailed, err)
	}
	defer file.Close()
	page, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRasterizeFailed, err)
	}
	return page, nil
}

// Loader fetches a certificate document and produces the canvas
// background. PDFs are rasterized; raster images, such as a previously
// flattened certificate, are decoded as they are.
type Loader struct {
	Store      storage.ObjectStore
	Rasterizer Rasterizer
	HTTPClient *http.Client
}

func (l *Loader) Load(ctx context.Context, documentURL string) (image.Image, error) {
	data, err := l.fetch(ctx, documentURL)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte(pdfMagic)) {
		if l.Rasterizer == nil {
			return nil, fmt.Errorf("%w: no rasterizer configured", ErrRasterizeFailed)
		}
		return l.Rasterizer.Rasterize(ctx, data)
	}
	decoded, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported document: %v", ErrDocumentFetch, err)
	}
	return decoded, nil
}

func (l *Loader) fetch(ctx context.Context, documentURL string) ([]byte, error) {
	if l.Store != nil {
		if path, ok := l.Store.PathFromURL(documentURL); ok {
			reader, err := l.Store.Open(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
			}
			defer reader.Close()
			return readLimited(reader)
		}
	}
	if !strings.HasPrefix(documentURL, "http://") && !strings.HasPrefix(documentURL, "https://") {
		return nil, fmt.Errorf("%w: %q is not a stored object or http url", ErrDocumentFetch, documentURL)
	}
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDocumentFetch, response.StatusCode)
	}
	return readLimited(response.Body)
}

func readLimited(reader io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFetch, err)
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds 10MB", ErrDocumentFetch)
	}
	return data, nil
}
