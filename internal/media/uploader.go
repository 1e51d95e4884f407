// Package media validates admin uploads, normalises oversized images and
// retires the stored objects a content field stopped pointing at.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"regexp"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/storage"
	"go.uber.org/zap"
)

// Kind is the class of file a picker accepts.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	// KindDocument is a certificate raster flattened by the annotation
	// editor. It is stored at full resolution under the PDF size cap.
	KindDocument Kind = "document"
)

const (
	MaxImageBytes  = 2 << 20
	MaxPDFBytes    = 10 << 20
	MaxImageEdge   = 1600
	webpQuality    = 82
	jpegQuality    = 85
	maxNameRunes   = 80
	opStore        = "media.store"
	opRetire       = "media.retire"
	opUploaderNew  = "media.uploader.new"
	pdfContentType = "application/pdf"
)

var (
	ErrUnsupportedType = errors.New("media: unsupported content type")
	ErrTooLarge        = errors.New("media: file too large")
	ErrInvalidImage    = errors.New("media: image cannot be decoded")
	ErrInvalidUpload   = errors.New("media: invalid upload")

	errMissingStore = errors.New("object store is required")
	unsafeName      = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)
	validNamespace  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Upload is one file received from a picker.
type Upload struct {
	Namespace   string
	Filename    string
	ContentType string
	Data        []byte
	Kind        Kind
}

type UploaderConfig struct {
	Store      storage.ObjectStore
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Retirer deletes stored objects a record stopped referencing.
type Retirer interface {
	Retire(ctx context.Context, retiredURL, currentURL string)
}

// NopRetirer keeps every object.
type NopRetirer struct{}

func (NopRetirer) Retire(context.Context, string, string) {}

// Uploader stores new files and retires the ones they replace.
type Uploader struct {
	store      storage.ObjectStore
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.Store == nil {
		return nil, serviceerr.New(opUploaderNew, "missing_store", errMissingStore)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: cfg.Store, idProvider: idProvider, clock: clock, logger: logger}, nil
}

// Check validates content type and size. It never touches the store.
func Check(upload Upload) error {
	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	switch upload.Kind {
	case KindImage:
		if !strings.HasPrefix(contentType, "image/") {
			return fmt.Errorf("%w: %s is not an image", ErrUnsupportedType, upload.ContentType)
		}
		if len(upload.Data) > MaxImageBytes {
			return fmt.Errorf("%w: images are limited to 2MB", ErrTooLarge)
		}
	case KindPDF:
		if !strings.HasPrefix(contentType, pdfContentType) {
			return fmt.Errorf("%w: %s is not a PDF", ErrUnsupportedType, upload.ContentType)
		}
		if len(upload.Data) > MaxPDFBytes {
			return fmt.Errorf("%w: PDFs are limited to 10MB", ErrTooLarge)
		}
	case KindDocument:
		if !strings.HasPrefix(contentType, "image/") {
			return fmt.Errorf("%w: %s is not an image", ErrUnsupportedType, upload.ContentType)
		}
		if len(upload.Data) > MaxPDFBytes {
			return fmt.Errorf("%w: documents are limited to 10MB", ErrTooLarge)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidUpload, upload.Kind)
	}
	if len(upload.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	}
	if !validNamespace.MatchString(upload.Namespace) {
		return fmt.Errorf("%w: namespace %q", ErrInvalidUpload, upload.Namespace)
	}
	return nil
}

// Store validates the upload and writes it under a fresh path, returning the
// public URL. Nothing already stored is touched; callers retire the object
// the new one replaces once the referencing record is saved.
func (u *Uploader) Store(ctx context.Context, upload Upload) (string, error) {
	if err := Check(upload); err != nil {
		return "", err
	}

	data, contentType := upload.Data, upload.ContentType
	if upload.Kind == KindImage {
		normalized, normalizedType, err := fitImage(upload.Data, upload.ContentType)
		if err != nil {
			return "", err
		}
		data, contentType = normalized, normalizedType
	}

	path, err := u.objectPath(upload)
	if err != nil {
		return "", err
	}
	if err := u.store.Upload(ctx, path, contentType, data, false); err != nil {
		u.logger.Error("media upload failed",
			zap.String("operation", opStore),
			zap.String("reason", "upload_failed"),
			zap.String("path", path),
			zap.Error(err))
		return "", serviceerr.New(opStore, "upload_failed", err)
	}
	return u.store.PublicURL(path), nil
}

// Retire deletes the object behind retiredURL unless it is the object behind
// currentURL. URLs outside the store are left alone and failures are only
// logged, since the record no longer points at the object.
func (u *Uploader) Retire(ctx context.Context, retiredURL, currentURL string) {
	if strings.TrimSpace(retiredURL) == "" {
		return
	}
	retiredPath, ok := u.store.PathFromURL(retiredURL)
	if !ok {
		return
	}
	if currentPath, ok := u.store.PathFromURL(currentURL); ok && currentPath == retiredPath {
		return
	}
	err := u.store.Delete(context.WithoutCancel(ctx), retiredPath)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		u.logger.Warn("previous media object not deleted",
			zap.String("operation", opRetire),
			zap.String("reason", "delete_previous_failed"),
			zap.String("path", retiredPath),
			zap.Error(err))
	}
}

func (u *Uploader) objectPath(upload Upload) (string, error) {
	id, err := u.idProvider.NewID()
	if err != nil {
		return "", serviceerr.New(opStore, "id_generation_failed", err)
	}
	return fmt.Sprintf("%s/%s-%s-%s", upload.Namespace, u.clock().UTC().Format("20060102"), id, SanitizeFilename(upload.Filename)), nil
}

// SanitizeFilename keeps letters, digits, dots, dashes and underscores.
func SanitizeFilename(filename string) string {
	name := unsafeName.ReplaceAllString(strings.TrimSpace(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = string(runes[len(runes)-maxNameRunes:])
	}
	return name
}

// fitImage shrinks images whose longest edge exceeds MaxImageEdge. Smaller
// images are stored as received.
func fitImage(data []byte, contentType string) ([]byte, string, error) {
	format := strings.TrimPrefix(strings.ToLower(contentType), "image/")
	var (
		config image.Config
		err    error
	)
	if format == "webp" {
		config, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		config, _, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		if format == "svg+xml" {
			return data, contentType, nil
		}
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if config.Width <= MaxImageEdge && config.Height <= MaxImageEdge {
		return data, contentType, nil
	}

	var decoded image.Image
	if format == "webp" {
		decoded, err = webp.Decode(bytes.NewReader(data))
	} else {
		decoded, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	fitted := imaging.Fit(decoded, MaxImageEdge, MaxImageEdge, imaging.Lanczos)

	var buffer bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(&buffer, fitted, &jpeg.Options{Quality: jpegQuality})
	case "webp":
		err = webp.Encode(&buffer, fitted, &webp.Options{Quality: webpQuality})
	case "gif":
		err = imaging.Encode(&buffer, fitted, imaging.GIF)
	default:
		err = png.Encode(&buffer, fitted)
		contentType = "image/png"
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: re-encode: %v", ErrInvalidImage, err)
	}
	return buffer.Bytes(), contentType, nil
}
