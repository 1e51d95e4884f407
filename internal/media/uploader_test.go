package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingStore struct {
	*storage.LocalStore
	uploads   []string
	deletes   []string
	uploadErr error
	deleteErr error
}

func (s *recordingStore) Upload(ctx context.Context, path, contentType string, data []byte, overwrite bool) error {
	s.uploads = append(s.uploads, path)
	if s.uploadErr != nil {
		return s.uploadErr
	}
	return s.LocalStore.Upload(ctx, path, contentType, data, overwrite)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.deletes = append(s.deletes, path)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.LocalStore.Delete(ctx, path)
}

func newTestUploader(t *testing.T) (*Uploader, *recordingStore, *observer.ObservedLogs) {
	t.Helper()
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	store := &recordingStore{LocalStore: local}
	core, logs := observer.New(zapcore.DebugLevel)
	uploader, err := NewUploader(UploaderConfig{
		Store:      store,
		IDProvider: &ids.Sequence{Prefix: "up"},
		Clock:      func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) },
		Logger:     zap.New(core),
	})
	require.NoError(t, err)
	return uploader, store, logs
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func TestCheckRejectsBeforeAnyStoreCall(t *testing.T) {
	uploader, store, _ := newTestUploader(t)

	cases := []struct {
		name   string
		upload Upload
		want   error
	}{
		{"pdf-as-image", Upload{Namespace: "courses", ContentType: "application/pdf", Data: []byte("x"), Kind: KindImage}, ErrUnsupportedType},
		{"image-as-pdf", Upload{Namespace: "certificates", ContentType: "image/png", Data: []byte("x"), Kind: KindPDF}, ErrUnsupportedType},
		{"large-image", Upload{Namespace: "courses", ContentType: "image/png", Data: make([]byte, MaxImageBytes+1), Kind: KindImage}, ErrTooLarge},
		{"large-pdf", Upload{Namespace: "certificates", ContentType: "application/pdf", Data: make([]byte, MaxPDFBytes+1), Kind: KindPDF}, ErrTooLarge},
		{"bad-namespace", Upload{Namespace: "../etc", ContentType: "application/pdf", Data: []byte("x"), Kind: KindPDF}, ErrInvalidUpload},
		{"empty", Upload{Namespace: "certificates", ContentType: "application/pdf", Kind: KindPDF}, ErrInvalidUpload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uploader.Store(context.Background(), tc.upload)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, store.uploads)
}

func TestStoreKeepsExistingObjectsUntilRetired(t *testing.T) {
	uploader, store, _ := newTestUploader(t)
	ctx := context.Background()

	first, err := uploader.Store(ctx, Upload{
		Namespace: "courses", Filename: "NR 35 (altura).png", ContentType: "image/png",
		Data: pngBytes(t, 10, 10), Kind: KindImage,
	})
	require.NoError(t, err)
	assert.Equal(t, "/media/courses/20240315-up0001-NR_35_altura_.png", first)

	second, err := uploader.Store(ctx, Upload{
		Namespace: "courses", Filename: "nr35.png", ContentType: "image/png",
		Data: pngBytes(t, 10, 10), Kind: KindImage,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Empty(t, store.deletes)

	uploader.Retire(ctx, first, second)
	assert.Equal(t, []string{"courses/20240315-up0001-NR_35_altura_.png"}, store.deletes)
	_, err = store.Open(ctx, "courses/20240315-up0001-NR_35_altura_.png")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestRetireSkipsCurrentAndForeignURLs(t *testing.T) {
	uploader, store, _ := newTestUploader(t)
	ctx := context.Background()

	uploader.Retire(ctx, "", "/media/courses/a.png")
	uploader.Retire(ctx, "/media/courses/a.png", "/media/courses/a.png")
	uploader.Retire(ctx, "https://cdn.example.com/a.png", "")
	assert.Empty(t, store.deletes)

	uploader.Retire(ctx, "/media/courses/missing.png", "")
	assert.Equal(t, []string{"courses/missing.png"}, store.deletes)
}

func TestStoreFailureWritesNothing(t *testing.T) {
	uploader, store, _ := newTestUploader(t)
	store.uploadErr = errors.New("bucket unavailable")

	_, err := uploader.Store(context.Background(), Upload{
		Namespace: "certificates", Filename: "cert.pdf", ContentType: "application/pdf",
		Data: []byte("%PDF-1.4"), Kind: KindPDF,
	})
	require.Error(t, err)
	assert.Equal(t, "media.store.upload_failed", serviceerr.Code(err))
	assert.Empty(t, store.deletes)
}

func TestRetireLogsFailedDelete(t *testing.T) {
	uploader, store, logs := newTestUploader(t)
	store.deleteErr = errors.New("permission denied")

	uploader.Retire(context.Background(), "/media/certificates/old.pdf", "/media/certificates/new.pdf")

	entries := logs.FilterMessage("previous media object not deleted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "delete_previous_failed", entries[0].ContextMap()["reason"])
	assert.Equal(t, "certificates/old.pdf", entries[0].ContextMap()["path"])
}

func TestStoreFitsOversizedImages(t *testing.T) {
	uploader, store, _ := newTestUploader(t)
	ctx := context.Background()

	url, err := uploader.Store(ctx, Upload{
		Namespace: "services", Filename: "banner.png", ContentType: "image/png",
		Data: pngBytes(t, 3200, 800), Kind: KindImage,
	})
	require.NoError(t, err)

	path, ok := store.PathFromURL(url)
	require.True(t, ok)
	reader, err := store.Open(ctx, path)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)

	config, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1600, config.Width)
	assert.Equal(t, 400, config.Height)
}

func TestStoreRejectsUndecodableImage(t *testing.T) {
	uploader, store, _ := newTestUploader(t)
	_, err := uploader.Store(context.Background(), Upload{
		Namespace: "courses", Filename: "x.png", ContentType: "image/png",
		Data: []byte("not a png"), Kind: KindImage,
	})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Empty(t, store.uploads)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "certificado_final.pdf", SanitizeFilename("certificado final.pdf"))
	assert.Equal(t, "file", SanitizeFilename("..."))
	assert.Equal(t, maxNameRunes, len(SanitizeFilename(strings.Repeat("a", 200)+".png")))
}
