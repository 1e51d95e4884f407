package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/annotate"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/auth"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/database"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/storage"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testOrigin        = "https://evitare.com.br"
	testSigningSecret = "server-test-signing-secret"
	testAdminEmail    = "admin@evitare.com.br"
	testAdminPassword = "senha-segura-123"
)

type testServer struct {
	handler       http.Handler
	db            *gorm.DB
	dispatcher    *realtime.Dispatcher
	registrations *registrations.Service
	certificates  *certificates.Service
	store         *storage.LocalStore
	issuer        *auth.TokenIssuer
	accounts      *users.Service
	admin         users.User
	logs          *observer.ObservedLogs
}

type whiteRasterizer struct{}

func (whiteRasterizer) Rasterize(context.Context, []byte) (image.Image, error) {
	page := image.NewNRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			page.Set(x, y, color.White)
		}
	}
	return page, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "site.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	dispatcher := realtime.NewDispatcher()

	settingsService, err := settings.NewService(settings.ServiceConfig{Database: db, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("settings service: %v", err)
	}
	if err := settingsService.Init(ctx); err != nil {
		t.Fatalf("settings init: %v", err)
	}
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	uploader, err := media.NewUploader(media.UploaderConfig{Store: store, IDProvider: ids.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	catalogue, err := content.LoadCatalogue()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	registry, err := content.NewRegistry(content.RegistryConfig{
		Database:   db,
		Catalogue:  catalogue,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  dispatcher,
		Retirer:    uploader,
	})
	if err != nil {
		t.Fatalf("content registry: %v", err)
	}
	registrationService, err := registrations.NewService(registrations.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("registrations service: %v", err)
	}
	certificateService, err := certificates.NewService(certificates.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Publisher:  dispatcher,
		SiteOrigin: testOrigin,
		Retirer:    uploader,
	})
	if err != nil {
		t.Fatalf("certificates service: %v", err)
	}
	annotations, err := annotate.NewService(annotate.ServiceConfig{
		Certificates: certificateService,
		Backgrounds:  &annotate.Loader{Store: store, Rasterizer: whiteRasterizer{}},
		Uploader:     uploader,
		IDProvider:   ids.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("annotation service: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		HashCost:   bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	admin, err := accounts.EnsureAdmin(ctx, testAdminEmail, testAdminPassword)
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "evitare-test",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "evitare-test",
		CookieName:    "evitare_session",
	})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	handler, err := NewHTTPHandler(Dependencies{
		Collections:   registry,
		Settings:      settingsService,
		Registrations: registrationService,
		Certificates:  certificateService,
		Annotations:   annotations,
		Uploader:      uploader,
		Accounts:      accounts,
		Tokens:        issuer,
		Sessions:      validator,
		Realtime:      dispatcher,
		MediaRoot:     store.Root(),
		Heartbeat:     50 * time.Millisecond,
		Logger:        zap.New(core),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return &testServer{
		handler:       handler,
		db:            db,
		dispatcher:    dispatcher,
		registrations: registrationService,
		certificates:  certificateService,
		store:         store,
		issuer:        issuer,
		accounts:      accounts,
		admin:         admin,
		logs:          logs,
	}
}

func (s *testServer) cookie(t *testing.T, identity auth.Identity) *http.Cookie {
	t.Helper()
	token, _, err := s.issuer.Issue(identity)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &http.Cookie{Name: "evitare_session", Value: token}
}

func (s *testServer) adminCookie(t *testing.T) *http.Cookie {
	return s.cookie(t, auth.Identity{UserID: s.admin.ID, Email: testAdminEmail, IsAdmin: true})
}

func (s *testServer) serve(request *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

// doJSON sends body encoded as JSON; a nil body sends no payload.
func (s *testServer) doJSON(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	return s.serve(request, cookie)
}

func (s *testServer) upload(t *testing.T, path, filename, contentType string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return s.serve(request, s.adminCookie(t))
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status code: got %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}

func pngFixture(t *testing.T, width, height int) []byte {
	t.Helper()
	picture := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			picture.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, picture); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buffer.Bytes()
}
