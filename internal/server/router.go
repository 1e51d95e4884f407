// Package server wires the public site, the admin shell and the JSON API
// onto one gin router.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/annotate"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/auth"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/logging"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "evitare_user_id"
	emailContextKey   = "evitare_user_email"
	isAdminContextKey = "evitare_is_admin"

	defaultHeartbeat = 25 * time.Second
)

var (
	errMissingCollections   = errors.New("collection registry dependency required")
	errMissingSettings      = errors.New("settings service dependency required")
	errMissingRegistrations = errors.New("registrations service dependency required")
	errMissingCertificates  = errors.New("certificates service dependency required")
	errMissingAnnotations   = errors.New("annotation service dependency required")
	errMissingUploader      = errors.New("uploader dependency required")
	errMissingAccounts      = errors.New("account service dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
	errMissingRealtime      = errors.New("realtime subscriber dependency required")
)

// Accounts authenticates admin users and answers role checks.
type Accounts interface {
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// SessionTokens issues session cookies.
type SessionTokens interface {
	Issue(identity auth.Identity) (string, time.Time, error)
}

// SessionValidator reads the session cookie of a request.
type SessionValidator interface {
	CookieName() string
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Collections   *content.Registry
	Settings      *settings.Service
	Registrations *registrations.Service
	Certificates  *certificates.Service
	Annotations   *annotate.Service
	Uploader      *media.Uploader
	Accounts      Accounts
	Tokens        SessionTokens
	Sessions      SessionValidator
	Realtime      realtime.Subscriber
	// MediaRoot is served under /media when uploads are stored locally.
	MediaRoot string
	// Heartbeat is the idle interval of the realtime stream.
	Heartbeat time.Duration
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Collections == nil:
		return nil, errMissingCollections
	case deps.Settings == nil:
		return nil, errMissingSettings
	case deps.Registrations == nil:
		return nil, errMissingRegistrations
	case deps.Certificates == nil:
		return nil, errMissingCertificates
	case deps.Annotations == nil:
		return nil, errMissingAnnotations
	case deps.Uploader == nil:
		return nil, errMissingUploader
	case deps.Accounts == nil:
		return nil, errMissingAccounts
	case deps.Tokens == nil:
		return nil, errMissingTokenIssuer
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	handler := &httpHandler{
		collections:   deps.Collections,
		settings:      deps.Settings,
		registrations: deps.Registrations,
		certificates:  deps.Certificates,
		annotations:   deps.Annotations,
		uploader:      deps.Uploader,
		accounts:      deps.Accounts,
		tokens:        deps.Tokens,
		sessions:      deps.Sessions,
		realtime:      deps.Realtime,
		heartbeat:     heartbeat,
		secureCookie:  strings.HasPrefix(deps.Certificates.Origin(), "https://"),
		logger:        logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(corsMiddleware(deps.Certificates.Origin()))
	router.Use(handler.loadSession)
	router.SetHTMLTemplate(pages)

	if deps.MediaRoot != "" {
		router.StaticFS("/media", gin.Dir(deps.MediaRoot, false))
	}

	handler.registerPages(router)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	handler.registerAPI(router.Group("/api"))

	router.NoRoute(handler.handleNotFound)
	return router, nil
}

type httpHandler struct {
	collections   *content.Registry
	settings      *settings.Service
	registrations *registrations.Service
	certificates  *certificates.Service
	annotations   *annotate.Service
	uploader      *media.Uploader
	accounts      Accounts
	tokens        SessionTokens
	sessions      SessionValidator
	realtime      realtime.Subscriber
	heartbeat     time.Duration
	secureCookie  bool
	logger        *zap.Logger
}

func (h *httpHandler) registerAPI(api *gin.RouterGroup) {
	api.GET("/session", h.handleSession)
	api.GET("/realtime", h.handleRealtime)
	api.GET("/settings", h.handleGetSettings)
	api.GET("/collections/:name", h.handlePublicCollection)
	api.POST("/registrations", h.handleSubmitRegistration)
	api.GET("/certificates/:registrationNumber", h.handleLookupCertificate)
	api.GET("/qrcodes/:id/qr.png", h.handleLinkQRCode)

	admin := api.Group("/admin")
	admin.Use(h.requireAdmin)

	admin.GET("/collections", h.handleSchemas)
	admin.GET("/collections/:name", h.handleAdminCollection)
	admin.POST("/collections/:name", h.handleCreateItem)
	admin.PATCH("/collections/:name/:id", h.handleUpdateItem)
	admin.DELETE("/collections/:name/:id", h.handleDeleteItem)
	admin.POST("/collections/:name/:id/toggle", h.handleToggleItem)
	admin.POST("/collections/:name/:id/move", h.handleMoveItem)

	admin.GET("/icons", h.handleIcons)
	admin.GET("/emojis", h.handleEmojis)
	admin.POST("/uploads", h.handleUpload)

	admin.PUT("/settings/:key", h.handleUpdateSettings)

	admin.GET("/registrations", h.handleListRegistrations)
	admin.PATCH("/registrations/:id", h.handleUpdateRegistration)
	admin.DELETE("/registrations/:id", h.handleDeleteRegistration)

	admin.GET("/certificates", h.handleListCertificates)
	admin.POST("/certificates", h.handleCreateCertificate)
	admin.GET("/certificates/:id", h.handleGetCertificate)
	admin.PATCH("/certificates/:id", h.handleUpdateCertificate)
	admin.DELETE("/certificates/:id", h.handleDeleteCertificate)
	admin.POST("/certificates/:id/document", h.handleUploadCertificateDocument)

	admin.POST("/annotations", h.handleOpenAnnotation)
	admin.GET("/annotations/:sid", h.handleAnnotationView)
	admin.DELETE("/annotations/:sid", h.handleCloseAnnotation)
	admin.POST("/annotations/:sid/objects", h.handleAddObject)
	admin.PATCH("/annotations/:sid/objects/:oid", h.handleModifyObject)
	admin.DELETE("/annotations/:sid/objects/:oid", h.handleRemoveObject)
	admin.POST("/annotations/:sid/undo", h.handleUndo)
	admin.POST("/annotations/:sid/redo", h.handleRedo)
	admin.POST("/annotations/:sid/clear", h.handleClear)
	admin.GET("/annotations/:sid/preview.png", h.handlePreview)
	admin.POST("/annotations/:sid/save", h.handleSaveAnnotation)
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{strings.TrimRight(origin, "/")},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders:     []string{"Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// loadSession exposes the signed-in user, if any, to later handlers. A
// missing or bad cookie leaves the request anonymous.
func (h *httpHandler) loadSession(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.Next()
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(emailContextKey, claims.UserEmail)
	c.Set(isAdminContextKey, claims.IsAdmin)
	c.Next()
}

// isAdmin checks the stored role rather than the token claim, so a revoked
// admin loses access and a promoted user gains it before the cookie expires.
func (h *httpHandler) isAdmin(c *gin.Context) (bool, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return false, false
	}
	admin, err := h.accounts.IsAdmin(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("admin role lookup failed", zap.String("user_id", userID), zap.Error(err))
		return true, false
	}
	return true, admin
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	signedIn, admin := h.isAdmin(c)
	switch {
	case !signedIn:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case !admin:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		c.Next()
	}
}

func (h *httpHandler) requireAdminPage(c *gin.Context) {
	signedIn, admin := h.isAdmin(c)
	switch {
	case !signedIn:
		c.Redirect(http.StatusSeeOther, "/auth?next="+url.QueryEscape(c.Request.URL.Path))
		c.Abort()
	case !admin:
		h.renderPage(c, http.StatusForbidden, "forbidden", "Acesso negado", nil)
		c.Abort()
	default:
		c.Next()
	}
}

func (h *httpHandler) handleNotFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.renderPage(c, http.StatusNotFound, "not_found", "Página não encontrada", nil)
}
