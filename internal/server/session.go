package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/auth"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/users"
	"go.uber.org/zap"
)

type loginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Next     string `json:"next" form:"next"`
}

type sessionPayload struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	signedIn, admin := h.isAdmin(c)
	c.JSON(http.StatusOK, sessionPayload{
		Authenticated: signedIn,
		UserID:        c.GetString(userIDContextKey),
		Email:         c.GetString(emailContextKey),
		IsAdmin:       admin,
	})
}

// handleLogin signs an admin in with email and password and sets the session
// cookie. JSON callers get JSON back; the login form is redirected.
func (h *httpHandler) handleLogin(c *gin.Context) {
	wantsJSON := strings.HasPrefix(c.ContentType(), gin.MIMEJSON)
	var payload loginPayload
	if err := c.ShouldBind(&payload); err != nil || strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		h.loginFailed(c, wantsJSON, http.StatusBadRequest, "Informe e-mail e senha.", payload)
		return
	}

	ctx := c.Request.Context()
	user, err := h.accounts.Authenticate(ctx, payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			h.logger.Info("login rejected", zap.String("reason", "invalid_credentials"))
			h.loginFailed(c, wantsJSON, http.StatusUnauthorized, "E-mail ou senha inválidos.", payload)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		h.loginFailed(c, wantsJSON, http.StatusInternalServerError, "Não foi possível entrar agora.", payload)
		return
	}
	admin, err := h.accounts.IsAdmin(ctx, user.ID)
	if err != nil {
		h.logger.Error("admin role lookup failed", zap.String("user_id", user.ID), zap.Error(err))
		h.loginFailed(c, wantsJSON, http.StatusInternalServerError, "Não foi possível entrar agora.", payload)
		return
	}

	token, expiresAt, err := h.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email, IsAdmin: admin})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		h.loginFailed(c, wantsJSON, http.StatusInternalServerError, "Não foi possível entrar agora.", payload)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(time.Until(expiresAt).Seconds()), "/", "", h.secureCookie, true)

	if wantsJSON {
		c.JSON(http.StatusOK, sessionPayload{Authenticated: true, UserID: user.ID, Email: user.Email, IsAdmin: admin})
		return
	}
	c.Redirect(http.StatusSeeOther, safeNext(payload.Next))
}

func (h *httpHandler) loginFailed(c *gin.Context, wantsJSON bool, status int, message string, payload loginPayload) {
	if wantsJSON {
		c.JSON(status, gin.H{"error": http.StatusText(status), "message": message})
		return
	}
	h.renderPage(c, status, "auth", "Entrar", authView{Email: payload.Email, Next: payload.Next, Error: message})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookie, true)
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		c.Status(http.StatusNoContent)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/admin"
	}
	return next
}
