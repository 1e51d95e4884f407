package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (stubSessionValidator) CookieName() string { return "evitare_session" }

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

func runLoadSession(t *testing.T, validator stubSessionValidator) (*gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{sessions: validator, logger: zap.New(core)}
	handler.loadSession(ctx)
	return ctx, logs
}

func TestLoadSessionLogsExpiredTokenAtInfoLevel(t *testing.T) {
	ctx, logs := runLoadSession(t, stubSessionValidator{err: auth.ErrExpiredSessionToken})

	if ctx.GetString(userIDContextKey) != "" {
		t.Fatalf("expected anonymous request, got user %q", ctx.GetString(userIDContextKey))
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestLoadSessionLogsInvalidTokenAtWarnLevel(t *testing.T) {
	_, logs := runLoadSession(t, stubSessionValidator{err: auth.ErrInvalidSessionToken})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for invalid token, got %s", entries[0].Level)
	}
}

func TestLoadSessionIgnoresMissingCookie(t *testing.T) {
	_, logs := runLoadSession(t, stubSessionValidator{err: auth.ErrMissingSessionToken})

	if logs.Len() != 0 {
		t.Fatalf("expected no log entries for anonymous visitors, got %d", logs.Len())
	}
}

func TestLoadSessionExposesClaims(t *testing.T) {
	ctx, _ := runLoadSession(t, stubSessionValidator{claims: auth.SessionClaims{
		UserID: "user-1", UserEmail: "ana@example.com", IsAdmin: true,
	}})

	if ctx.GetString(userIDContextKey) != "user-1" || !ctx.GetBool(isAdminContextKey) {
		t.Fatalf("unexpected session context: user %q admin %v", ctx.GetString(userIDContextKey), ctx.GetBool(isAdminContextKey))
	}
}

func TestAdminAPIRequiresAdminSession(t *testing.T) {
	server := newTestServer(t)

	testCases := []struct {
		name   string
		cookie *http.Cookie
		want   int
	}{
		{name: "anonymous", cookie: nil, want: http.StatusUnauthorized},
		{
			name:   "signed in without admin role",
			cookie: server.cookie(t, auth.Identity{UserID: "visitor", Email: "visitor@example.com"}),
			want:   http.StatusForbidden,
		},
		{
			name:   "admin claim for unknown account",
			cookie: server.cookie(t, auth.Identity{UserID: "ghost", Email: "ghost@example.com", IsAdmin: true}),
			want:   http.StatusForbidden,
		},
		{name: "admin", cookie: server.adminCookie(t), want: http.StatusOK},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.doJSON(t, http.MethodGet, "/api/admin/collections", nil, testCase.cookie)
			expectStatus(t, recorder, testCase.want)
		})
	}
}

func TestPromotedUserGainsAdminBeforeSessionExpires(t *testing.T) {
	server := newTestServer(t)

	editorAccount, err := server.accounts.EnsureAdmin(context.Background(), "editora@evitare.com.br", "outra-senha-123")
	if err != nil {
		t.Fatalf("promote account: %v", err)
	}
	// The cookie predates the promotion and still carries is_admin=false.
	cookie := server.cookie(t, auth.Identity{UserID: editorAccount.ID, Email: editorAccount.Email})

	recorder := server.doJSON(t, http.MethodGet, "/api/admin/collections", nil, cookie)
	expectStatus(t, recorder, http.StatusOK)

	recorder = server.doJSON(t, http.MethodGet, "/api/session", nil, cookie)
	expectStatus(t, recorder, http.StatusOK)
	if payload := decodeBody[sessionPayload](t, recorder); !payload.IsAdmin {
		t.Fatalf("expected the stored role to win over the token claim: %+v", payload)
	}
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	server := newTestServer(t)

	recorder := server.doJSON(t, http.MethodPost, "/auth/login", map[string]string{
		"email": testAdminEmail, "password": testAdminPassword,
	}, nil)
	expectStatus(t, recorder, http.StatusOK)

	var session *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "evitare_session" {
			session = cookie
		}
	}
	if session == nil || session.Value == "" {
		t.Fatalf("expected session cookie, got %v", recorder.Result().Cookies())
	}
	if !session.HttpOnly || !session.Secure {
		t.Fatalf("expected http-only secure cookie, got %+v", session)
	}

	recorder = server.doJSON(t, http.MethodGet, "/api/session", nil, &http.Cookie{Name: session.Name, Value: session.Value})
	expectStatus(t, recorder, http.StatusOK)
	payload := decodeBody[sessionPayload](t, recorder)
	if !payload.Authenticated || !payload.IsAdmin || payload.Email != testAdminEmail {
		t.Fatalf("unexpected session payload: %+v", payload)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	server := newTestServer(t)

	recorder := server.doJSON(t, http.MethodPost, "/auth/login", map[string]string{
		"email": testAdminEmail, "password": "errada",
	}, nil)
	expectStatus(t, recorder, http.StatusUnauthorized)
	if len(recorder.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie on rejected login, got %v", recorder.Result().Cookies())
	}
	if len(server.logs.FilterMessage("login rejected").All()) != 1 {
		t.Fatalf("expected one login rejected entry, got %v", server.logs.All())
	}
}

func TestFormLoginRedirectsToLocalTarget(t *testing.T) {
	server := newTestServer(t)

	testCases := []struct {
		next string
		want string
	}{
		{next: "/admin", want: "/admin"},
		{next: "https://attacker.example/admin", want: "/admin"},
		{next: "//attacker.example", want: "/admin"},
	}
	for _, testCase := range testCases {
		form := url.Values{"email": {testAdminEmail}, "password": {testAdminPassword}, "next": {testCase.next}}
		request := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		recorder := server.serve(request, nil)

		expectStatus(t, recorder, http.StatusSeeOther)
		if location := recorder.Header().Get("Location"); location != testCase.want {
			t.Fatalf("next %q: unexpected redirect %q, want %q", testCase.next, location, testCase.want)
		}
	}
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	server := newTestServer(t)

	recorder := server.doJSON(t, http.MethodPost, "/auth/logout", nil, server.adminCookie(t))
	expectStatus(t, recorder, http.StatusNoContent)

	cleared := false
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "evitare_session" && cookie.Value == "" && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected cleared session cookie, got %v", recorder.Result().Cookies())
	}
}

func TestAdminPageRedirectsAnonymousVisitorsToLogin(t *testing.T) {
	server := newTestServer(t)

	recorder := server.serve(httptest.NewRequest(http.MethodGet, "/admin", http.NoBody), nil)
	expectStatus(t, recorder, http.StatusSeeOther)
	if location := recorder.Header().Get("Location"); location != "/auth?next=%2Fadmin" {
		t.Fatalf("unexpected redirect %q", location)
	}

	recorder = server.serve(httptest.NewRequest(http.MethodGet, "/admin", http.NoBody), server.adminCookie(t))
	expectStatus(t, recorder, http.StatusOK)
}

func TestCORSPreflightAllowsSiteOrigin(t *testing.T) {
	server := newTestServer(t)

	request := httptest.NewRequest(http.MethodOptions, "/api/admin/settings/colors", http.NoBody)
	request.Header.Set("Origin", testOrigin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	recorder := server.serve(request, nil)

	expectStatus(t, recorder, http.StatusNoContent)
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials to be allowed, got %q", got)
	}

	request = httptest.NewRequest(http.MethodOptions, "/api/admin/settings/colors", http.NoBody)
	request.Header.Set("Origin", "https://elsewhere.example")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	recorder = server.serve(request, nil)
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected foreign origin to be refused, got %q", got)
	}
}
