package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Role{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &ids.Sequence{Prefix: "user-"},
		Clock:      func() time.Time { return time.Unix(1, 0) },
		HashCost:   bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestEnsureAdminThenAuthenticate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	user, err := service.EnsureAdmin(ctx, " Admin@Evitare.com.br ", "correct horse")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if user.Email != "admin@evitare.com.br" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}

	authenticated, err := service.Authenticate(ctx, "admin@evitare.com.br", "correct horse")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authenticated.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, authenticated.ID)
	}
	isAdmin, err := service.IsAdmin(ctx, user.ID)
	if err != nil || !isAdmin {
		t.Fatalf("expected admin role, got %v (%v)", isAdmin, err)
	}

	if _, err := service.Authenticate(ctx, "admin@evitare.com.br", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@evitare.com.br", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestEnsureAdminRotatesPasswordWithoutDuplicates(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	first, err := service.EnsureAdmin(ctx, "admin@evitare.com.br", "first-password")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	second, err := service.EnsureAdmin(ctx, "admin@evitare.com.br", "second-password")
	if err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same account, got %s and %s", first.ID, second.ID)
	}
	if _, err := service.Authenticate(ctx, "admin@evitare.com.br", "first-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected the old password to stop working, got %v", err)
	}

	var roles int64
	if err := db.Model(&Role{}).Count(&roles).Error; err != nil {
		t.Fatalf("count roles: %v", err)
	}
	if roles != 1 {
		t.Fatalf("expected one role row, got %d", roles)
	}
}

func TestIsAdminFalseForPlainUsers(t *testing.T) {
	service, db := newTestService(t)
	if err := db.Create(&User{ID: "plain", Email: "plain@x.com", PasswordHash: "x"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	isAdmin, err := service.IsAdmin(context.Background(), "plain")
	if err != nil {
		t.Fatalf("is admin failed: %v", err)
	}
	if isAdmin {
		t.Fatalf("expected plain user not to be admin")
	}
}

func TestEnsureAdminValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.EnsureAdmin(context.Background(), " ", "long-enough"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	if _, err := service.EnsureAdmin(context.Background(), "a@b.c", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
}

func TestIsAdminSeesRoleChangesAfterCacheTTL(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Role{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	now := time.Unix(1, 0)
	service, err := NewService(ServiceConfig{
		Database:     db,
		Clock:        func() time.Time { return now },
		HashCost:     bcrypt.MinCost,
		RoleCacheTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()
	if err := db.Create(&User{ID: "editor", Email: "editor@x.com", PasswordHash: "x"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if isAdmin, err := service.IsAdmin(ctx, "editor"); err != nil || isAdmin {
		t.Fatalf("expected plain user, got %v (%v)", isAdmin, err)
	}

	// Granted by another process, so the cached answer stands until it expires.
	if err := db.Create(&Role{UserID: "editor", Role: RoleAdmin, CreatedAt: now}).Error; err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if isAdmin, _ := service.IsAdmin(ctx, "editor"); isAdmin {
		t.Fatalf("expected cached answer within the TTL")
	}
	now = now.Add(time.Minute)
	if isAdmin, err := service.IsAdmin(ctx, "editor"); err != nil || !isAdmin {
		t.Fatalf("expected the grant to be seen after the TTL, got %v (%v)", isAdmin, err)
	}

	if err := db.Where("user_id = ?", "editor").Delete(&Role{}).Error; err != nil {
		t.Fatalf("revoke role: %v", err)
	}
	now = now.Add(time.Minute)
	if isAdmin, _ := service.IsAdmin(ctx, "editor"); isAdmin {
		t.Fatalf("expected the revocation to be seen after the TTL")
	}
}
