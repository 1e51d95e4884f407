// Package users stores admin accounts and their roles.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minPasswordLength   = 8
	defaultRoleCacheTTL = 30 * time.Second
)

var (
	ErrInvalidCredentials = errors.New("users: invalid email or password")
	ErrWeakPassword       = fmt.Errorf("users: password must have at least %d characters", minPasswordLength)
	ErrInvalidEmail       = errors.New("users: email is required")
)

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
	// RoleCacheTTL bounds how long a role answer is reused, so grants and
	// revocations made by another process are seen. Defaults to 30s.
	RoleCacheTTL time.Duration
}

// Service authenticates admin accounts and answers role checks.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	now        func() time.Time
	logger     *zap.Logger
	hashCost   int
	roleTTL    time.Duration
	adminCache sync.Map
	// decoyHash is compared against when the email is unknown so both
	// failure paths cost one bcrypt comparison.
	decoyHash []byte
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
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
	cost := cfg.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	roleTTL := cfg.RoleCacheTTL
	if roleTTL <= 0 {
		roleTTL = defaultRoleCacheTTL
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte("decoy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("users: prepare password hashing: %w", err)
	}
	return &Service{
		db:         cfg.Database,
		idProvider: idProvider,
		now:        clock,
		logger:     logger,
		hashCost:   cost,
		roleTTL:    roleTTL,
		decoyHash:  decoy,
	}, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.decoyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("user lookup failed", zap.String("operation", "users.authenticate"), zap.Error(err))
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

type roleCacheEntry struct {
	isAdmin bool
	expires time.Time
}

// IsAdmin reports whether the user holds the admin role. Answers are cached
// per user for the role cache TTL; EnsureAdmin drops the entry at once.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	now := s.now()
	if cached, ok := s.adminCache.Load(userID); ok {
		if entry, ok := cached.(roleCacheEntry); ok && now.Before(entry.expires) {
			return entry.isAdmin, nil
		}
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Role{}).
		Where("user_id = ? AND role = ?", userID, RoleAdmin).
		Count(&count).Error
	if err != nil {
		s.logger.Error("role lookup failed", zap.String("operation", "users.is_admin"), zap.Error(err))
		return false, err
	}
	isAdmin := count > 0
	s.adminCache.Store(userID, roleCacheEntry{isAdmin: isAdmin, expires: now.Add(s.roleTTL)})
	return isAdmin, nil
}

// EnsureAdmin creates the account if needed, sets its password and grants
// it the admin role.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	var user User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		lookupErr := tx.Where("email = ?", normalized).Take(&user).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			id, err := s.idProvider.NewID()
			if err != nil {
				return err
			}
			user = User{ID: id, Email: normalized, PasswordHash: string(hash), CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		case lookupErr != nil:
			return lookupErr
		default:
			user.PasswordHash = string(hash)
			user.UpdatedAt = now
			if err := tx.Model(&User{}).Where("id = ?", user.ID).Updates(map[string]any{
				"password_hash": user.PasswordHash,
				"updated_at":    now,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Role{UserID: user.ID, Role: RoleAdmin, CreatedAt: now}).Error
	})
	if err != nil {
		s.logger.Error("ensure admin failed", zap.String("operation", "users.ensure_admin"), zap.Error(err))
		return User{}, err
	}
	s.adminCache.Delete(user.ID)
	return user, nil
}
