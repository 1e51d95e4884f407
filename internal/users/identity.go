package users

import (
	"strings"
	"time"
)

// RoleAdmin grants access to the admin panel and the admin API.
const RoleAdmin = "admin"

// User is an account that can sign in to the admin panel.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Role assigns a named role to a user.
type Role struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:64"`
	Role      string    `gorm:"column:role;primaryKey;size:32"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (Role) TableName() string {
	return "user_roles"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
