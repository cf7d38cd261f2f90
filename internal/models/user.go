package models

import "github.com/google/uuid"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is a hosting customer or staff account.
type User struct {
	BaseModel
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`
}

// UserRole grants a role to a user. A user may hold several rows.
type UserRole struct {
	BaseModel
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_roles_user_role" json:"user_id"`
	Role   string    `gorm:"uniqueIndex:idx_user_roles_user_role" json:"role"`
}
