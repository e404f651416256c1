package domain

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user_not_found")

// User is the directory view of an account. The identity service owns the row.
type User struct {
	ID    string
	Email string
}

type Profile struct {
	UserID    string
	Name      *string
	Headline  *string
	Bio       *string
	PhotoURL  *string
	Interests datatypes.JSON
}

// Counterpart is a user enriched with whatever profile data could be found.
type Counterpart struct {
	ID      string
	Email   string
	Profile *Profile
}

type Repository interface {
	FindUser(ctx context.Context, db *gorm.DB, id string) (*User, error)
	FindUsers(ctx context.Context, db *gorm.DB, ids []string) ([]User, error)
	FindProfiles(ctx context.Context, db *gorm.DB, userIDs []string) ([]Profile, error)
}

// Directory answers "does this user exist" and "what do we know about these users".
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	LookupCounterparts(ctx context.Context, ids []string) (map[string]Counterpart, error)
}
