package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Daskott/kontacts/server/auth"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	BaseModel
	Username     string    `json:"username" gorm:"size:50"`
	Email        string    `json:"email" gorm:"size:250;not null;uniqueIndex"`
	Password     string    `json:"-" gorm:"size:255;not null"`
	Confirmed    bool      `json:"-" gorm:"default:false"`
	Avatar       *string   `json:"avatar" gorm:"size:255"`
	RefreshToken *string   `json:"-" gorm:"type:text"`
	Contacts     []Contact `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// MarshalJSON adds created_at, the one timestamp users are shown
func (user User) MarshalJSON() ([]byte, error) {
	type userFields User

	return json.Marshal(struct {
		userFields
		CreatedAt time.Time `json:"created_at"`
	}{userFields(user), user.CreatedAt})
}

type UserInput struct {
	Username string `json:"username" validate:"required,min=5,max=16"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=10,password"`
}

// AvatarFinder looks up a default avatar for an email address
type AvatarFinder interface {
	AvatarURL(email string) (string, error)
}

type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, input UserInput) (*User, error)
	SetRefreshToken(ctx context.Context, user *User, token *string) error
	ConfirmEmail(ctx context.Context, email string) error
	SetAvatar(ctx context.Context, email, url string) (*User, error)
}

type UserStore struct {
	db      *gorm.DB
	avatars AvatarFinder
}

func NewUserStore(db *gorm.DB, avatars AvatarFinder) *UserStore {
	return &UserStore{db: db, avatars: avatars}
}

// FindUserByEmail returns nil, nil when no user has the given email
func (store *UserStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	user := User{}

	err := store.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "FindUserByEmail")
	}

	return &user, nil
}

// CreateUser stores a new, unconfirmed user. A failed avatar lookup is logged
// and the user is created without one.
func (store *UserStore) CreateUser(ctx context.Context, input UserInput) (*User, error) {
	passwordHash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username: input.Username,
		Email:    input.Email,
		Password: passwordHash,
	}

	if store.avatars != nil {
		avatar, err := store.avatars.AvatarURL(input.Email)
		if err != nil {
			logg.Warnf("CreateUser: avatar lookup for %v failed: %v", input.Email, err)
		} else {
			user.Avatar = &avatar
		}
	}

	if err := store.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, errors.Wrap(err, "CreateUser")
	}

	return user, nil
}

func (store *UserStore) SetRefreshToken(ctx context.Context, user *User, token *string) error {
	user.RefreshToken = token

	err := store.db.WithContext(ctx).Model(user).Update("refresh_token", token).Error
	return errors.Wrap(err, "SetRefreshToken")
}

// ConfirmEmail marks the user's email as confirmed, failing with
// ErrUserNotFound if there is no such user.
func (store *UserStore) ConfirmEmail(ctx context.Context, email string) error {
	user, err := store.mustFindUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	err = store.db.WithContext(ctx).Model(user).Update("confirmed", true).Error
	return errors.Wrap(err, "ConfirmEmail")
}

func (store *UserStore) SetAvatar(ctx context.Context, email, url string) (*User, error) {
	user, err := store.mustFindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := store.db.WithContext(ctx).Model(user).Update("avatar", url).Error; err != nil {
		return nil, errors.Wrap(err, "SetAvatar")
	}
	user.Avatar = &url

	return user, nil
}

func (store *UserStore) mustFindUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.Wrapf(ErrUserNotFound, "email %v", email)
	}

	return user, nil
}
