package models

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Daskott/kontacts/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.PasswordHashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type avatarFinderStub struct {
	url string
	err error
}

func (stub avatarFinderStub) AvatarURL(email string) (string, error) {
	return stub.url, stub.err
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	db, err := NewTestDb(t.TempDir())
	require.Nil(t, err)

	t.Run("Should create an unconfirmed user with a hashed password & avatar", func(t *testing.T) {
		store := NewUserStore(db, avatarFinderStub{url: "https://avatars.test/tony"})

		user, err := store.CreateUser(ctx, UserInput{Username: "tonystark", Email: "tony@avengers.com", Password: "iamironm"})
		require.Nil(t, err)

		found, err := store.FindUserByEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)
		require.NotNil(t, found)

		assert.Equal(t, user.ID, found.ID)
		assert.False(t, found.Confirmed)
		assert.NotEqual(t, "iamironm", found.Password)
		assert.True(t, auth.CheckPasswordHash("iamironm", found.Password))
		if assert.NotNil(t, found.Avatar) {
			assert.Equal(t, "https://avatars.test/tony", *found.Avatar)
		}
	})

	t.Run("Should create the user without an avatar when the lookup fails", func(t *testing.T) {
		store := NewUserStore(db, avatarFinderStub{err: errors.New("gravatar is down")})

		user, err := store.CreateUser(ctx, UserInput{Username: "peterparker", Email: "peter@avengers.com", Password: "spidey1"})
		require.Nil(t, err)
		assert.Nil(t, user.Avatar)

		found, err := store.FindUserByEmail(ctx, "peter@avengers.com")
		require.Nil(t, err)
		require.NotNil(t, found)
		assert.Nil(t, found.Avatar)
	})

	t.Run("Should return nil for an unknown email", func(t *testing.T) {
		store := NewUserStore(db, nil)

		found, err := store.FindUserByEmail(ctx, "thanos@titan.com")
		assert.Nil(t, err)
		assert.Nil(t, found)
	})

	t.Run("Should confirm email", func(t *testing.T) {
		store := NewUserStore(db, nil)

		err := store.ConfirmEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)

		found, err := store.FindUserByEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)
		assert.True(t, found.Confirmed)
	})

	t.Run("Should fail to confirm email of a missing user", func(t *testing.T) {
		store := NewUserStore(db, nil)

		err := store.ConfirmEmail(ctx, "thanos@titan.com")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})

	t.Run("Should set & clear the refresh token", func(t *testing.T) {
		store := NewUserStore(db, nil)
		user, err := store.FindUserByEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)

		token := "refresh-token"
		require.Nil(t, store.SetRefreshToken(ctx, user, &token))

		found, err := store.FindUserByEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)
		if assert.NotNil(t, found.RefreshToken) {
			assert.Equal(t, token, *found.RefreshToken)
		}

		require.Nil(t, store.SetRefreshToken(ctx, user, nil))

		found, err = store.FindUserByEmail(ctx, "tony@avengers.com")
		require.Nil(t, err)
		assert.Nil(t, found.RefreshToken)
	})

	t.Run("Should set avatar", func(t *testing.T) {
		store := NewUserStore(db, nil)

		user, err := store.SetAvatar(ctx, "peter@avengers.com", "https://avatars.test/peter")
		require.Nil(t, err)
		if assert.NotNil(t, user.Avatar) {
			assert.Equal(t, "https://avatars.test/peter", *user.Avatar)
		}

		_, err = store.SetAvatar(ctx, "thanos@titan.com", "https://avatars.test/thanos")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}
