package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Daskott/kontacts/server/models"
	"github.com/redis/go-redis/v9"
)

const USER_TTL = 15 * time.Minute

// UserCache holds recently authenticated users keyed by email. A miss is
// nil, nil.
type UserCache interface {
	Get(ctx context.Context, email string) (*models.User, error)
	Set(ctx context.Context, user *models.User) error
}

// cachedUser carries every user field except password & refresh token
type cachedUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Confirmed bool      `json:"confirmed"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RedisUserCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisUserCache(client redis.Cmdable) *RedisUserCache {
	return &RedisUserCache{client: client, ttl: USER_TTL}
}

func (c *RedisUserCache) Get(ctx context.Context, email string) (*models.User, error) {
	data, err := c.client.Get(ctx, userKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cached := cachedUser{}
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	user := &models.User{
		Username:  cached.Username,
		Email:     cached.Email,
		Confirmed: cached.Confirmed,
		Avatar:    cached.Avatar,
	}
	user.ID = cached.ID
	user.CreatedAt = cached.CreatedAt
	user.UpdatedAt = cached.UpdatedAt

	return user, nil
}

func (c *RedisUserCache) Set(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(cachedUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Confirmed: user.Confirmed,
		Avatar:    user.Avatar,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	if err != nil {
		return err
	}

	return c.client.Set(ctx, userKey(user.Email), data, c.ttl).Err()
}

type NopCache struct{}

func (NopCache) Get(ctx context.Context, email string) (*models.User, error) { return nil, nil }

func (NopCache) Set(ctx context.Context, user *models.User) error { return nil }

func userKey(email string) string {
	return "user:" + email
}
