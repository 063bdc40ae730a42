package gravatar

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const BASE_URL = "https://www.gravatar.com/avatar/"

var ErrEmptyEmail = errors.New("gravatar: email is empty")

// Finder builds gravatar image urls. Size & Default are passed through as the
// 's' & 'd' query params when set.
type Finder struct {
	Size    int
	Default string
}

func NewFinder() *Finder {
	return &Finder{}
}

func (finder *Finder) AvatarURL(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", ErrEmptyEmail
	}

	hash := md5.Sum([]byte(normalized))
	avatarURL := BASE_URL + hex.EncodeToString(hash[:])

	params := url.Values{}
	if finder.Size > 0 {
		params.Set("s", strconv.Itoa(finder.Size))
	}
	if finder.Default != "" {
		params.Set("d", finder.Default)
	}
	if len(params) > 0 {
		avatarURL += "?" + params.Encode()
	}

	return avatarURL, nil
}
