package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

var ErrImageHostNotConfigured = errors.New("no image host configured for avatars")

// ImageHost stores avatar images & returns the url they are served from
type ImageHost interface {
	UploadAvatar(ctx context.Context, name string, image io.Reader) (string, error)
}

type ObjectUploader interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader) (string, error)
}

// AvatarHost writes avatars to <prefix>/<name> in bucket. Uploading under an
// existing name overwrites the previous image.
type AvatarHost struct {
	uploader ObjectUploader
	bucket   string
	prefix   string
}

func NewAvatarHost(uploader ObjectUploader, bucket, prefix string) *AvatarHost {
	return &AvatarHost{uploader: uploader, bucket: bucket, prefix: prefix}
}

func (host *AvatarHost) UploadAvatar(ctx context.Context, name string, image io.Reader) (string, error) {
	return host.uploader.PutObject(ctx, host.bucket, path.Join(host.prefix, name), image)
}

type UnconfiguredImageHost struct{}

func (UnconfiguredImageHost) UploadAvatar(ctx context.Context, name string, image io.Reader) (string, error) {
	return "", ErrImageHostNotConfigured
}
