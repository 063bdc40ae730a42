package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var ErrObjectNotExist = storage.ErrObjectNotExist

type GStorage struct {
	storageClient *storage.Client
}

func NewGStorage(credentialsFilePath string) (*GStorage, error) {
	var client *storage.Client
	var err error

	if credentialsFilePath != "" {
		client, err = storage.NewClient(context.Background(), option.WithCredentialsFile(credentialsFilePath))
	} else {
		client, err = storage.NewClient(context.Background())
	}

	if err != nil {
		return nil, fmt.Errorf("NewGStorage: %v", err)
	}

	return &GStorage{storageClient: client}, nil
}

// PutObject writes body to bucket/object & returns the object's public url
func (gs *GStorage) PutObject(ctx context.Context, bucket, object string, body io.Reader) (string, error) {
	wc := gs.storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(wc, body); err != nil {
		wc.Close()
		return "", fmt.Errorf("io.Copy: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("Writer.Close: %v", err)
	}

	// The generation changes on every write, so clients don't keep a stale image
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s?generation=%d",
		bucket, object, wc.Attrs().Generation), nil
}

// UploadFile uploads the local file in filePath to bucket/object.
func (gs *GStorage) UploadFile(bucket, object, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("os.Open: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*50)
	defer cancel()

	wc := gs.storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err = io.Copy(wc, f); err != nil {
		return fmt.Errorf("io.Copy: %v", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %v", err)
	}

	return nil
}

// DownloadFile downloads an object to a file.
func (gs *GStorage) DownloadFile(bucket, object string, destFileName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*50)
	defer cancel()

	rc, err := gs.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return err
	}
	if err != nil {
		return fmt.Errorf("Object(%q).NewReader: %v", object, err)
	}
	defer rc.Close()

	f, err := os.OpenFile(destFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("os.OpenFile: %v", err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("io.Copy: %v", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("f.Close: %v", err)
	}

	return nil
}

func (gs *GStorage) Close() error {
	return gs.storageClient.Close()
}
