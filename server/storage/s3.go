package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Daskott/kontacts/shared"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Storage struct {
	client *s3.Client
	region string
}

// NewS3Storage uses static credentials when set in awsConfig, otherwise the
// default aws credential chain.
func NewS3Storage(awsConfig shared.AWSConfig) (*S3Storage, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(awsConfig.Region)}
	if awsConfig.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsConfig.AccessKey, awsConfig.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("NewS3Storage: %v", err)
	}

	return &S3Storage{client: s3.NewFromConfig(cfg), region: awsConfig.Region}, nil
}

// PutObject writes body to bucket/key & returns the object's public url
func (s *S3Storage) PutObject(ctx context.Context, bucket, key string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", fmt.Errorf("PutObject: %v", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key), nil
}
