package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"crosspost/internal/model"
)

// S3Config locates the bucket that holds credential objects.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Prefix under which credential objects live, "tokens/" by default.
	Prefix string
}

// S3Store keeps one JSON object per (user, platform) pair under
// {prefix}{userID}/{platform}.json.
type S3Store struct {
	bucket string
	prefix string
	api    *awss3.Client
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	forcePathStyle := !strings.Contains(cfg.Endpoint, "amazonaws.com")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Endpoint
	api := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = forcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tokens/"
	}
	return &S3Store{bucket: cfg.Bucket, prefix: prefix, api: api}, nil
}

func (s *S3Store) key(userID string, p model.Platform) string {
	return fmt.Sprintf("%s%s/%s.json", s.prefix, userID, p)
}

func (s *S3Store) Get(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	key := s.key(userID, p)
	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var cred model.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &cred, nil
}

func (s *S3Store) Put(ctx context.Context, cred *model.Credential) error {
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	key := s.key(cred.UserID, cred.Platform)
	contentType := "application/json"
	_, err = s.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, userID string, p model.Platform) error {
	key := s.key(userID, p)
	if _, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
