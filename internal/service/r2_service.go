package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/h2non/filetype"
	gonanoid "github.com/matoous/go-nanoid/v2"

	cfg "github.com/Matheus2505060/multpost-ai/configs"
)

const (
	stagingPrefix  = "staging/"
	stagingTTLDays = 1
)

var (
	ErrMediaNotFound = errors.New("media not found")
	ErrNoPublicURL   = errors.New("R2 public URL is not configured")
)

// MediaStore returns the bytes of an uploaded source video.
type MediaStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

type objectClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

// R2Service reads source videos from Cloudflare R2 and stages copies under a
// public URL for platforms that pull media themselves.
type R2Service struct {
	client    objectClient
	bucket    string
	publicURL string
}

func NewR2Service(ctx context.Context, r2 cfg.R2) (*R2Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID))
	})

	return newR2Service(client, r2.BucketName, r2.PublicURL), nil
}

func newR2Service(client objectClient, bucket, publicURL string) *R2Service {
	return &R2Service{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (r *R2Service) Read(ctx context.Context, key string) ([]byte, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, key)
		}
		slog.Info(err.Error())
		return nil, err
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return data, nil
}

// Stage uploads data under a random key and returns its public URL.
func (r *R2Service) Stage(ctx context.Context, data []byte, filename string) (string, error) {
	if r.publicURL == "" {
		return "", ErrNoPublicURL
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := stagingPrefix + id + strings.ToLower(filepath.Ext(filename))

	contentType := "video/mp4"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return r.publicURL + "/" + key, nil
}

// Unstage deletes a copy made by Stage. URLs outside the staging prefix are ignored.
func (r *R2Service) Unstage(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, r.publicURL+"/")
	if r.publicURL == "" || !ok || !strings.HasPrefix(key, stagingPrefix) {
		return nil
	}

	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ExpireStaging installs the bucket lifecycle rule that deletes staged copies
// stagingTTLDays after they were written. It replaces the bucket's lifecycle
// configuration.
func (r *R2Service) ExpireStaging(ctx context.Context) error {
	_, err := r.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(r.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{{
				ID:         aws.String("expire-staging"),
				Status:     types.ExpirationStatusEnabled,
				Filter:     &types.LifecycleRuleFilter{Prefix: aws.String(stagingPrefix)},
				Expiration: &types.LifecycleExpiration{Days: aws.Int32(stagingTTLDays)},
			}},
		},
	})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
