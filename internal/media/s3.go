package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// DefaultKeyPrefix is used when no S3_KEY_PREFIX is configured.
const DefaultKeyPrefix = "floorplans"

// Config represents the settings required to talk to S3 or an S3-compatible API.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
}

// Enabled reports whether enough settings are present to reach a bucket.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.Region != ""
}

// NewUploader wires an S3 client if the configuration is complete, otherwise a disabled uploader.
func NewUploader(ctx context.Context, cfg Config) (Uploader, error) {
	if !cfg.Enabled() {
		return Disabled(), nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws sdk config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.ForcePathStyle
		}
	})

	return newS3Uploader(client, cfg), nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Uploader struct {
	client  objectPutter
	bucket  string
	region  string
	baseURL string
	prefix  string
	now     func() time.Time
}

func newS3Uploader(client objectPutter, cfg Config) *s3Uploader {
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	// S3-compatible storage without a public URL is still readable path-style.
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" && cfg.Endpoint != "" && cfg.ForcePathStyle {
		publicURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
	}

	return &s3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: publicURL,
		prefix:  prefix,
		now:     time.Now,
	}
}

// Upload stores the floorplan in the configured bucket and returns its URL.
func (u *s3Uploader) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if input.Body == nil {
		return UploadResult{}, errors.New("upload body is required")
	}

	key := u.buildKey(input.Filename)

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   input.Body,
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}
	if input.Size > 0 {
		putInput.ContentLength = aws.Int64(input.Size)
	}
	if input.Filename != "" {
		putInput.Metadata = map[string]string{"original-filename": filepath.Base(input.Filename)}
	}

	if _, err := u.client.PutObject(ctx, putInput); err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}

	return UploadResult{
		Key: key,
		URL: u.objectURL(key),
	}, nil
}

// buildKey lays objects out as prefix/yyyy/mm/dd/uuid.ext.
func (u *s3Uploader) buildKey(filename string) string {
	name := uuid.NewString()
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		name += ext
	}
	return path.Join(u.prefix, u.now().UTC().Format("2006/01/02"), name)
}

func (u *s3Uploader) objectURL(key string) string {
	if u.baseURL != "" {
		return fmt.Sprintf("%s/%s", u.baseURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}
