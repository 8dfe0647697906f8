package media

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/HendryAvila/chatsync/internal/chat"
)

// putObjectAPI is the slice of the S3 client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Uploader. Empty keys fall back to the default AWS
// credential chain. PublicBaseURL overrides the virtual-hosted bucket URL.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// S3Uploader stores attachments in an S3 bucket.
type S3Uploader struct {
	api     putObjectAPI
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewS3Uploader loads AWS configuration and builds an uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media: s3 bucket name is not configured")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	return newS3Uploader(s3.NewFromConfig(awsCfg), cfg), nil
}

func newS3Uploader(api putObjectAPI, cfg S3Config) *S3Uploader {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3Uploader{api: api, bucket: cfg.Bucket, baseURL: base, now: time.Now}
}

// Upload stores the original and, for images, a JPEG thumbnail under
// thumbs/. Storage failures wrap chat.ErrRemoteUnavailable.
func (u *S3Uploader) Upload(ctx context.Context, up Upload) (Result, error) {
	if len(up.Data) == 0 {
		return Result{}, fmt.Errorf("media: empty upload %q: %w", up.FileName, chat.ErrConstraintViolation)
	}
	key := ObjectKey(up.ConversationID, up.FileName, u.now())
	if err := u.put(ctx, key, up.ContentType, up.Data); err != nil {
		return Result{}, err
	}
	res := Result{URL: u.baseURL + "/" + key}

	if up.IsImage() {
		thumb, err := Thumbnail(up.Data, ThumbnailSize)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", chat.ErrConstraintViolation, err)
		}
		thumbKey := path.Join("thumbs", strings.TrimSuffix(key, path.Ext(key))+".jpg")
		if err := u.put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
			return Result{}, err
		}
		res.ThumbnailURL = u.baseURL + "/" + thumbKey
	}
	return res, nil
}

func (u *S3Uploader) put(ctx context.Context, key, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("media: upload %s: %w: %v", key, chat.ErrRemoteTimeout, err)
		}
		return fmt.Errorf("media: upload %s: %w: %v", key, chat.ErrRemoteUnavailable, err)
	}
	return nil
}
