package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

// Client presigns attachment uploads and downloads. Attachment URLs stored on
// messages use the s3://bucket/key form and are only turned into fetchable
// URLs when a message is read.
type Client struct {
	cfg     S3Config
	presign *s3.PresignClient
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if parsed, err := url.Parse(endpoint); err == nil {
				endpoint = parsed.String()
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg:     cfg,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// PresignGet returns a time-limited download URL for key.
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	if c == nil {
		return "", errors.New("s3 client not initialized")
	}
	if key == "" {
		return "", errors.New("object key is required")
	}
	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return presigned.URL, nil
}

// Upload is a presigned attachment upload.
type Upload struct {
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
	ObjectURL string            `json:"url"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (c *Client) PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (Upload, error) {
	if c == nil {
		return Upload{}, errors.New("s3 client not initialized")
	}
	if key == "" {
		return Upload{}, errors.New("object key is required")
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	if sizeBytes > 0 {
		input.ContentLength = aws.Int64(sizeBytes)
	}

	presigned, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(c.cfg.PresignTTL))
	if err != nil {
		return Upload{}, fmt.Errorf("presign put %s: %w", key, err)
	}

	headers := map[string]string{}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	if sizeBytes > 0 {
		headers["Content-Length"] = strconv.FormatInt(sizeBytes, 10)
	}

	return Upload{
		UploadURL: presigned.URL,
		Headers:   headers,
		ObjectURL: ObjectURL(c.cfg.Bucket, key),
		ExpiresAt: time.Now().UTC().Add(c.cfg.PresignTTL),
	}, nil
}

// ObjectURL is the s3:// reference stored on messages.
func ObjectURL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// AttachmentKey builds a per-user object key that keeps the file extension.
func AttachmentKey(userID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("attachments/%s/%s%s", userID, uuid.NewString(), ext)
}
