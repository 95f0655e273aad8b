package s3

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"authsvc/internal/lib/sl"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

type Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicURL is the base of returned object URLs. Falls back to
	// Endpoint/Bucket.
	PublicURL    string
	UsePathStyle bool
	KeyPrefix    string
}

// Uploader moves locally staged files into an S3 compatible bucket.
type Uploader struct {
	log    *slog.Logger
	cfg    Config
	client *s3.Client
}

func New(ctx context.Context, log *slog.Logger, cfg Config) (*Uploader, error) {
	const op = "media.s3.New"

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Uploader{log: log, cfg: cfg, client: client}, nil
}

// Upload stores the file at localPath under a random key and returns its
// public URL. The local file is removed whether or not the upload succeeds.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	const op = "media.s3.Upload"
	log := u.log.With(slog.String("op", op))

	if localPath == "" {
		return "", fmt.Errorf("%s: empty path", op)
	}
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove staged file", slog.String("path", localPath), sl.Err(err))
		}
	}()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(localPath))
	key := u.cfg.KeyPrefix + uuid.NewString() + ext

	in := &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := putObject(u.client, ctx, in); err != nil {
		log.Error("failed to upload object", slog.String("key", key), sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("object uploaded", slog.String("key", key))

	return u.objectURL(key), nil
}

func (u *Uploader) objectURL(key string) string {
	base := u.cfg.PublicURL
	if base == "" {
		base = strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket
	}
	return strings.TrimRight(base, "/") + "/" + key
}
