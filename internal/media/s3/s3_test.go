package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"authsvc/internal/lib/logger/handlers/slogdiscard"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUploader(t *testing.T, cfg Config) *Uploader {
	t.Helper()

	u, err := New(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.NoError(t, err)

	return u
}

func stubPutObject(t *testing.T, fn func(in *s3.PutObjectInput) error) {
	t.Helper()

	orig := putObject
	putObject = func(_ *s3.Client, _ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		if err := fn(in); err != nil {
			return nil, err
		}
		return &s3.PutObjectOutput{}, nil
	}
	t.Cleanup(func() { putObject = orig })
}

func stageFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestUpload_Success(t *testing.T) {
	u := newTestUploader(t, Config{
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		Bucket:    "avatars",
		AccessKey: "minio",
		SecretKey: "minio123",
		KeyPrefix: "users/",
	})

	var (
		gotKey  string
		gotBody string
		gotCT   string
	)
	stubPutObject(t, func(in *s3.PutObjectInput) error {
		gotKey = aws.ToString(in.Key)
		gotCT = aws.ToString(in.ContentType)
		b, err := io.ReadAll(in.Body)
		gotBody = string(b)
		assert.Equal(t, "avatars", aws.ToString(in.Bucket))
		return err
	})

	path := stageFile(t, "me.PNG", "image-bytes")

	url, err := u.Upload(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotKey, "users/"))
	assert.True(t, strings.HasSuffix(gotKey, ".png"))
	assert.Equal(t, "image/png", gotCT)
	assert.Equal(t, "image-bytes", gotBody)
	assert.Equal(t, "http://localhost:9000/avatars/"+gotKey, url)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "staged file must be removed")
}

func TestUpload_PublicURL(t *testing.T) {
	u := newTestUploader(t, Config{Region: "us-east-1", Bucket: "b", PublicURL: "https://cdn.example.com/media/"})
	stubPutObject(t, func(*s3.PutObjectInput) error { return nil })

	url, err := u.Upload(context.Background(), stageFile(t, "a.jpg", "x"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/media/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func TestUpload_Failure_RemovesStagedFile(t *testing.T) {
	u := newTestUploader(t, Config{Region: "us-east-1", Bucket: "b"})
	stubPutObject(t, func(*s3.PutObjectInput) error { return errors.New("boom") })

	path := stageFile(t, "a.jpg", "x")

	_, err := u.Upload(context.Background(), path)
	require.Error(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUpload_MissingFile(t *testing.T) {
	u := newTestUploader(t, Config{Region: "us-east-1", Bucket: "b"})

	_, err := u.Upload(context.Background(), "")
	require.Error(t, err)

	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
}

func TestNew_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := New(context.Background(), slogdiscard.NewDiscardLogger(), Config{})
	require.Error(t, err)
}
