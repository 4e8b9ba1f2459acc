// Package storage archives reduced videos to Cloudflare R2 so the webhook
// payload can carry a link to the media after the local workspace is gone.
// Archival is optional and best-effort; jobs proceed without it.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// presignTTL is how long archived media links stay valid.
const presignTTL = time.Hour

// Config holds R2 credentials and the target bucket.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Logger          *slog.Logger
}

// R2Archiver uploads artifacts to an R2 bucket through the S3 API.
type R2Archiver struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *slog.Logger
}

// NewR2Archiver builds an archiver against the account's R2 endpoint.
func NewR2Archiver(ctx context.Context, cfg Config) (*R2Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cfg.Logger.Info("archiver initialised", "bucket", cfg.Bucket)

	return &R2Archiver{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		logger:  cfg.Logger.With("component", "storage"),
	}, nil
}

// Archive uploads the file under the job's prefix and returns a presigned
// URL for it.
func (a *R2Archiver) Archive(ctx context.Context, jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	key := objectKey(jobID, path)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentTypeFor(path)),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	presigned, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}

	a.logger.Info("artifact archived",
		"key", key,
		"bytes", info.Size(),
	)
	return presigned.URL, nil
}

// objectKey namespaces artifacts by job ID.
func objectKey(jobID, path string) string {
	return fmt.Sprintf("jobs/%s/%s", jobID, filepath.Base(path))
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
