package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/chaincontext/teeattest/interfaces"
)

// S3Store reads a token object from Amazon S3 or a compatible service.
type S3Store struct {
	client      *s3.S3
	bucket      string
	key         string
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3 token store. Without static credentials the SDK
// default credential chain is used.
func NewS3Store(bucket, key, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucket, key, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucket:      bucket,
		key:         key,
		log:         log,
		locationURI: uri,
	}, nil
}

// Fetch downloads the token object. Returns ErrContentNotFound for a missing key.
func (s *S3Store) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			s.log.Debug("Token not found in S3",
				slog.String("bucket", s.bucket),
				slog.String("key", s.key),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	s.log.Debug("Fetched token from S3",
		slog.String("bucket", s.bucket),
		slog.String("key", s.key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Available heads the token object.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		s.log.Warn("S3 token store unavailable",
			slog.String("bucket", s.bucket),
			slog.String("key", s.key),
			"err", err)
		return false
	}
	return true
}

func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucket)
}

func (s *S3Store) LocationURI() string {
	return s.locationURI
}
