package learn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3KV is an object-per-key KV backend for the Schema Learner, for
// deployments that want learning state externalized rather than kept on
// the proxy's local disk. Uses the standard AWS SDK config loading and
// client construction, with an optional path-style addressing switch.
type S3KV struct {
	client         *s3.Client
	bucket         string
	prefix         string
	forcePathStyle bool
}

// OpenS3 creates an S3-backed KV store. Credentials, region, and endpoint
// are resolved via the standard AWS SDK default credential chain.
func OpenS3(ctx context.Context, bucket, prefix string, forcePathStyle bool) (*S3KV, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
	})

	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}

	return &S3KV{client: client, bucket: bucket, prefix: prefix, forcePathStyle: forcePathStyle}, nil
}

func (s *S3KV) fullKey(key string) string {
	return s.prefix + key
}

// Get implements KV.
func (s *S3KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading object: %w", err)
	}
	return data, true, nil
}

// Put implements KV.
func (s *S3KV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		if status, ok := responseStatus(err); ok {
			return fmt.Errorf("putting object (http %d): %w", status, err)
		}
		return fmt.Errorf("putting object: %w", err)
	}
	return nil
}

// responseStatus extracts the HTTP status code from an AWS SDK error when
// available, for callers that want to distinguish transient server errors
// from permanent client errors without string-matching the message.
func responseStatus(err error) (int, bool) {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode(), true
	}
	return 0, false
}
