// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3API is the subset of the S3 client the adapter uses. *s3.S3
// satisfies it; tests substitute an in-memory fake.
type S3API interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, options ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, options ...request.Option) (*s3.PutObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, options ...request.Option) (*s3.HeadObjectOutput, error)
	DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, options ...request.Option) (*s3.DeleteObjectOutput, error)
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, options ...request.Option) error
}

var _ S3API = (*s3.S3)(nil)

// S3Options configures the S3 adapter.
type S3Options struct {
	Bucket string

	// Prefix is prepended (with a slash) to every key, so several
	// repositories can share a bucket.
	Prefix string

	// ConditionalWrites sends If-None-Match: * on PutIfAbsent. With
	// it disabled the adapter falls back to head-then-put, which is
	// not atomic, and reports AtomicCreate false.
	ConditionalWrites bool

	Logger *slog.Logger
}

// S3 stores objects in an S3-compatible bucket.
type S3 struct {
	client  S3API
	options S3Options
	logger  *slog.Logger
}

// NewS3 returns an adapter over client.
func NewS3(client S3API, options S3Options) (*S3, error) {
	if client == nil {
		return nil, errors.New("objectstore: S3 client is required")
	}
	if options.Bucket == "" {
		return nil, errors.New("objectstore: S3 bucket is required")
	}
	options.Prefix = strings.Trim(options.Prefix, "/")
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if !options.ConditionalWrites {
		logger.Warn("S3 conditional writes disabled; reference updates are not atomic",
			"bucket", options.Bucket, "prefix", options.Prefix)
	}
	return &S3{client: client, options: options, logger: logger}, nil
}

func (s *S3) objectKey(key string) string {
	if s.options.Prefix == "" {
		return key
	}
	return path.Join(s.options.Prefix, key)
}

func (s *S3) relativeKey(objectKey string) string {
	if s.options.Prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.options.Prefix+"/")
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.translate("get", key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

func (s *S3) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length < offset {
		return nil, fmt.Errorf("%w: %s [%d,+%d)", ErrInvalidRange, key, offset, length)
	}
	if length == 0 {
		// S3 has no syntax for an empty range; validate against the
		// object size instead.
		info, err := s.Stat(ctx, key)
		if err != nil {
			return nil, err
		}
		if offset > info.Size {
			return nil, fmt.Errorf("%w: %s [%d,+0) of %d bytes", ErrInvalidRange, key, offset, info.Size)
		}
		return []byte{}, nil
	}

	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, s.translate("get", key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, &IOError{Op: "get", Key: key, Err: err}
	}
	// S3 truncates ranges that run past the end of the object.
	if int64(len(data)) != length {
		return nil, fmt.Errorf("%w: %s [%d,+%d) returned %d bytes", ErrInvalidRange, key, offset, length, len(data))
	}
	return data, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	return s.translate("put", key, err)
}

func (s *S3) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if !s.options.ConditionalWrites {
		if _, err := s.Stat(ctx, key); err == nil {
			return preconditionFailed(key)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.Put(ctx, key, data)
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	}, request.WithSetRequestHeaders(map[string]string{"If-None-Match": "*"}))
	return s.translate("put", key, err)
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	output, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return ObjectInfo{}, s.translate("stat", key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(output.ContentLength),
		LastModified: aws.TimeValue(output.LastModified),
	}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := prefix
	if s.options.Prefix != "" {
		fullPrefix = s.options.Prefix + "/" + prefix
	}

	var results []ObjectInfo
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.options.Bucket),
		Prefix: aws.String(fullPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, object := range page.Contents {
			results = append(results, ObjectInfo{
				Key:          s.relativeKey(aws.StringValue(object.Key)),
				Size:         aws.Int64Value(object.Size),
				LastModified: aws.TimeValue(object.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, s.translate("list", prefix, err)
	}
	// S3 lists in UTF-8 binary order already; the prefix strip keeps
	// that order.
	return results, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.options.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	err = s.translate("delete", key, err)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *S3) Capabilities() Capabilities {
	return Capabilities{AtomicCreate: s.options.ConditionalWrites}
}

func (s *S3) Close() error { return nil }

// translate maps S3 error codes onto the package sentinels.
func (s *S3) translate(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var failure awserr.RequestFailure
	if errors.As(err, &failure) {
		switch failure.StatusCode() {
		case http.StatusNotFound:
			return notFound(key)
		case http.StatusPreconditionFailed, http.StatusConflict:
			// 409 is returned when a concurrent conditional write to
			// the same key is in flight; one of them will win.
			return preconditionFailed(key)
		case http.StatusRequestedRangeNotSatisfiable:
			return fmt.Errorf("%w: %s", ErrInvalidRange, key)
		}
	}
	var awsError awserr.Error
	if errors.As(err, &awsError) {
		switch awsError.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return notFound(key)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return preconditionFailed(key)
		case "InvalidRange":
			return fmt.Errorf("%w: %s", ErrInvalidRange, key)
		}
	}
	s.logger.Debug("S3 request failed", "op", op, "key", key, "error", err)
	return &IOError{Op: op, Key: key, Err: err}
}
