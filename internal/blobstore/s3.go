package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

// S3Config configures the S3 gateway.
type S3Config struct {
	// Endpoint is a host[:port] or URL. Empty means AWS S3 (s3.amazonaws.com).
	Endpoint        string
	Region          string
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	// Profile selects a named profile from the shared credentials file when
	// explicit keys are not set.
	Profile string
}

// S3 implements Store using the minio-go SDK.
type S3 struct {
	client *minio.Client
}

var _ Store = (*S3)(nil)

// NewS3 builds an S3 gateway. Credential resolution mirrors the AWS CLI:
// explicit keys win, then the named profile, then environment and instance
// role credentials.
func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	secure := cfg.UseSSL
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
		secure = true
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			secure = true
		}
	}

	var creds *credentials.Credentials
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	default:
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{Profile: strings.TrimSpace(cfg.Profile)},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("create s3 client: %w", err))
	}
	return &S3{client: client}, nil
}

// List walks every page under prefix.
func (s *S3) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, errors.New("bucket is required"))
	}
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classifyS3Error(obj.Err)
		}
		out = append(out, ObjectInfo{
			Bucket:       bucket,
			Key:          obj.Key,
			ETag:         NormalizeETag(obj.ETag),
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get opens the object for reading. minio defers the request until the first
// Read, so a Stat is issued first to surface missing keys here.
func (s *S3) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classifyS3Error(err)
	}
	return obj, nil
}

// Head stats key; a 404 is reported as exists=false.
func (s *S3) Head(ctx context.Context, bucket, key string) (ObjectInfo, bool, error) {
	st, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == 404 {
			return ObjectInfo{}, false, nil
		}
		return ObjectInfo{}, false, classifyS3Error(err)
	}
	return ObjectInfo{
		Bucket:       bucket,
		Key:          st.Key,
		ETag:         NormalizeETag(st.ETag),
		Size:         st.Size,
		LastModified: st.LastModified,
		ContentType:  st.ContentType,
		Metadata:     st.UserMetadata,
	}, true, nil
}

// Put uploads body.
func (s *S3) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opt PutOptions) error {
	if key == "" {
		return wrapError(CodeWriteFailed, false, errors.New("object key is required"))
	}
	po := minio.PutObjectOptions{
		ContentType:  opt.ContentType,
		UserMetadata: opt.Metadata,
	}
	if po.ContentType == "" {
		po.ContentType = "application/octet-stream"
	}
	if strings.EqualFold(opt.SSE, "AES256") {
		po.ServerSideEncryption = encrypt.NewSSE()
	}
	if _, err := s.client.PutObject(ctx, bucket, key, body, size, po); err != nil {
		return classifyS3Error(err)
	}
	return nil
}

// classifyS3Error maps SDK errors to coded Errors.
func classifyS3Error(err error) *Error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket":
		return wrapError(CodeBucketNotFound, false, err)
	case "NoSuchKey", "NotFound":
		return wrapError(CodeObjectNotFound, false, err)
	case "AccessDenied":
		return wrapError(CodePermissionDenied, false, err)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return wrapError(CodeAuthInvalid, false, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return wrapError(CodeEndpointUnreachable, true, err)
	case strings.Contains(msg, "access denied"):
		return wrapError(CodePermissionDenied, false, err)
	}
	return wrapError(CodeReadFailed, true, err)
}
