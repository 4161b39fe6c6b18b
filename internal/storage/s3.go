package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores listing images in an S3 bucket (AWS or any S3-compatible endpoint).
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	region    string
	endpoint  string // custom endpoint, empty for AWS
	publicURL string // CDN or website base URL, empty to use the bucket URL
}

// S3Config holds the settings for an S3 connection.
type S3Config struct {
	Endpoint       string // empty for AWS, e.g. "https://s3.eu-central-1.wasabisys.com"
	Region         string // e.g. "eu-central-1"
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	Bucket         string
	PublicURL      string // optional public base URL for objects
}

// NewS3 creates an S3 storage client.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("putting object %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("getting object %s: %w", key, err)
	}

	obj := Object{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	return out.Body, obj, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if _, err := s.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	return nil
}

func (s *S3) Copy(ctx context.Context, src, dst string) (string, error) {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		CopySource:        aws.String(s.bucket + "/" + src),
		Key:               aws.String(dst),
		MetadataDirective: types.MetadataDirectiveCopy,
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		return "", fmt.Errorf("copying object %s to %s: %w", src, dst, err)
	}
	return s.objectURL(dst), nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %s: %w", prefix, err)
		}
		for _, item := range page.Contents {
			obj := Object{
				Key:  aws.ToString(item.Key),
				Size: aws.ToInt64(item.Size),
			}
			if item.LastModified != nil {
				obj.LastModified = *item.LastModified
			}
			objects = append(objects, obj)
		}
	}

	return objects, nil
}

func (s *S3) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	resp, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presigning GET for %s: %w", key, err)
	}
	return resp.URL, nil
}

// KeyFromURL extracts the object key from a public, bucket or presigned URL.
// Bare keys are returned without their leading slashes; URLs on other
// hosts resolve to "".
func (s *S3) KeyFromURL(rawURL string) string {
	if s.publicURL != "" && strings.HasPrefix(rawURL, s.publicURL+"/") {
		key := strings.TrimPrefix(rawURL, s.publicURL+"/")
		if i := strings.IndexByte(key, '?'); i >= 0 {
			key = key[:i]
		}
		return key
	}
	return keyFromPath(rawURL, s.bucket, s.ownsHost)
}

// ownsHost reports whether host serves this bucket: the public URL, the
// custom endpoint (path or virtual-hosted style) or AWS S3.
func (s *S3) ownsHost(host string) bool {
	if h := hostOf(s.publicURL); h != "" && host == h {
		return true
	}
	if h := hostOf(s.endpoint); h != "" {
		return host == h || host == s.bucket+"."+h
	}
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return false
	}
	return strings.HasPrefix(host, s.bucket+".") || strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-")
}

func (s *S3) objectURL(key string) string {
	switch {
	case s.publicURL != "":
		return s.publicURL + "/" + key
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}
