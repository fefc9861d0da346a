// Package imagery resolves image references to raw bytes: local files under
// the container mount root, S3 or MinIO objects, and HTTP(S) URLs such as
// presigned links.
package imagery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/jarvis-ocr-service/internal/domain"
	obsctx "github.com/fairyhunter13/jarvis-ocr-service/internal/observability"
)

// Options configures the resolver.
type Options struct {
	// Root is the mount root relative local_path values resolve under.
	Root string
	// S3Endpoint overrides the S3 endpoint for MinIO-style deployments.
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	// HTTPTimeout bounds presigned-URL fetches.
	HTTPTimeout time.Duration
}

// Resolver implements domain.ImageResolver.
type Resolver struct {
	opts Options
	http *http.Client
	s3   *s3.Client
}

// New builds a resolver. S3 client construction is deferred to the first s3
// or minio reference so a worker without object storage never touches the
// AWS config chain.
func New(opts Options) *Resolver {
	if opts.Root == "" {
		opts.Root = "/data/images"
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	return &Resolver{
		opts: opts,
		http: &http.Client{
			Timeout:   opts.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Resolve fetches the bytes behind a reference. PDFs are rejected before any
// fetch happens.
func (r *Resolver) Resolve(ctx domain.Context, ref domain.ImageRef) (domain.ImageBlob, error) {
	if strings.HasSuffix(strings.ToLower(ref.Value), ".pdf") {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve ref=%s: PDF files are not supported: %w", ref.Value, domain.ErrUnsupportedMedia)
	}

	switch ref.Kind {
	case domain.RefLocalPath:
		return r.resolveLocal(ctx, ref.Value)
	case domain.RefS3:
		return r.resolveS3(ctx, ref.Value)
	case domain.RefMinio:
		// MinIO is S3-compatible; only the URI scheme differs.
		return r.resolveS3(ctx, strings.Replace(ref.Value, "minio://", "s3://", 1))
	case domain.RefDB:
		return domain.ImageBlob{}, fmt.Errorf("op=resolve: image kind 'db' is not supported: %w", domain.ErrUnsupportedMedia)
	default:
		return domain.ImageBlob{}, fmt.Errorf("op=resolve: unknown image kind %q: %w", ref.Kind, domain.ErrInvalidArgument)
	}
}

func (r *Resolver) resolveLocal(ctx domain.Context, path string) (domain.ImageBlob, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.opts.Root, p)
	}
	p = filepath.Clean(p)

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: %w", path, domain.ErrNotFound)
		}
		if os.IsPermission(err) {
			return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: %w", path, domain.ErrAccessDenied)
		}
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: %w", path, err)
	}
	if info.IsDir() {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: not a file: %w", path, domain.ErrNotFound)
	}

	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsPermission(err) {
			return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: %w", path, domain.ErrAccessDenied)
		}
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.local path=%s: %w", path, err)
	}

	blob := domain.ImageBlob{Bytes: b, MediaType: mimetype.Detect(b).String()}
	obsctx.LoggerFromContext(ctx).Debug("resolved local image",
		"path", path, "bytes", len(b), "media_type", blob.MediaType)
	return blob, nil
}

func (r *Resolver) resolveS3(ctx domain.Context, uri string) (domain.ImageBlob, error) {
	if strings.HasPrefix(uri, "https://") || strings.HasPrefix(uri, "http://") {
		return r.resolveHTTP(ctx, uri)
	}
	if !strings.HasPrefix(uri, "s3://") {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: invalid S3 URI: %w", uri, domain.ErrInvalidArgument)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, domain.ErrInvalidArgument)
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: missing bucket or key: %w", uri, domain.ErrInvalidArgument)
	}

	cli, err := r.s3Client(ctx)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, err)
	}
	out, err := cli.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, domain.ErrNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NoSuchBucket", "NotFound":
				return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, domain.ErrNotFound)
			case "AccessDenied":
				return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, domain.ErrAccessDenied)
			}
		}
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, err)
	}
	defer func() { _ = out.Body.Close() }()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.s3 uri=%s: %w", uri, err)
	}
	mt := aws.ToString(out.ContentType)
	if mt == "" || mt == "application/octet-stream" {
		mt = mimetype.Detect(b).String()
	}
	obsctx.LoggerFromContext(ctx).Debug("resolved object storage image",
		"uri", uri, "bytes", len(b), "media_type", mt)
	return domain.ImageBlob{Bytes: b, MediaType: mt}, nil
}

func (r *Resolver) resolveHTTP(ctx domain.Context, rawURL string) (domain.ImageBlob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: %w", rawURL, domain.ErrInvalidArgument)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: %w", rawURL, domain.ErrNotFound)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: %w", rawURL, domain.ErrAccessDenied)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: status %d", rawURL, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ImageBlob{}, fmt.Errorf("op=resolve.http url=%s: %w", rawURL, err)
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" {
		mt = mimetype.Detect(b).String()
	}
	return domain.ImageBlob{Bytes: b, MediaType: mt}, nil
}

// s3Client lazily builds the shared S3 client.
func (r *Resolver) s3Client(ctx context.Context) (*s3.Client, error) {
	if r.s3 != nil {
		return r.s3, nil
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(r.opts.S3Region),
	}
	if r.opts.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(r.opts.S3AccessKey, r.opts.S3SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	r.s3 = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if r.opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(r.opts.S3Endpoint)
			// MinIO deployments generally require path-style addressing.
			o.UsePathStyle = true
		}
	})
	return r.s3, nil
}
