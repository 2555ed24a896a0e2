package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// minioProvider drives self-hosted MinIO deployments natively. Any other
// S3-compatible service configured with an explicit endpoint also works, but
// the dedicated S3 family adapters are preferred for the hosted providers.
type minioProvider struct {
	client *minio.Client
	desc   *Descriptor
	cfg    ProviderConfig
	bucket string
	prefix string
}

var _ Provider = (*minioProvider)(nil)

func newMinIOProvider(desc *Descriptor, cfg ProviderConfig) (*minioProvider, error) {
	host, secure, err := splitMinIOEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, configError(desc.Name, "parse endpoint: %v", err)
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(strings.TrimSpace(cfg.AccessKeyID), strings.TrimSpace(cfg.SecretAccessKey), strings.TrimSpace(cfg.SessionToken)),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, configError(desc.Name, "create MinIO client: %v", err)
	}

	return &minioProvider{
		client: client,
		desc:   desc,
		cfg:    cfg,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: trimPrefix(cfg.Prefix),
	}, nil
}

// splitMinIOEndpoint reduces an endpoint URL to the host[:port] form the
// MinIO SDK expects, deriving TLS use from the scheme when one is present.
func splitMinIOEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return "", false, errors.New("empty endpoint")
	}
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", false, err
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
		}
		return parsed.Host, parsed.Scheme == "https", nil
	}
	return trimmed, useSSL, nil
}

func (p *minioProvider) Name() string { return p.desc.Name }

func (p *minioProvider) Capabilities() Capabilities { return p.desc.Capabilities }

func (p *minioProvider) wireKey(key string) string {
	return joinPrefix(p.prefix, key)
}

func (p *minioProvider) logicalKey(wire string) string {
	if p.prefix == "" {
		return wire
	}
	return strings.TrimPrefix(wire, p.prefix+"/")
}

func (p *minioProvider) Upload(ctx context.Context, input UploadInput) (*UploadInfo, error) {
	opts := minio.PutObjectOptions{
		ContentType:  input.ContentType,
		CacheControl: input.CacheControl,
	}
	if len(input.Metadata) > 0 {
		opts.UserMetadata = input.Metadata
	}
	if len(input.Tags) > 0 {
		opts.UserTags = input.Tags
	}

	info, err := p.client.PutObject(ctx, p.bucket, p.wireKey(input.Key),
		bytes.NewReader(input.Data), int64(len(input.Data)), opts)
	if err != nil {
		return nil, p.wrap("upload", input.Key, err)
	}

	return &UploadInfo{
		Key:  input.Key,
		ETag: etagTrim(info.ETag),
		Size: int64(len(input.Data)),
		URL:  p.PublicURL(input.Key),
	}, nil
}

func (p *minioProvider) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, p.wireKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	return data, nil
}

func (p *minioProvider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := p.Exists(ctx, key)
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	if !exists {
		return false, nil
	}

	if err := p.client.RemoveObject(ctx, p.bucket, p.wireKey(key), minio.RemoveObjectOptions{}); err != nil {
		return false, p.wrap("delete", key, err)
	}
	return true, nil
}

func (p *minioProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, p.wireKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinIONotFound(err) {
		return false, nil
	}
	return false, p.wrap("exists", key, err)
}

func (p *minioProvider) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	info, err := p.client.StatObject(ctx, p.bucket, p.wireKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return nil, notFoundError("get_metadata", p.desc.Name, key, err)
		}
		return nil, p.wrap("get_metadata", key, err)
	}

	return &ObjectMetadata{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         etagTrim(info.ETag),
		LastModified: info.LastModified,
		Metadata:     map[string]string(info.UserMetadata),
	}, nil
}

func (p *minioProvider) List(ctx context.Context, opts ListOptions) (*ObjectPage, error) {
	max := opts.MaxKeys
	if max <= 0 {
		max = defaultListPageSize
	}

	// The SDK streams listings over a channel; cancel the walk once the
	// page is full.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := p.client.ListObjects(listCtx, p.bucket, minio.ListObjectsOptions{
		Prefix:     joinPrefix(p.prefix, opts.Prefix),
		Recursive:  true,
		StartAfter: opts.ContinuationToken,
	})

	page := &ObjectPage{}
	for info := range objects {
		if info.Err != nil {
			return nil, p.wrap("list", opts.Prefix, info.Err)
		}
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          p.logicalKey(info.Key),
			Size:         info.Size,
			ETag:         etagTrim(info.ETag),
			LastModified: info.LastModified,
		})
		if int32(len(page.Objects)) >= max {
			page.Truncated = true
			page.ContinuationToken = info.Key
			break
		}
	}
	return page, nil
}

func (p *minioProvider) SignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	if strings.TrimSpace(p.cfg.AccessKeyID) == "" || strings.TrimSpace(p.cfg.SecretAccessKey) == "" {
		return "", configError(p.desc.Name, "signed URL requires access credentials")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultSignExpiry
	}

	wire := p.wireKey(key)
	switch strings.ToUpper(opts.Method) {
	case "", "GET":
		params := url.Values{}
		if opts.ResponseDisposition != "" {
			params.Set("response-content-disposition", opts.ResponseDisposition)
		}
		if opts.ResponseContentType != "" {
			params.Set("response-content-type", opts.ResponseContentType)
		}
		signed, err := p.client.PresignedGetObject(ctx, p.bucket, wire, expires, params)
		if err != nil {
			return "", p.wrap("sign_url", key, err)
		}
		return signed.String(), nil
	case "PUT":
		signed, err := p.client.PresignedPutObject(ctx, p.bucket, wire, expires)
		if err != nil {
			return "", p.wrap("sign_url", key, err)
		}
		return signed.String(), nil
	default:
		return "", validationError("sign_url", key, "unsupported sign method %q", opts.Method)
	}
}

func (p *minioProvider) PublicURL(key string) string {
	wire := p.wireKey(key)
	if base := strings.TrimSpace(p.cfg.PublicBaseURL); base != "" {
		return strings.TrimRight(base, "/") + "/" + wire
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.client.EndpointURL().String(), "/"), p.bucket, wire)
}

func (p *minioProvider) TestConnection(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		if kind := minioKind(err); kind == KindAuthentication {
			return newError(KindAuthentication, "test_connection", p.desc.Name, "", "credentials rejected", err)
		}
		return newError(KindConnection, "test_connection", p.desc.Name, "", "endpoint unreachable", err)
	}
	if !exists {
		return newError(KindConnection, "test_connection", p.desc.Name, "", fmt.Sprintf("bucket %q does not exist", p.bucket), nil)
	}
	return nil
}

func (p *minioProvider) wrap(op, key string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(minioKind(err), op, p.desc.Name, key, "", err)
}

func minioKind(err error) Kind {
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return KindNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return KindAuthentication
		case "SlowDown", "ServiceUnavailable", "InternalError":
			return KindConnection
		}
		if kind := kindFromStatus(resp.StatusCode); kind != KindUnknown {
			return kind
		}
	}
	if kind, ok := transportKind(err); ok {
		return kind
	}
	return KindUnknown
}

func isMinIONotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == 404
}
