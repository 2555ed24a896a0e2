package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// ossProvider drives Alibaba Cloud OSS through its native SDK. OSS carries
// the x-oss-process transform dialect, so the provider reports transform
// capability (see registry.go).
type ossProvider struct {
	client *oss.Client
	bucket *oss.Bucket
	desc   *Descriptor
	cfg    ProviderConfig
	prefix string
}

var _ Provider = (*ossProvider)(nil)

func newOSSProvider(desc *Descriptor, cfg ProviderConfig) (*ossProvider, error) {
	client, err := oss.New(strings.TrimSpace(cfg.Endpoint), strings.TrimSpace(cfg.AccessKeyID), strings.TrimSpace(cfg.SecretAccessKey))
	if err != nil {
		return nil, configError(desc.Name, "create OSS client: %v", err)
	}
	bucket, err := client.Bucket(strings.TrimSpace(cfg.Bucket))
	if err != nil {
		return nil, configError(desc.Name, "open OSS bucket: %v", err)
	}

	return &ossProvider{
		client: client,
		bucket: bucket,
		desc:   desc,
		cfg:    cfg,
		prefix: trimPrefix(cfg.Prefix),
	}, nil
}

func (p *ossProvider) Name() string { return p.desc.Name }

func (p *ossProvider) Capabilities() Capabilities { return p.desc.Capabilities }

func (p *ossProvider) wireKey(key string) string {
	return joinPrefix(p.prefix, key)
}

func (p *ossProvider) logicalKey(wire string) string {
	if p.prefix == "" {
		return wire
	}
	return strings.TrimPrefix(wire, p.prefix+"/")
}

func (p *ossProvider) Upload(ctx context.Context, input UploadInput) (*UploadInfo, error) {
	var respHeader http.Header
	options := []oss.Option{
		oss.WithContext(ctx),
		oss.GetResponseHeader(&respHeader),
	}
	if input.ContentType != "" {
		options = append(options, oss.ContentType(input.ContentType))
	}
	if input.CacheControl != "" {
		options = append(options, oss.CacheControl(input.CacheControl))
	}
	if input.Public {
		options = append(options, oss.ObjectACL(oss.ACLPublicRead))
	} else {
		options = append(options, oss.ObjectACL(oss.ACLPrivate))
	}
	for k, v := range input.Metadata {
		options = append(options, oss.Meta(k, v))
	}
	if len(input.Tags) > 0 {
		tagging := oss.Tagging{}
		for k, v := range input.Tags {
			tagging.Tags = append(tagging.Tags, oss.Tag{Key: k, Value: v})
		}
		options = append(options, oss.SetTagging(tagging))
	}

	key := p.wireKey(input.Key)
	if err := p.bucket.PutObject(key, bytes.NewReader(input.Data), options...); err != nil {
		return nil, p.wrap("upload", input.Key, err)
	}

	return &UploadInfo{
		Key:  input.Key,
		ETag: etagTrim(respHeader.Get("ETag")),
		Size: int64(len(input.Data)),
		URL:  p.PublicURL(input.Key),
	}, nil
}

func (p *ossProvider) Download(ctx context.Context, key string) ([]byte, error) {
	body, err := p.bucket.GetObject(p.wireKey(key), oss.WithContext(ctx))
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	return data, nil
}

func (p *ossProvider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := p.Exists(ctx, key)
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	if !exists {
		return false, nil
	}

	if err := p.bucket.DeleteObject(p.wireKey(key), oss.WithContext(ctx)); err != nil {
		return false, p.wrap("delete", key, err)
	}
	return true, nil
}

func (p *ossProvider) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := p.bucket.IsObjectExist(p.wireKey(key), oss.WithContext(ctx))
	if err != nil {
		return false, p.wrap("exists", key, err)
	}
	return exists, nil
}

func (p *ossProvider) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	header, err := p.bucket.GetObjectDetailedMeta(p.wireKey(key), oss.WithContext(ctx))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, notFoundError("get_metadata", p.desc.Name, key, err)
		}
		return nil, p.wrap("get_metadata", key, err)
	}

	size, _ := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	lastModified, _ := http.ParseTime(header.Get("Last-Modified"))

	custom := map[string]string{}
	for name, values := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-oss-meta-") && len(values) > 0 {
			custom[strings.TrimPrefix(lower, "x-oss-meta-")] = values[0]
		}
	}

	return &ObjectMetadata{
		Key:          key,
		Size:         size,
		ContentType:  header.Get("Content-Type"),
		ETag:         etagTrim(header.Get("ETag")),
		LastModified: lastModified,
		Metadata:     custom,
	}, nil
}

func (p *ossProvider) List(ctx context.Context, opts ListOptions) (*ObjectPage, error) {
	max := opts.MaxKeys
	if max <= 0 {
		max = defaultListPageSize
	}

	options := []oss.Option{
		oss.WithContext(ctx),
		oss.MaxKeys(int(max)),
	}
	if prefix := joinPrefix(p.prefix, opts.Prefix); prefix != "" {
		options = append(options, oss.Prefix(prefix))
	}
	if opts.ContinuationToken != "" {
		options = append(options, oss.ContinuationToken(opts.ContinuationToken))
	}

	result, err := p.bucket.ListObjectsV2(options...)
	if err != nil {
		return nil, p.wrap("list", opts.Prefix, err)
	}

	page := &ObjectPage{
		Objects:           make([]ObjectSummary, 0, len(result.Objects)),
		Truncated:         result.IsTruncated,
		ContinuationToken: result.NextContinuationToken,
	}
	for _, obj := range result.Objects {
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          p.logicalKey(obj.Key),
			Size:         obj.Size,
			ETag:         etagTrim(obj.ETag),
			LastModified: obj.LastModified,
		})
	}
	return page, nil
}

func (p *ossProvider) SignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	if strings.TrimSpace(p.cfg.AccessKeyID) == "" || strings.TrimSpace(p.cfg.SecretAccessKey) == "" {
		return "", configError(p.desc.Name, "signed URL requires access credentials")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultSignExpiry
	}
	seconds := int64(expires / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	var method oss.HTTPMethod
	switch strings.ToUpper(opts.Method) {
	case "", "GET":
		method = oss.HTTPGet
	case "PUT":
		method = oss.HTTPPut
	default:
		return "", validationError("sign_url", key, "unsupported sign method %q", opts.Method)
	}

	options := []oss.Option{}
	if opts.ResponseDisposition != "" {
		options = append(options, oss.ResponseContentDisposition(opts.ResponseDisposition))
	}
	if opts.ResponseContentType != "" {
		options = append(options, oss.ResponseContentType(opts.ResponseContentType))
	}

	signed, err := p.bucket.SignURL(p.wireKey(key), method, seconds, options...)
	if err != nil {
		return "", p.wrap("sign_url", key, err)
	}
	return signed, nil
}

func (p *ossProvider) PublicURL(key string) string {
	wire := p.wireKey(key)
	if base := strings.TrimSpace(p.cfg.PublicBaseURL); base != "" {
		return strings.TrimRight(base, "/") + "/" + wire
	}
	host := strings.TrimSpace(p.cfg.Endpoint)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return fmt.Sprintf("https://%s.%s/%s", p.bucket.BucketName, strings.TrimRight(host, "/"), wire)
}

func (p *ossProvider) TestConnection(ctx context.Context) error {
	exists, err := p.client.IsBucketExist(p.bucket.BucketName)
	if err != nil {
		if kind := ossKind(err); kind == KindAuthentication {
			return newError(KindAuthentication, "test_connection", p.desc.Name, "", "credentials rejected", err)
		}
		return newError(KindConnection, "test_connection", p.desc.Name, "", "endpoint unreachable", err)
	}
	if !exists {
		return newError(KindConnection, "test_connection", p.desc.Name, "", fmt.Sprintf("bucket %q does not exist", p.bucket.BucketName), nil)
	}
	return nil
}

func (p *ossProvider) wrap(op, key string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(ossKind(err), op, p.desc.Name, key, "", err)
}

func ossKind(err error) Kind {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return KindNotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "SecurityTokenExpired":
			return KindAuthentication
		}
		if kind := kindFromStatus(svcErr.StatusCode); kind != KindUnknown {
			return kind
		}
	}
	if kind, ok := transportKind(err); ok {
		return kind
	}
	return KindUnknown
}

func isOSSNotFound(err error) bool {
	if err == nil {
		return false
	}
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == 404 || svcErr.Code == "NoSuchKey"
	}
	return strings.Contains(err.Error(), "StatusCode=404")
}
