package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// cosProvider drives Tencent Cloud COS. COS addresses buckets through a full
// bucket URL rather than endpoint+bucket, and carries the imageMogr2
// transform dialect.
type cosProvider struct {
	client *cos.Client
	desc   *Descriptor
	cfg    ProviderConfig
	prefix string
}

var _ Provider = (*cosProvider)(nil)

func newCOSProvider(desc *Descriptor, cfg ProviderConfig) (*cosProvider, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(cfg.BucketURL))
	if err != nil {
		return nil, configError(desc.Name, "parse bucket URL: %v", err)
	}

	transport := &cos.AuthorizationTransport{
		SecretID:  strings.TrimSpace(cfg.AccessKeyID),
		SecretKey: strings.TrimSpace(cfg.SecretAccessKey),
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: parsedURL}, &http.Client{Transport: transport})

	return &cosProvider{
		client: client,
		desc:   desc,
		cfg:    cfg,
		prefix: trimPrefix(cfg.Prefix),
	}, nil
}

func (p *cosProvider) Name() string { return p.desc.Name }

func (p *cosProvider) Capabilities() Capabilities { return p.desc.Capabilities }

func (p *cosProvider) wireKey(key string) string {
	return joinPrefix(p.prefix, key)
}

func (p *cosProvider) logicalKey(wire string) string {
	if p.prefix == "" {
		return wire
	}
	return strings.TrimPrefix(wire, p.prefix+"/")
}

func closeCOSResponse(resp *cos.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func (p *cosProvider) Upload(ctx context.Context, input UploadInput) (*UploadInfo, error) {
	headerOpts := &cos.ObjectPutHeaderOptions{}
	if input.ContentType != "" {
		headerOpts.ContentType = input.ContentType
	}
	if input.CacheControl != "" {
		headerOpts.CacheControl = input.CacheControl
	}
	if len(input.Metadata) > 0 {
		meta := http.Header{}
		for k, v := range input.Metadata {
			meta.Set("x-cos-meta-"+k, v)
		}
		headerOpts.XCosMetaXXX = &meta
	}
	if len(input.Tags) > 0 {
		tags := url.Values{}
		for k, v := range input.Tags {
			tags.Set(k, v)
		}
		extra := http.Header{}
		extra.Set("x-cos-tagging", tags.Encode())
		headerOpts.XOptionHeader = &extra
	}

	acl := &cos.ACLHeaderOptions{}
	if input.Public {
		acl.XCosACL = "public-read"
	} else {
		acl.XCosACL = "private"
	}

	options := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: headerOpts,
		ACLHeaderOptions:       acl,
	}

	resp, err := p.client.Object.Put(ctx, p.wireKey(input.Key), bytes.NewReader(input.Data), options)
	closeCOSResponse(resp)
	if err != nil {
		return nil, p.wrap("upload", input.Key, err)
	}

	etag := ""
	if resp != nil {
		etag = etagTrim(resp.Header.Get("ETag"))
	}

	return &UploadInfo{
		Key:  input.Key,
		ETag: etag,
		Size: int64(len(input.Data)),
		URL:  p.PublicURL(input.Key),
	}, nil
}

func (p *cosProvider) Download(ctx context.Context, key string) ([]byte, error) {
	resp, err := p.client.Object.Get(ctx, p.wireKey(key), nil)
	if err != nil {
		closeCOSResponse(resp)
		return nil, p.wrap("download", key, err)
	}
	defer closeCOSResponse(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	return data, nil
}

func (p *cosProvider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := p.Exists(ctx, key)
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	if !exists {
		return false, nil
	}

	resp, err := p.client.Object.Delete(ctx, p.wireKey(key))
	closeCOSResponse(resp)
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	return true, nil
}

func (p *cosProvider) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := p.client.Object.Head(ctx, p.wireKey(key), nil)
	closeCOSResponse(resp)
	if err == nil {
		return true, nil
	}
	if cos.IsNotFoundError(err) {
		return false, nil
	}
	return false, p.wrap("exists", key, err)
}

func (p *cosProvider) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	resp, err := p.client.Object.Head(ctx, p.wireKey(key), nil)
	defer closeCOSResponse(resp)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, notFoundError("get_metadata", p.desc.Name, key, err)
		}
		return nil, p.wrap("get_metadata", key, err)
	}

	lastModified, _ := http.ParseTime(resp.Header.Get("Last-Modified"))

	custom := map[string]string{}
	for name, values := range resp.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-cos-meta-") && len(values) > 0 {
			custom[strings.TrimPrefix(lower, "x-cos-meta-")] = values[0]
		}
	}

	return &ObjectMetadata{
		Key:          key,
		Size:         resp.ContentLength,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         etagTrim(resp.Header.Get("ETag")),
		LastModified: lastModified,
		Metadata:     custom,
	}, nil
}

func (p *cosProvider) List(ctx context.Context, opts ListOptions) (*ObjectPage, error) {
	max := opts.MaxKeys
	if max <= 0 {
		max = defaultListPageSize
	}

	result, resp, err := p.client.Bucket.Get(ctx, &cos.BucketGetOptions{
		Prefix:  joinPrefix(p.prefix, opts.Prefix),
		Marker:  opts.ContinuationToken,
		MaxKeys: int(max),
	})
	closeCOSResponse(resp)
	if err != nil {
		return nil, p.wrap("list", opts.Prefix, err)
	}

	page := &ObjectPage{
		Objects:           make([]ObjectSummary, 0, len(result.Contents)),
		Truncated:         result.IsTruncated,
		ContinuationToken: result.NextMarker,
	}
	for _, obj := range result.Contents {
		lastModified, _ := time.Parse(time.RFC3339, obj.LastModified)
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          p.logicalKey(obj.Key),
			Size:         obj.Size,
			ETag:         etagTrim(obj.ETag),
			LastModified: lastModified,
		})
	}
	return page, nil
}

func (p *cosProvider) SignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	secretID := strings.TrimSpace(p.cfg.AccessKeyID)
	secretKey := strings.TrimSpace(p.cfg.SecretAccessKey)
	if secretID == "" || secretKey == "" {
		return "", configError(p.desc.Name, "signed URL requires access credentials")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultSignExpiry
	}

	var method string
	switch strings.ToUpper(opts.Method) {
	case "", "GET":
		method = http.MethodGet
	case "PUT":
		method = http.MethodPut
	default:
		return "", validationError("sign_url", key, "unsupported sign method %q", opts.Method)
	}

	var presignOpts interface{}
	if opts.ResponseDisposition != "" || opts.ResponseContentType != "" {
		query := url.Values{}
		if opts.ResponseDisposition != "" {
			query.Set("response-content-disposition", opts.ResponseDisposition)
		}
		if opts.ResponseContentType != "" {
			query.Set("response-content-type", opts.ResponseContentType)
		}
		presignOpts = &cos.PresignedURLOptions{Query: &query}
	}

	signed, err := p.client.Object.GetPresignedURL(ctx, method, p.wireKey(key), secretID, secretKey, expires, presignOpts)
	if err != nil {
		return "", p.wrap("sign_url", key, err)
	}
	return signed.String(), nil
}

func (p *cosProvider) PublicURL(key string) string {
	wire := p.wireKey(key)
	if base := strings.TrimSpace(p.cfg.PublicBaseURL); base != "" {
		return strings.TrimRight(base, "/") + "/" + wire
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(p.client.BaseURL.BucketURL.String(), "/"), wire)
}

func (p *cosProvider) TestConnection(ctx context.Context) error {
	resp, err := p.client.Bucket.Head(ctx)
	closeCOSResponse(resp)
	if err != nil {
		if kind := cosKind(err); kind == KindAuthentication {
			return newError(KindAuthentication, "test_connection", p.desc.Name, "", "credentials rejected", err)
		}
		return newError(KindConnection, "test_connection", p.desc.Name, "", "bucket unreachable", err)
	}
	return nil
}

func (p *cosProvider) wrap(op, key string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(cosKind(err), op, p.desc.Name, key, "", err)
}

func cosKind(err error) Kind {
	if cos.IsNotFoundError(err) {
		return KindNotFound
	}
	var respErr *cos.ErrorResponse
	if errors.As(err, &respErr) {
		switch respErr.Code {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return KindAuthentication
		}
		if respErr.Response != nil {
			if kind := kindFromStatus(respErr.Response.StatusCode); kind != KindUnknown {
				return kind
			}
		}
	}
	if kind, ok := transportKind(err); ok {
		return kind
	}
	return KindUnknown
}
