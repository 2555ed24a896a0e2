package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type s3ClientOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
}

// s3Provider drives every S3-wire-compatible backend: Amazon S3 itself plus
// Cloudflare R2, DigitalOcean Spaces, Vultr and Linode, which differ only in
// endpoint construction and capability flags (see registry.go).
type s3Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	desc    *Descriptor
	cfg     ProviderConfig
	bucket  string
	prefix  string
}

var _ Provider = (*s3Provider)(nil)

func newS3Provider(desc *Descriptor, cfg ProviderConfig) (*s3Provider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" && desc.endpoint != nil {
		endpoint = desc.endpoint(&cfg)
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		// R2 and friends sign against the synthetic region.
		region = "auto"
	}

	forcePathStyle := cfg.ForcePathStyle
	if desc.Name == ProviderR2 {
		forcePathStyle = true
	}

	client, err := newS3Client(s3ClientOptions{
		Region:          region,
		Endpoint:        endpoint,
		AccessKeyID:     strings.TrimSpace(cfg.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(cfg.SecretAccessKey),
		SessionToken:    strings.TrimSpace(cfg.SessionToken),
		ForcePathStyle:  forcePathStyle,
	})
	if err != nil {
		return nil, configError(desc.Name, "create S3 client: %v", err)
	}

	return &s3Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		desc:    desc,
		cfg:     cfg,
		bucket:  strings.TrimSpace(cfg.Bucket),
		prefix:  trimPrefix(cfg.Prefix),
	}, nil
}

func (p *s3Provider) Name() string { return p.desc.Name }

func (p *s3Provider) Capabilities() Capabilities { return p.desc.Capabilities }

func (p *s3Provider) wireKey(key string) string {
	return joinPrefix(p.prefix, key)
}

func (p *s3Provider) logicalKey(wire string) string {
	if p.prefix == "" {
		return wire
	}
	return strings.TrimPrefix(wire, p.prefix+"/")
}

func (p *s3Provider) Upload(ctx context.Context, input UploadInput) (*UploadInfo, error) {
	key := p.wireKey(input.Key)

	put := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(input.Data),
		ContentLength: aws.Int64(int64(len(input.Data))),
	}
	if input.ContentType != "" {
		put.ContentType = aws.String(input.ContentType)
	}
	if input.CacheControl != "" {
		put.CacheControl = aws.String(input.CacheControl)
	}
	if len(input.Metadata) > 0 {
		put.Metadata = input.Metadata
	}
	if len(input.Tags) > 0 {
		tags := url.Values{}
		for k, v := range input.Tags {
			tags.Set(k, v)
		}
		put.Tagging = aws.String(tags.Encode())
	}
	// R2 rejects canned ACLs; object visibility there is a bucket property.
	if p.desc.objectACL {
		if input.Public {
			put.ACL = types.ObjectCannedACLPublicRead
		} else {
			put.ACL = types.ObjectCannedACLPrivate
		}
	}

	out, err := p.client.PutObject(ctx, put)
	if err != nil {
		return nil, p.wrap("upload", input.Key, err)
	}

	return &UploadInfo{
		Key:  input.Key,
		ETag: etagTrim(aws.ToString(out.ETag)),
		Size: int64(len(input.Data)),
		URL:  p.PublicURL(input.Key),
	}, nil
}

func (p *s3Provider) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.wireKey(key)),
	})
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, p.wrap("download", key, err)
	}
	return data, nil
}

func (p *s3Provider) Delete(ctx context.Context, key string) (bool, error) {
	// S3 DELETE is unconditionally 204, so probe first to honor the
	// deleted=false contract for absent keys.
	exists, err := p.Exists(ctx, key)
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	if !exists {
		return false, nil
	}

	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.wireKey(key)),
	})
	if err != nil {
		return false, p.wrap("delete", key, err)
	}
	return true, nil
}

func (p *s3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.wireKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, p.wrap("exists", key, err)
}

func (p *s3Provider) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.wireKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFoundError("get_metadata", p.desc.Name, key, err)
		}
		return nil, p.wrap("get_metadata", key, err)
	}

	return &ObjectMetadata{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         etagTrim(aws.ToString(out.ETag)),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}, nil
}

func (p *s3Provider) List(ctx context.Context, opts ListOptions) (*ObjectPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
	}
	if prefix := joinPrefix(p.prefix, opts.Prefix); prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(opts.MaxKeys)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, p.wrap("list", opts.Prefix, err)
	}

	page := &ObjectPage{
		Objects:           make([]ObjectSummary, 0, len(out.Contents)),
		Truncated:         aws.ToBool(out.IsTruncated),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          p.logicalKey(aws.ToString(obj.Key)),
			Size:         aws.ToInt64(obj.Size),
			ETag:         etagTrim(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return page, nil
}

func (p *s3Provider) SignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	if strings.TrimSpace(p.cfg.AccessKeyID) == "" || strings.TrimSpace(p.cfg.SecretAccessKey) == "" {
		return "", configError(p.desc.Name, "signed URL requires access credentials")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultSignExpiry
	}
	withExpiry := func(po *s3.PresignOptions) { po.Expires = expires }

	wire := p.wireKey(key)
	switch strings.ToUpper(opts.Method) {
	case "", "GET":
		input := &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(wire),
		}
		if opts.ResponseDisposition != "" {
			input.ResponseContentDisposition = aws.String(opts.ResponseDisposition)
		}
		if opts.ResponseContentType != "" {
			input.ResponseContentType = aws.String(opts.ResponseContentType)
		}
		req, err := p.presign.PresignGetObject(ctx, input, withExpiry)
		if err != nil {
			return "", p.wrap("sign_url", key, err)
		}
		return req.URL, nil
	case "PUT":
		req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(wire),
		}, withExpiry)
		if err != nil {
			return "", p.wrap("sign_url", key, err)
		}
		return req.URL, nil
	default:
		return "", validationError("sign_url", key, "unsupported sign method %q", opts.Method)
	}
}

func (p *s3Provider) PublicURL(key string) string {
	wire := p.wireKey(key)
	if base := strings.TrimSpace(p.cfg.PublicBaseURL); base != "" {
		return strings.TrimRight(base, "/") + "/" + wire
	}
	if p.desc.publicURL != nil {
		return p.desc.publicURL(&p.cfg, wire)
	}
	endpoint := strings.TrimSpace(p.cfg.Endpoint)
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), p.bucket, wire)
}

func (p *s3Provider) TestConnection(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		if kind := s3Kind(err); kind == KindAuthentication {
			return newError(KindAuthentication, "test_connection", p.desc.Name, "", "credentials rejected", err)
		}
		return newError(KindConnection, "test_connection", p.desc.Name, "", "bucket unreachable", err)
	}
	return nil
}

// wrap classifies an SDK failure into the taxonomy, keying off the S3 error
// code first and the transport shape second.
func (p *s3Provider) wrap(op, key string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(s3Kind(err), op, p.desc.Name, key, "", err)
}

func s3Kind(err error) Kind {
	if isS3NotFound(err) {
		return KindNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "TokenRefreshRequired", "AuthorizationHeaderMalformed":
			return KindAuthentication
		case "RequestTimeout":
			return KindTimeout
		case "SlowDown", "ServiceUnavailable", "InternalError":
			return KindConnection
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if kind := kindFromStatus(respErr.HTTPStatusCode()); kind != KindUnknown {
			return kind
		}
	}
	if kind, ok := transportKind(err); ok {
		return kind
	}
	return KindUnknown
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.ErrorCode())
		if code == "notfound" || code == "nosuchkey" || code == "404" {
			return true
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "status code: 404") {
		return true
	}
	return false
}

func newS3Client(opts s3ClientOptions) (*s3.Client, error) {
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		return nil, errors.New("storage: missing S3 region")
	}
	accessKey := strings.TrimSpace(opts.AccessKeyID)
	secretKey := strings.TrimSpace(opts.SecretAccessKey)
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("storage: missing S3 credentials")
	}

	credentialsProvider := aws.NewCredentialsCache(
		credentials.NewStaticCredentialsProvider(accessKey, secretKey, strings.TrimSpace(opts.SessionToken)),
	)

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentialsProvider,
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           endpoint,
					SigningRegion: region,
				}, nil
			}
			return aws.Endpoint{}, fmt.Errorf("storage: no endpoint for service %s", service)
		})
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
	})

	return client, nil
}
