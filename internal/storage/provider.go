package storage

import (
	"context"
	"strings"
	"time"
)

const (
	// ProviderAWSS3 is Amazon S3 proper.
	ProviderAWSS3 = "aws-s3"
	// ProviderR2 is Cloudflare R2 (S3-compatible).
	ProviderR2 = "cloudflare-r2"
	// ProviderSpaces is DigitalOcean Spaces (S3-compatible).
	ProviderSpaces = "digitalocean-spaces"
	// ProviderVultr is Vultr Object Storage (S3-compatible).
	ProviderVultr = "vultr"
	// ProviderLinode is Linode (Akamai) Object Storage (S3-compatible).
	ProviderLinode = "linode"
	// ProviderMinIO is a self-hosted MinIO deployment, driven natively.
	ProviderMinIO = "minio"
	// ProviderOSS is Alibaba Cloud OSS.
	ProviderOSS = "aliyun-oss"
	// ProviderCOS is Tencent Cloud COS.
	ProviderCOS = "tencent-cos"
	// ProviderLocal is the local-filesystem backend.
	ProviderLocal = "local"
)

// MaxKeyLength is the hard ceiling on object key bytes, matching the limit
// shared by every supported backend.
const MaxKeyLength = 1024

// DefaultSignExpiry is used when a signed-URL request does not specify a
// lifetime.
const DefaultSignExpiry = 15 * time.Minute

// defaultListPageSize bounds a listing page when the caller does not.
const defaultListPageSize = 1000

// Capabilities are the optional features a provider declares statically.
// Callers gate behavior on these flags instead of probing at call time.
type Capabilities struct {
	Acceleration bool `json:"acceleration"`
	Versioning   bool `json:"versioning"`
	Transform    bool `json:"transform"`
}

// ProviderConfig is the immutable configuration an adapter is built from.
// It is validated by the factory before any network call and owned exclusively
// by the adapter instance afterwards; nothing else retains the credentials.
type ProviderConfig struct {
	Provider        string `json:"provider"`
	Endpoint        string `json:"endpoint,omitempty"`
	Region          string `json:"region,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	AccountID       string `json:"account_id,omitempty"`  // cloudflare-r2 endpoint construction
	BucketURL       string `json:"bucket_url,omitempty"`  // tencent-cos addressing
	Prefix          string `json:"prefix,omitempty"`
	ForcePathStyle  bool   `json:"force_path_style,omitempty"`
	UseSSL          bool   `json:"use_ssl,omitempty"`
	UseAcceleration bool   `json:"use_acceleration,omitempty"`
	PublicBaseURL   string `json:"public_base_url,omitempty"` // optional CDN/custom domain for public URLs
	BaseDir         string `json:"base_dir,omitempty"`        // local backend root
	SignSecret      string `json:"sign_secret,omitempty"`     // local backend URL signing secret
}

// UploadInput carries one object write through an adapter.
type UploadInput struct {
	Key          string
	Data         []byte
	ContentType  string
	CacheControl string
	Public       bool
	Metadata     map[string]string
	Tags         map[string]string
}

// UploadInfo is the adapter-level record of a completed write.
type UploadInfo struct {
	Key  string
	ETag string
	Size int64
	URL  string
}

// ObjectMetadata describes a stored object, as returned by GetMetadata.
type ObjectMetadata struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	ETag         string            `json:"etag"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ObjectSummary is one entry of a listing page.
type ObjectSummary struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

// ListOptions bounds a listing call. A zero MaxKeys uses the provider
// default page size. ContinuationToken resumes a previous page.
type ListOptions struct {
	Prefix            string
	MaxKeys           int32
	ContinuationToken string
}

// ObjectPage is a finite, restartable listing page.
type ObjectPage struct {
	Objects           []ObjectSummary `json:"objects"`
	Truncated         bool            `json:"truncated"`
	ContinuationToken string          `json:"continuation_token,omitempty"`
}

// SignOptions parameterize a pre-signed URL.
type SignOptions struct {
	// Method is "GET" or "PUT". Empty means GET.
	Method string
	// ExpiresIn bounds the URL lifetime. Zero falls back to the service
	// default.
	ExpiresIn time.Duration
	// ResponseDisposition, when set on a GET, forces the provider to answer
	// with this Content-Disposition header.
	ResponseDisposition string
	// ResponseContentType, when set on a GET, overrides the served
	// Content-Type header.
	ResponseContentType string
}

// Provider is the uniform operation set every backend adapter implements.
// Adapters are stateless after construction apart from their client
// connection pool and are safe for concurrent use. Operations that a backend
// cannot support are reported through Capabilities, never by failing at call
// time.
type Provider interface {
	// Name returns the provider identifier the adapter was registered under.
	Name() string

	// Capabilities reports the provider's static feature flags.
	Capabilities() Capabilities

	// Upload writes data under key. Uploading twice with the same key
	// overwrites; it never appends or duplicates.
	Upload(ctx context.Context, input UploadInput) (*UploadInfo, error)

	// Download returns the full object payload.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting an absent key is not an error; it
	// reports deleted=false instead, because eventually-consistent backends
	// may serve stale existence state.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key currently resolves to an object.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata fetches size, content type, ETag and custom metadata.
	// A missing object is a KindNotFound error.
	GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error)

	// List returns one page of keys under prefix, restartable through the
	// returned continuation token.
	List(ctx context.Context, opts ListOptions) (*ObjectPage, error)

	// SignedURL builds a time-limited URL for key. It fails with a
	// configuration error when signing credentials are absent; it never
	// silently degrades to a public URL.
	SignedURL(ctx context.Context, key string, opts SignOptions) (string, error)

	// PublicURL builds the non-expiring URL for key. Purely computational.
	PublicURL(key string) string

	// TestConnection verifies reachability and credentials with a read-only
	// call. It must not mutate bucket state.
	TestConnection(ctx context.Context) error
}

// etagTrim normalizes an ETag for comparison: providers quote them
// inconsistently and some prefix weak validators.
func etagTrim(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}
