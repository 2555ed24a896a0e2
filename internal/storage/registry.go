package storage

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ConfigField binds a provider's wire-level field name to its slot in
// ProviderConfig, so validation errors can name the field the caller
// actually writes in configuration.
type ConfigField struct {
	Wire string
	Get  func(*ProviderConfig) string
}

// Transform describes an on-the-fly image derivation appended to a URL.
// Zero fields are omitted from the generated instruction.
type Transform struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
}

// IsZero reports whether the transform asks for nothing.
func (t Transform) IsZero() bool {
	return t.Width == 0 && t.Height == 0 && t.Quality == 0 && t.Format == ""
}

// Descriptor is the static registration record for one provider type.
type Descriptor struct {
	Name         string
	DisplayName  string
	Capabilities Capabilities

	// Required lists the fields the factory must see non-blank, in the
	// order they are reported when absent.
	Required []ConfigField

	// endpoint derives the S3-family endpoint from config. Nil for
	// backends with native addressing.
	endpoint func(cfg *ProviderConfig) string

	// publicURL builds the canonical non-expiring URL for S3-family
	// providers. Nil for backends that construct their own.
	publicURL func(cfg *ProviderConfig, key string) string

	// transformURL appends the provider's image-processing instruction to
	// a URL. Nil unless Capabilities.Transform.
	transformURL func(rawURL string, t Transform) string

	// objectACL reports whether the backend accepts x-amz-acl headers.
	// Cloudflare R2 rejects them.
	objectACL bool
}

func accessKeyField(wire string) ConfigField {
	return ConfigField{Wire: wire, Get: func(c *ProviderConfig) string { return c.AccessKeyID }}
}

func secretKeyField(wire string) ConfigField {
	return ConfigField{Wire: wire, Get: func(c *ProviderConfig) string { return c.SecretAccessKey }}
}

func regionField(wire string) ConfigField {
	return ConfigField{Wire: wire, Get: func(c *ProviderConfig) string { return c.Region }}
}

func bucketField(wire string) ConfigField {
	return ConfigField{Wire: wire, Get: func(c *ProviderConfig) string { return c.Bucket }}
}

var registry = map[string]*Descriptor{
	ProviderAWSS3: {
		Name:         ProviderAWSS3,
		DisplayName:  "Amazon S3",
		Capabilities: Capabilities{Acceleration: true, Versioning: true},
		Required: []ConfigField{
			accessKeyField("aws_access_key_id"),
			secretKeyField("aws_secret_access_key"),
			regionField("aws_region"),
			bucketField("aws_bucket"),
		},
		endpoint: func(cfg *ProviderConfig) string {
			if cfg.UseAcceleration {
				return "https://s3-accelerate.amazonaws.com"
			}
			return fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
		},
		publicURL: func(cfg *ProviderConfig, key string) string {
			return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", cfg.Bucket, cfg.Region, key)
		},
		objectACL: true,
	},
	ProviderR2: {
		Name:         ProviderR2,
		DisplayName:  "Cloudflare R2",
		Capabilities: Capabilities{Transform: true},
		Required: []ConfigField{
			{Wire: "r2_account_id", Get: func(c *ProviderConfig) string { return c.AccountID }},
			accessKeyField("r2_access_key_id"),
			secretKeyField("r2_secret_access_key"),
			bucketField("r2_bucket"),
		},
		endpoint: func(cfg *ProviderConfig) string {
			return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
		},
		publicURL: func(cfg *ProviderConfig, key string) string {
			// R2 buckets are private unless fronted by a public domain;
			// without one the canonical endpoint URL is still returned so
			// callers get a stable identifier.
			return fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s/%s", cfg.AccountID, cfg.Bucket, key)
		},
		transformURL: r2TransformURL,
	},
	ProviderSpaces: {
		Name:        ProviderSpaces,
		DisplayName: "DigitalOcean Spaces",
		Required: []ConfigField{
			accessKeyField("spaces_access_key_id"),
			secretKeyField("spaces_secret_access_key"),
			regionField("spaces_region"),
			bucketField("spaces_bucket"),
		},
		endpoint: func(cfg *ProviderConfig) string {
			return fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Region)
		},
		publicURL: func(cfg *ProviderConfig, key string) string {
			return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", cfg.Bucket, cfg.Region, key)
		},
		objectACL: true,
	},
	ProviderVultr: {
		Name:        ProviderVultr,
		DisplayName: "Vultr Object Storage",
		Required: []ConfigField{
			accessKeyField("vultr_access_key_id"),
			secretKeyField("vultr_secret_access_key"),
			regionField("vultr_region"),
			bucketField("vultr_bucket"),
		},
		endpoint: func(cfg *ProviderConfig) string {
			return fmt.Sprintf("https://%s.vultrobjects.com", cfg.Region)
		},
		publicURL: func(cfg *ProviderConfig, key string) string {
			return fmt.Sprintf("https://%s.%s.vultrobjects.com/%s", cfg.Bucket, cfg.Region, key)
		},
		objectACL: true,
	},
	ProviderLinode: {
		Name:        ProviderLinode,
		DisplayName: "Linode Object Storage",
		Required: []ConfigField{
			accessKeyField("linode_access_key_id"),
			secretKeyField("linode_secret_access_key"),
			regionField("linode_region"),
			bucketField("linode_bucket"),
		},
		endpoint: func(cfg *ProviderConfig) string {
			return fmt.Sprintf("https://%s.linodeobjects.com", cfg.Region)
		},
		publicURL: func(cfg *ProviderConfig, key string) string {
			return fmt.Sprintf("https://%s.%s.linodeobjects.com/%s", cfg.Bucket, cfg.Region, key)
		},
		objectACL: true,
	},
	ProviderMinIO: {
		Name:         ProviderMinIO,
		DisplayName:  "MinIO",
		Capabilities: Capabilities{Versioning: true},
		Required: []ConfigField{
			{Wire: "minio_endpoint", Get: func(c *ProviderConfig) string { return c.Endpoint }},
			accessKeyField("minio_access_key_id"),
			secretKeyField("minio_secret_access_key"),
			bucketField("minio_bucket"),
		},
	},
	ProviderOSS: {
		Name:         ProviderOSS,
		DisplayName:  "Aliyun OSS",
		Capabilities: Capabilities{Versioning: true, Transform: true},
		Required: []ConfigField{
			{Wire: "oss_endpoint", Get: func(c *ProviderConfig) string { return c.Endpoint }},
			accessKeyField("oss_access_key_id"),
			secretKeyField("oss_access_key_secret"),
			bucketField("oss_bucket"),
		},
		transformURL: ossTransformURL,
	},
	ProviderCOS: {
		Name:         ProviderCOS,
		DisplayName:  "Tencent COS",
		Capabilities: Capabilities{Versioning: true, Transform: true},
		Required: []ConfigField{
			{Wire: "cos_bucket_url", Get: func(c *ProviderConfig) string { return c.BucketURL }},
			accessKeyField("cos_secret_id"),
			secretKeyField("cos_secret_key"),
		},
		transformURL: cosTransformURL,
	},
	ProviderLocal: {
		Name:        ProviderLocal,
		DisplayName: "Local Filesystem",
		Required: []ConfigField{
			{Wire: "local_base_dir", Get: func(c *ProviderConfig) string { return c.BaseDir }},
		},
	},
}

// LookupProvider returns the descriptor registered under name.
func LookupProvider(name string) (*Descriptor, bool) {
	d, ok := registry[strings.TrimSpace(name)]
	return d, ok
}

// ProviderNames lists every registered provider type, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingFields returns the wire names of required fields that are blank in
// cfg, preserving registration order.
func (d *Descriptor) MissingFields(cfg *ProviderConfig) []string {
	var missing []string
	for _, f := range d.Required {
		if strings.TrimSpace(f.Get(cfg)) == "" {
			missing = append(missing, f.Wire)
		}
	}
	return missing
}

// TransformURL appends d's image-processing instruction to rawURL. When the
// provider has no transform dialect the URL is returned unchanged.
func (d *Descriptor) TransformURL(rawURL string, t Transform) string {
	if d.transformURL == nil || t.IsZero() {
		return rawURL
	}
	return d.transformURL(rawURL, t)
}

// r2TransformURL emits Cloudflare image-resizing query parameters.
func r2TransformURL(rawURL string, t Transform) string {
	params := url.Values{}
	if t.Width > 0 {
		params.Set("width", fmt.Sprint(t.Width))
	}
	if t.Height > 0 {
		params.Set("height", fmt.Sprint(t.Height))
	}
	if t.Quality > 0 {
		params.Set("quality", fmt.Sprint(t.Quality))
	}
	if t.Format != "" {
		params.Set("format", t.Format)
	}
	return appendQuery(rawURL, params.Encode())
}

// ossTransformURL emits an x-oss-process image pipeline.
func ossTransformURL(rawURL string, t Transform) string {
	process := "image"
	if t.Width > 0 || t.Height > 0 {
		process += "/resize"
		if t.Width > 0 {
			process += fmt.Sprintf(",w_%d", t.Width)
		}
		if t.Height > 0 {
			process += fmt.Sprintf(",h_%d", t.Height)
		}
	}
	if t.Quality > 0 {
		process += fmt.Sprintf("/quality,q_%d", t.Quality)
	}
	if t.Format != "" {
		process += "/format," + t.Format
	}
	return appendQuery(rawURL, "x-oss-process="+url.QueryEscape(process))
}

// cosTransformURL emits an imageMogr2 pipeline.
func cosTransformURL(rawURL string, t Transform) string {
	process := "imageMogr2"
	if t.Width > 0 || t.Height > 0 {
		switch {
		case t.Width > 0 && t.Height > 0:
			process += fmt.Sprintf("/thumbnail/%dx%d", t.Width, t.Height)
		case t.Width > 0:
			process += fmt.Sprintf("/thumbnail/%dx", t.Width)
		default:
			process += fmt.Sprintf("/thumbnail/x%d", t.Height)
		}
	}
	if t.Quality > 0 {
		process += fmt.Sprintf("/quality/%d", t.Quality)
	}
	if t.Format != "" {
		process += "/format/" + t.Format
	}
	return appendQuery(rawURL, process)
}

func appendQuery(rawURL, query string) string {
	if query == "" {
		return rawURL
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}
