package storage

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultURLExpiry is the signed-URL lifetime when a caller does not
	// supply one.
	DefaultURLExpiry = time.Hour
	// defaultPublicCacheTTL bounds how long a public URL stays cached.
	defaultPublicCacheTTL = time.Hour
	// defaultBatchConcurrency bounds concurrent generation in a batch call.
	defaultBatchConcurrency = 8
)

// URLOptions parameterize one URL generation.
type URLOptions struct {
	// Private forces a signed URL. The service-wide private mode does the
	// same for every key.
	Private bool
	// ExpiresIn bounds a signed URL's lifetime. Zero uses the default.
	ExpiresIn time.Duration
	// Method is GET (default) or PUT.
	Method string
	// Transform requests an on-the-fly image derivation. Ignored without
	// provider transform capability; the base URL is returned unmodified.
	Transform Transform
	// AttachmentName, when set, forces a signed URL whose response carries
	// Content-Disposition: attachment. Signing is required even for public
	// objects because the disposition rides in signed response headers.
	AttachmentName string
}

// URLServiceOptions configure a URLService.
type URLServiceOptions struct {
	// PrivateMode signs every generated URL regardless of per-call options.
	PrivateMode bool
	// DefaultExpiry is the signed-URL lifetime when a call does not set one.
	DefaultExpiry time.Duration
	// CacheSize bounds the URL cache entry count.
	CacheSize int
	// PublicCacheTTL bounds how long public URLs stay cached.
	PublicCacheTTL time.Duration
	// BatchConcurrency bounds concurrent per-key generation in batch calls.
	BatchConcurrency int
}

// BatchURLItem is one positional result of a batch URL generation.
type BatchURLItem struct {
	Key   string `json:"key"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// CacheStats is a snapshot of URL cache effectiveness.
type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// URLService builds public and signed URLs for stored objects, caching
// results until they expire. It is safe for concurrent use.
type URLService struct {
	provider  Provider
	transform func(string, Transform) string
	cache     *urlCache
	observer  Observer
	opts      URLServiceOptions

	hits   atomic.Uint64
	misses atomic.Uint64

	now func() time.Time
}

// NewURLService builds a URLService over provider. observer may be nil.
func NewURLService(provider Provider, opts URLServiceOptions, observer Observer) *URLService {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = DefaultURLExpiry
	}
	if opts.PublicCacheTTL <= 0 {
		opts.PublicCacheTTL = defaultPublicCacheTTL
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	if observer == nil {
		observer = NopObserver{}
	}

	// The transform dialect comes from the registry; providers registered
	// without one fall back to the identity so unsupported transforms
	// degrade to the base URL.
	transform := func(rawURL string, _ Transform) string { return rawURL }
	if desc, ok := LookupProvider(provider.Name()); ok {
		transform = desc.TransformURL
	}

	return &URLService{
		provider:  provider,
		transform: transform,
		cache:     newURLCache(opts.CacheSize),
		observer:  observer,
		opts:      opts,
		now:       time.Now,
	}
}

// GenerateURL returns a URL for key. Private or attachment requests are
// signed; everything else gets the provider's public URL. A cache hit valid
// at call time short-circuits any signing round trip.
func (s *URLService) GenerateURL(ctx context.Context, key string, opts URLOptions) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	private := opts.Private || s.opts.PrivateMode || opts.AttachmentName != ""
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.opts.DefaultExpiry
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = "GET"
	}

	disposition := ""
	if opts.AttachmentName != "" {
		disposition = attachmentDisposition(opts.AttachmentName)
	}

	cacheKey := urlCacheKey(key, private, expiresIn, method, disposition, opts.Transform)
	if cached, ok := s.cache.Get(cacheKey, s.now()); ok {
		s.hits.Add(1)
		s.observer.ObserveCacheLookup(true)
		return cached, nil
	}
	s.misses.Add(1)
	s.observer.ObserveCacheLookup(false)

	var rawURL string
	var entryTTL time.Duration
	if private {
		signed, err := s.provider.SignedURL(ctx, key, SignOptions{
			Method:              method,
			ExpiresIn:           expiresIn,
			ResponseDisposition: disposition,
		})
		if err != nil {
			return "", err
		}
		rawURL = signed
		// Cache signed URLs for most of their lifetime, never all of it,
		// so a hit is never handed out moments before the URL dies.
		entryTTL = expiresIn * 9 / 10
	} else {
		rawURL = s.provider.PublicURL(key)
		entryTTL = s.opts.PublicCacheTTL
	}

	// Transforms ride only on public URLs: appending query instructions to an
	// already-signed URL breaks providers whose signature covers the query
	// string. A signed request gets the base URL.
	if !private && !opts.Transform.IsZero() && s.provider.Capabilities().Transform {
		rawURL = s.transform(rawURL, opts.Transform)
	}

	if entryTTL > 0 {
		s.cache.Put(cacheKey, rawURL, s.now().Add(entryTTL))
		s.observer.SetCacheSize(s.cache.Len())
	}
	return rawURL, nil
}

// GenerateDownloadURL returns a signed URL forcing the response into an
// attachment download named filename (the key's base name when empty).
func (s *URLService) GenerateDownloadURL(ctx context.Context, key, filename string, expiresIn time.Duration) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = baseName(key)
	}
	return s.GenerateURL(ctx, key, URLOptions{
		ExpiresIn:      expiresIn,
		AttachmentName: name,
	})
}

// BatchGenerateURLs generates a URL per key concurrently and returns the
// results in input order. Per-key failures are recorded in their slot and
// never abort the rest of the batch.
func (s *URLService) BatchGenerateURLs(ctx context.Context, keys []string, opts URLOptions) []BatchURLItem {
	items := make([]BatchURLItem, len(keys))

	g := new(errgroup.Group)
	g.SetLimit(s.opts.BatchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			items[i] = BatchURLItem{Key: key}
			generated, err := s.GenerateURL(ctx, key, opts)
			if err != nil {
				items[i].Error = Redact(err.Error())
				return nil
			}
			items[i].URL = generated
			return nil
		})
	}
	// Workers never return errors; failures live in their result slot.
	_ = g.Wait()
	return items
}

// GenerateVariantURL resolves the URL of a named derivation of key
// (media/a.png + "thumbnail" -> media/a-thumbnail.png). Variant existence is
// probed per request; a missing variant or failed probe falls back to the
// original key's URL.
func (s *URLService) GenerateVariantURL(ctx context.Context, key, variant string, opts URLOptions) (string, error) {
	cleaned := sanitizePathSegment(variant)
	if cleaned == "" {
		return s.GenerateURL(ctx, key, opts)
	}

	vkey := variantKey(key, cleaned)
	exists, err := s.provider.Exists(ctx, vkey)
	if err != nil || !exists {
		return s.GenerateURL(ctx, key, opts)
	}
	return s.GenerateURL(ctx, vkey, opts)
}

// Invalidate drops every cached URL derived from key. Called after deletes.
func (s *URLService) Invalidate(key string) {
	s.cache.InvalidatePrefix(key + "|")
	s.observer.SetCacheSize(s.cache.Len())
}

// CacheStats reports the cache's current size and lifetime hit counters.
func (s *URLService) CacheStats() CacheStats {
	return CacheStats{
		Size:   s.cache.Len(),
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

func attachmentDisposition(filename string) string {
	sanitized := strings.ReplaceAll(filename, `"`, "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	sanitized = strings.ReplaceAll(sanitized, "\n", "")
	return fmt.Sprintf("attachment; filename=%q", sanitized)
}

func baseName(key string) string {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
