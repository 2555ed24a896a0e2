package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultOperationTimeout bounds one provider call when the service is
	// not configured with its own limit.
	defaultOperationTimeout = 2 * time.Minute
	// recordTimeout bounds one audit-recorder call.
	recordTimeout = 5 * time.Second
)

// Recorder receives completed operation records for audit persistence. Calls
// are fire-and-forget: the engine logs a failed record and continues, and the
// outcome of the storage operation itself is never affected.
type Recorder interface {
	RecordUpload(ctx context.Context, result UploadResult) error
	RecordDelete(ctx context.Context, result DeleteResult) error
	RecordSync(ctx context.Context, report SyncReport) error
	RecordMigration(ctx context.Context, report MigrationReport) error
}

// ServiceOptions tune the orchestrator's validation, optimization and retry
// behavior.
type ServiceOptions struct {
	// MaxUploadSize rejects payloads above this many bytes. Zero disables
	// the limit.
	MaxUploadSize int64
	// AllowedExtensions, when non-empty, is the only set of file extensions
	// accepted for upload (lowercase, no leading dot).
	AllowedExtensions []string
	// OptimizeImages enables the best-effort image optimization pass.
	OptimizeImages bool
	// Optimize parameterizes the pass when enabled.
	Optimize OptimizeOptions
	// OperationTimeout bounds each provider call. Zero uses the default.
	OperationTimeout time.Duration
	// Retry tunes the backoff schedule for retriable failures.
	Retry RetryPolicy
}

// UploadRequest carries one upload through the service. Key is optional;
// when empty a collision-free key is generated from FileName.
type UploadRequest struct {
	Data        []byte
	FileName    string
	ContentType string
	Public      bool
	Metadata    map[string]string
	Tags        map[string]string
	Key         string
	UploaderID  string
	// SkipOptimize opts this upload out of the optimization pass even when
	// the service policy enables it.
	SkipOptimize bool
}

// UploadResult records a completed upload. Backup reports whether the object
// was replicated; a backup failure shows up here, never as an error.
type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	Provider    string `json:"provider"`
	ETag        string `json:"etag,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Optimized   bool   `json:"optimized"`
	Backup      bool   `json:"backup"`
	BackupError string `json:"backup_error,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

// DeleteResult records a completed delete. Deleted is false when the key did
// not exist on the primary.
type DeleteResult struct {
	Key         string `json:"key"`
	Deleted     bool   `json:"deleted"`
	Provider    string `json:"provider"`
	Backup      bool   `json:"backup"`
	BackupError string `json:"backup_error,omitempty"`
}

// Service orchestrates uploads, deletes, URL generation, migration and
// primary/backup synchronization over the configured providers. It is safe
// for concurrent use; within one call the steps run sequentially because each
// depends on the previous step's output.
type Service struct {
	primary   Provider
	backup    Provider
	keys      *KeyManager
	urls      *URLService
	optimizer *ImageOptimizer
	observer  Observer
	recorder  Recorder
	opts      ServiceOptions
	allowed   map[string]bool

	stats serviceStats
}

// NewService wires the orchestrator around the primary provider. keys, urls
// and optimizer may be nil; defaults are created. observer nil disables
// telemetry.
func NewService(primary Provider, keys *KeyManager, urls *URLService, optimizer *ImageOptimizer, observer Observer, opts ServiceOptions) *Service {
	if keys == nil {
		keys = NewKeyManager(LayoutDate, "")
	}
	if urls == nil {
		urls = NewURLService(primary, URLServiceOptions{}, observer)
	}
	if optimizer == nil {
		optimizer = NewImageOptimizer(0)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	var allowed map[string]bool
	if len(opts.AllowedExtensions) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedExtensions))
		for _, ext := range opts.AllowedExtensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				allowed[ext] = true
			}
		}
	}

	return &Service{
		primary:   primary,
		keys:      keys,
		urls:      urls,
		optimizer: optimizer,
		observer:  observer,
		opts:      opts,
		allowed:   allowed,
	}
}

// SetBackup configures the replication target. A nil backup disables
// replication.
func (s *Service) SetBackup(backup Provider) {
	s.backup = backup
}

// SetRecorder configures the audit callback. A nil recorder disables audit
// records.
func (s *Service) SetRecorder(rec Recorder) {
	s.recorder = rec
}

// Primary returns the active provider.
func (s *Service) Primary() Provider { return s.primary }

// Backup returns the replication provider, or nil when none is configured.
func (s *Service) Backup() Provider { return s.backup }

// URLs returns the URL service bound to the primary provider.
func (s *Service) URLs() *URLService { return s.urls }

// Upload runs the full pipeline: validate, resolve key, optimize when the
// policy applies, write to the primary with retry, then replicate to the
// backup. A backup failure is logged and reported in the result; only a
// primary failure fails the call.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := s.validateUpload(req); err != nil {
		return nil, err
	}

	key, err := s.resolveKey(req)
	if err != nil {
		return nil, err
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = detectContentType(path.Ext(req.FileName))
	}

	data := req.Data
	optimized := false
	if s.shouldOptimize(req, contentType) {
		res := s.optimizer.Optimize(ctx, data, s.opts.Optimize)
		data = res.Data
		optimized = res.Optimized
		if res.Optimized && res.Format != "" {
			contentType = "image/" + res.Format
		}
	}

	input := UploadInput{
		Key:          key,
		Data:         data,
		ContentType:  contentType,
		CacheControl: CacheControlFor(key),
		Public:       req.Public,
		Metadata:     req.Metadata,
		Tags:         req.Tags,
	}

	info, rc, err := s.uploadWithRetry(ctx, s.primary, input)
	if err != nil {
		s.stats.failures.Add(1)
		return nil, err
	}

	s.stats.uploads.Add(1)
	s.stats.bytesUploaded.Add(uint64(info.Size))
	if optimized {
		s.stats.optimized.Add(1)
	}
	s.observer.AddUploadedBytes(info.Size)

	result := &UploadResult{
		Key:         key,
		Size:        info.Size,
		Provider:    s.primary.Name(),
		ETag:        info.ETag,
		ContentType: contentType,
		Optimized:   optimized,
		Attempts:    rc.Attempts,
	}
	result.URL = s.resolveURL(ctx, key, req.Public, info.URL)

	if s.backup != nil {
		if berr := s.replicate(ctx, input); berr != nil {
			s.stats.backupFailures.Add(1)
			result.BackupError = Redact(berr.Error())
			logrus.WithError(berr).WithFields(logrus.Fields{
				"key":      key,
				"provider": s.backup.Name(),
			}).Warn("backup upload failed")
		} else {
			result.Backup = true
		}
	}

	s.recordUpload(*result)
	return result, nil
}

// Delete removes key from the primary and, when configured, the backup. The
// primary outcome is authoritative; a backup failure is reported in the
// result only.
func (s *Service) Delete(ctx context.Context, key string) (*DeleteResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var deleted bool
	start := time.Now()
	_, err := s.opts.Retry.Do(ctx, s.retryLogger("delete", s.primary.Name(), key), func(ctx context.Context) error {
		callCtx, cancel := s.callContext(ctx)
		defer cancel()
		var derr error
		deleted, derr = s.primary.Delete(callCtx, key)
		return derr
	})
	s.observer.ObserveOperation("delete", s.primary.Name(), time.Since(start), err)
	if err != nil {
		s.stats.failures.Add(1)
		return nil, err
	}

	s.stats.deletes.Add(1)
	s.urls.Invalidate(key)

	result := &DeleteResult{
		Key:      key,
		Deleted:  deleted,
		Provider: s.primary.Name(),
	}

	if s.backup != nil {
		callCtx, cancel := s.callContext(ctx)
		_, berr := s.backup.Delete(callCtx, key)
		cancel()
		if berr != nil {
			s.stats.backupFailures.Add(1)
			result.BackupError = Redact(berr.Error())
			logrus.WithError(berr).WithFields(logrus.Fields{
				"key":      key,
				"provider": s.backup.Name(),
			}).Warn("backup delete failed")
		} else {
			result.Backup = true
		}
	}

	s.recordDelete(*result)
	return result, nil
}

// GetMetadata fetches the primary's record of key.
func (s *Service) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	start := time.Now()
	meta, err := s.primary.GetMetadata(callCtx, key)
	s.observer.ObserveOperation("metadata", s.primary.Name(), time.Since(start), err)
	return meta, err
}

// GenerateURL delegates to the URL service.
func (s *Service) GenerateURL(ctx context.Context, key string, opts URLOptions) (string, error) {
	return s.urls.GenerateURL(ctx, key, opts)
}

// GenerateDownloadURL delegates to the URL service.
func (s *Service) GenerateDownloadURL(ctx context.Context, key, filename string, expiresIn time.Duration) (string, error) {
	return s.urls.GenerateDownloadURL(ctx, key, filename, expiresIn)
}

// BatchGenerateURLs delegates to the URL service, preserving input order.
func (s *Service) BatchGenerateURLs(ctx context.Context, keys []string, opts URLOptions) []BatchURLItem {
	return s.urls.BatchGenerateURLs(ctx, keys, opts)
}

// GenerateVariantURL delegates to the URL service.
func (s *Service) GenerateVariantURL(ctx context.Context, key, variant string, opts URLOptions) (string, error) {
	return s.urls.GenerateVariantURL(ctx, key, variant, opts)
}

func (s *Service) validateUpload(req UploadRequest) error {
	if len(req.Data) == 0 {
		return validationError("upload", req.Key, "empty payload")
	}
	if s.opts.MaxUploadSize > 0 && int64(len(req.Data)) > s.opts.MaxUploadSize {
		return validationError("upload", req.Key, "payload of %d bytes exceeds the %d byte limit",
			len(req.Data), s.opts.MaxUploadSize)
	}
	if s.allowed != nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(req.FileName), "."))
		if !s.allowed[ext] {
			return validationError("upload", req.Key, "file extension %q is not allowed", ext)
		}
	}
	return nil
}

// resolveKey validates a caller-supplied key or generates one. Generation
// never fails; a caller-supplied key that violates the invariants does.
func (s *Service) resolveKey(req UploadRequest) (string, error) {
	if req.Key != "" {
		if err := ValidateKey(req.Key); err != nil {
			return "", err
		}
		return req.Key, nil
	}
	return s.keys.GenerateKey(FileDescriptor{
		OriginalName: req.FileName,
		ContentType:  req.ContentType,
		UploaderID:   req.UploaderID,
	}), nil
}

func (s *Service) shouldOptimize(req UploadRequest, contentType string) bool {
	if !s.opts.OptimizeImages || req.SkipOptimize {
		return false
	}
	return strings.HasPrefix(contentType, "image/") ||
		ClassifyFile(req.FileName, contentType) == CategoryImages
}

// resolveURL prefers the URL service so private objects come back signed; a
// generation failure after a successful write falls back to the adapter URL
// rather than failing the upload.
func (s *Service) resolveURL(ctx context.Context, key string, public bool, fallback string) string {
	url, err := s.urls.GenerateURL(ctx, key, URLOptions{Private: !public})
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("url generation after upload failed")
		return fallback
	}
	return url
}

func (s *Service) uploadWithRetry(ctx context.Context, p Provider, input UploadInput) (*UploadInfo, RetryContext, error) {
	var info *UploadInfo
	start := time.Now()
	rc, err := s.opts.Retry.Do(ctx, s.retryLogger("upload", p.Name(), input.Key), func(ctx context.Context) error {
		callCtx, cancel := s.callContext(ctx)
		defer cancel()
		var uerr error
		info, uerr = p.Upload(callCtx, input)
		return uerr
	})
	s.observer.ObserveOperation("upload", p.Name(), time.Since(start), err)
	return info, rc, err
}

// replicate writes input to the backup in one attempt. The primary already
// holds the object; a slow retry schedule here would only delay the caller.
func (s *Service) replicate(ctx context.Context, input UploadInput) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	_, err := s.backup.Upload(callCtx, input)
	return err
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OperationTimeout)
}

func (s *Service) retryLogger(op, provider, key string) RetryNotify {
	return func(rc RetryContext, wait time.Duration, err error) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"op":       op,
			"provider": provider,
			"key":      key,
			"attempt":  rc.Attempts,
			"wait":     wait.String(),
		}).Warn("retrying storage operation")
	}
}

func (s *Service) recordUpload(res UploadResult) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordUpload(ctx, res); err != nil {
		logrus.WithError(err).WithField("key", res.Key).Warn("failed to record upload")
	}
}

func (s *Service) recordDelete(res DeleteResult) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordDelete(ctx, res); err != nil {
		logrus.WithError(err).WithField("key", res.Key).Warn("failed to record delete")
	}
}

func (s *Service) recordSync(report SyncReport) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordSync(ctx, report); err != nil {
		logrus.WithError(err).Warn("failed to record sync run")
	}
}

func (s *Service) recordMigration(report MigrationReport) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.recorder.RecordMigration(ctx, report); err != nil {
		logrus.WithError(err).Warn("failed to record migration run")
	}
}
