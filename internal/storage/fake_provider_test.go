package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeProvider is an in-memory Provider test double. Objects live in a map,
// per-operation failures are injectable, and calls are counted so tests can
// assert exactly which wire operations ran.
type fakeProvider struct {
	mu   sync.Mutex
	name string
	caps Capabilities

	objects map[string]fakeObject

	// uploadErr fails Upload calls. With uploadFailures > 0 only that many
	// leading calls fail; otherwise every call does.
	uploadErr      error
	uploadFailures int
	downloadErr    error
	deleteErr      error
	metaErr        error
	listErr        error
	signedErr      error
	connErr        error

	uploadCalls   int
	downloadCalls int
	deleteCalls   int
	existsCalls   int
	metaCalls     int
	listCalls     int
	signedCalls   int
}

type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	metadata    map[string]string
	public      bool
	modified    time.Time
}

var _ Provider = (*fakeProvider)(nil)

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, objects: make(map[string]fakeObject)}
}

// seed stores an object directly with a fixed ETag, bypassing Upload and its
// failure injection.
func (f *fakeProvider) seed(key, etag string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{
		data:        append([]byte(nil), data...),
		contentType: "application/octet-stream",
		etag:        etag,
		modified:    time.Now(),
	}
}

func (f *fakeProvider) object(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeProvider) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Capabilities() Capabilities { return f.caps }

func (f *fakeProvider) Upload(_ context.Context, input UploadInput) (*UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil && (f.uploadFailures <= 0 || f.uploadCalls <= f.uploadFailures) {
		return nil, f.uploadErr
	}
	sum := md5.Sum(input.Data)
	obj := fakeObject{
		data:        append([]byte(nil), input.Data...),
		contentType: input.ContentType,
		etag:        hex.EncodeToString(sum[:]),
		metadata:    input.Metadata,
		public:      input.Public,
		modified:    time.Now(),
	}
	f.objects[input.Key] = obj
	return &UploadInfo{
		Key:  input.Key,
		ETag: obj.etag,
		Size: int64(len(input.Data)),
		URL:  f.publicURL(input.Key),
	}, nil
}

func (f *fakeProvider) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, notFoundError("download", f.name, key, nil)
	}
	return append([]byte(nil), obj.data...), nil
}

func (f *fakeProvider) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.objects[key]
	delete(f.objects, key)
	return ok, nil
}

func (f *fakeProvider) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeProvider) GetMetadata(_ context.Context, key string) (*ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls++
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, notFoundError("get_metadata", f.name, key, nil)
	}
	return &ObjectMetadata{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.modified,
		Metadata:     obj.metadata,
	}, nil
}

func (f *fakeProvider) List(_ context.Context, opts ListOptions) (*ObjectPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	var keys []string
	for key := range f.objects {
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		if opts.ContinuationToken != "" && key <= opts.ContinuationToken {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	max := int(opts.MaxKeys)
	if max <= 0 {
		max = defaultListPageSize
	}

	page := &ObjectPage{}
	for _, key := range keys {
		if len(page.Objects) >= max {
			page.Truncated = true
			page.ContinuationToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		obj := f.objects[key]
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.modified,
		})
	}
	return page, nil
}

func (f *fakeProvider) SignedURL(_ context.Context, key string, opts SignOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedCalls++
	if f.signedErr != nil {
		return "", f.signedErr
	}
	method := opts.Method
	if method == "" {
		method = "GET"
	}
	signed := fmt.Sprintf("https://%s.signed.example/%s?method=%s&exp=%d&sig=%d",
		f.name, key, method, int64(opts.ExpiresIn/time.Second), f.signedCalls)
	if opts.ResponseDisposition != "" {
		signed += "&response-content-disposition=" + opts.ResponseDisposition
	}
	return signed, nil
}

func (f *fakeProvider) PublicURL(key string) string {
	return f.publicURL(key)
}

func (f *fakeProvider) publicURL(key string) string {
	return fmt.Sprintf("https://%s.public.example/%s", f.name, key)
}

func (f *fakeProvider) TestConnection(context.Context) error {
	return f.connErr
}

// fakeRecorder captures audit callbacks; err makes every call fail so tests
// can check that the engine shrugs it off.
type fakeRecorder struct {
	mu         sync.Mutex
	uploads    []UploadResult
	deletes    []DeleteResult
	syncs      []SyncReport
	migrations []MigrationReport
	err        error
}

var _ Recorder = (*fakeRecorder)(nil)

func (r *fakeRecorder) RecordUpload(_ context.Context, res UploadResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, res)
	return r.err
}

func (r *fakeRecorder) RecordDelete(_ context.Context, res DeleteResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, res)
	return r.err
}

func (r *fakeRecorder) RecordSync(_ context.Context, report SyncReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs = append(r.syncs, report)
	return r.err
}

func (r *fakeRecorder) RecordMigration(_ context.Context, report MigrationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations = append(r.migrations, report)
	return r.err
}
