package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sliceSource is an in-memory MigrationSource.
type sliceSource struct {
	files   []MigrationFile
	data    map[string][]byte
	pos     int
	openErr error
}

var _ MigrationSource = (*sliceSource)(nil)

func (s *sliceSource) Next() (*MigrationFile, error) {
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}
	file := s.files[s.pos]
	s.pos++
	return &file, nil
}

func (s *sliceSource) Open(p string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.data[p]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newSliceSource(paths ...string) *sliceSource {
	src := &sliceSource{data: make(map[string][]byte)}
	for _, p := range paths {
		content := []byte("content of " + p)
		src.files = append(src.files, MigrationFile{
			Path:        p,
			ContentType: detectContentType(filepath.Ext(p)),
			Size:        int64(len(content)),
			Public:      true,
		})
		src.data[p] = content
	}
	return src
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("a.txt", "img/b.png", "c.pdf")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{DryRun: true, Pause: -1})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if report.Scanned != 3 || report.Uploaded != 0 || report.Failed != 0 {
		t.Errorf("expected scanned=3 uploaded=0, got %+v", report)
	}
	if primary.uploadCalls != 0 {
		t.Error("a dry run must perform zero provider writes")
	}
	if len(report.Items) != 3 || report.Items[1].Key != "img/b.png" {
		t.Errorf("dry run must still report the intended keys, got %+v", report.Items)
	}
}

func TestMigrateUploadsAllBatches(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("a.txt", "b.txt", "c.txt", "d.txt", "e.txt")

	var progress []int
	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{
		BatchSize: 2,
		Pause:     -1,
		OnProgress: func(processed int, item MigrationItem) {
			progress = append(progress, processed)
		},
	})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if report.Uploaded != 5 || report.Failed != 0 {
		t.Fatalf("expected 5 uploads, got %+v", report)
	}
	if primary.objectCount() != 5 {
		t.Errorf("expected 5 objects on the primary, got %d", primary.objectCount())
	}
	if obj, ok := primary.object("c.txt"); !ok || string(obj.data) != "content of c.txt" {
		t.Error("migrated content does not match the source")
	}
	if len(progress) != 5 || progress[0] != 1 || progress[4] != 5 {
		t.Errorf("expected monotonic per-item progress, got %v", progress)
	}
}

func TestMigratePreservesRelativePathsAsKeys(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("2024/05/photo.png")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if report.Items[0].Key != "2024/05/photo.png" {
		t.Errorf("expected the relative path kept as key, got %s", report.Items[0].Key)
	}
	if _, ok := primary.object("2024/05/photo.png"); !ok {
		t.Error("object not stored under the preserved key")
	}
}

func TestMigrateGeneratesKeyForInvalidPath(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("bad\npath.bin")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	key := report.Items[0].Key
	if key == "bad\npath.bin" {
		t.Fatal("invalid path must not be used as key")
	}
	if err := ValidateKey(key); err != nil {
		t.Errorf("generated key violates invariants: %v", err)
	}
	if report.Uploaded != 1 {
		t.Errorf("expected the file to migrate under the generated key, got %+v", report)
	}
}

func TestMigrateFilterSkips(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("keep.png", "drop.tmp", "keep2.png")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{
		Pause: -1,
		Filter: func(f MigrationFile) bool {
			return !strings.HasSuffix(f.Path, ".tmp")
		},
	})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if report.Scanned != 3 || report.Skipped != 1 || report.Uploaded != 2 {
		t.Errorf("expected scanned=3 skipped=1 uploaded=2, got %+v", report)
	}
	if _, ok := primary.object("drop.tmp"); ok {
		t.Error("filtered file must not be uploaded")
	}
}

func TestMigratePerItemFailureContinues(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	primary.uploadErr = newError(KindAuthentication, "upload", ProviderAWSS3, "", "access denied", nil)
	primary.uploadFailures = 1
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("a.txt", "b.txt", "c.txt")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("per-item failures must not fail the run: %v", err)
	}
	if report.Failed != 1 || report.Uploaded != 2 {
		t.Fatalf("expected failed=1 uploaded=2, got %+v", report)
	}
	if report.Items[0].Error == "" || report.Items[0].Uploaded {
		t.Errorf("expected the first item to carry its failure, got %+v", report.Items[0])
	}
}

func TestMigrateReplicatesToBackup(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	backup := newFakeProvider(ProviderR2)
	svc := newTestService(primary, ServiceOptions{})
	svc.SetBackup(backup)
	src := newSliceSource("a.txt")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if !report.Items[0].Backup {
		t.Error("expected the item replicated to the backup")
	}
	if _, ok := backup.object("a.txt"); !ok {
		t.Error("backup object missing")
	}
}

func TestMigrateBackupFailureIsolatedPerItem(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	backup := newFakeProvider(ProviderR2)
	backup.uploadErr = newError(KindConnection, "upload", ProviderR2, "", "endpoint unreachable", nil)
	svc := newTestService(primary, ServiceOptions{})
	svc.SetBackup(backup)
	src := newSliceSource("a.txt")

	report, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("backup failure must not fail the run: %v", err)
	}
	item := report.Items[0]
	if !item.Uploaded || item.Backup || item.Error != "" {
		t.Errorf("expected uploaded=true backup=false with no error, got %+v", item)
	}
}

func TestMigrateHonorsCancellationBetweenBatches(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})
	src := newSliceSource("a.txt", "b.txt", "c.txt", "d.txt")

	ctx, cancel := context.WithCancel(context.Background())
	report, err := svc.MigrateFromLocal(ctx, src, MigrateOptions{
		BatchSize: 1,
		Pause:     -1,
		OnProgress: func(processed int, item MigrationItem) {
			cancel()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Uploaded != 1 {
		t.Errorf("the in-flight item completes, later batches must not start: %+v", report)
	}
}

func TestMigrateRecordsReport(t *testing.T) {
	primary := newFakeProvider(ProviderAWSS3)
	rec := &fakeRecorder{}
	svc := newTestService(primary, ServiceOptions{})
	svc.SetRecorder(rec)
	src := newSliceSource("a.txt")

	if _, err := svc.MigrateFromLocal(context.Background(), src, MigrateOptions{Pause: -1}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if len(rec.migrations) != 1 || rec.migrations[0].Uploaded != 1 {
		t.Fatalf("expected one recorded migration run, got %+v", rec.migrations)
	}
	if svc.GetStatistics().MigrationRuns != 1 {
		t.Error("expected migration_runs=1")
	}
}

func TestDirSourceEnumeratesTree(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "alpha")
	writeTestFile(t, root, "nested/b.png", "bravo")
	writeTestFile(t, root, ".meta/a.txt.json", "{}")
	writeTestFile(t, root, ".hidden", "nope")

	src := NewDirSource(root)
	var paths []string
	for {
		file, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("enumeration failed: %v", err)
		}
		paths = append(paths, file.Path)
		if file.Path == "nested/b.png" && file.ContentType != "image/png" {
			t.Errorf("expected detected content type image/png, got %s", file.ContentType)
		}
	}
	if len(paths) != 2 || paths[0] != "a.txt" || paths[1] != "nested/b.png" {
		t.Fatalf("expected hidden entries skipped, got %v", paths)
	}

	rc, err := src.Open("nested/b.png")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "bravo" {
		t.Errorf("unexpected file content: %s", data)
	}
}

func TestMigrateFromDirSource(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "media/photo.png", "pixels")

	primary := newFakeProvider(ProviderAWSS3)
	svc := newTestService(primary, ServiceOptions{})

	report, err := svc.MigrateFromLocal(context.Background(), NewDirSource(root), MigrateOptions{Pause: -1})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if report.Uploaded != 1 {
		t.Fatalf("expected one upload, got %+v", report)
	}
	obj, ok := primary.object("media/photo.png")
	if !ok || string(obj.data) != "pixels" {
		t.Error("migrated object missing or corrupted")
	}
	if !obj.public {
		t.Error("DirSource files default to public")
	}
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
