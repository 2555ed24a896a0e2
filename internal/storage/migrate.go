package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultMigrateBatchSize is the number of files moved per batch when the
	// caller does not choose one.
	defaultMigrateBatchSize = 20
	// defaultMigratePause is the inter-batch pause bounding burst load on
	// the target backend.
	defaultMigratePause = 250 * time.Millisecond
)

// MigrationFile describes one file offered by a migration source.
type MigrationFile struct {
	// Path is the source-relative path, forward slashes. It becomes the
	// object key when it satisfies the key invariants.
	Path        string
	ContentType string
	Size        int64
	Public      bool
}

// MigrationSource enumerates the files to migrate and opens their content.
// Next returns io.EOF when the enumeration is exhausted.
type MigrationSource interface {
	Next() (*MigrationFile, error)
	Open(path string) (io.ReadCloser, error)
}

// MigrateOptions bound one migration run.
type MigrateOptions struct {
	// BatchSize is the number of files per batch. Zero uses the default.
	BatchSize int
	// DryRun enumerates and reports without writing anything.
	DryRun bool
	// Filter, when set, selects which files migrate. Files it rejects are
	// counted as skipped.
	Filter func(MigrationFile) bool
	// OnProgress is invoked after each processed file with the running
	// count and the item's outcome.
	OnProgress func(processed int, item MigrationItem)
	// Pause is the delay between batches. Zero uses the default; negative
	// disables the pause.
	Pause time.Duration
}

// MigrationItem is the outcome of one migrated file.
type MigrationItem struct {
	Path     string `json:"path"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Backup   bool   `json:"backup,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MigrationReport describes what a run scanned, moved, skipped and failed.
// Failures are per-item; the run keeps going past them.
type MigrationReport struct {
	DryRun     bool            `json:"dry_run"`
	Scanned    int             `json:"scanned"`
	Skipped    int             `json:"skipped"`
	Uploaded   int             `json:"uploaded"`
	Failed     int             `json:"failed"`
	Items      []MigrationItem `json:"items,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// MigrateFromLocal streams the source's files into the primary provider (and
// the backup when configured) in fixed-size batches. Cancellation is checked
// between batches; the in-flight file completes first. A dry run reports the
// intended actions and writes nothing.
func (s *Service) MigrateFromLocal(ctx context.Context, source MigrationSource, opts MigrateOptions) (*MigrationReport, error) {
	if source == nil {
		return nil, validationError("migrate", "", "migration source is nil")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultMigrateBatchSize
	}
	pause := opts.Pause
	if pause == 0 {
		pause = defaultMigratePause
	}

	report := &MigrationReport{DryRun: opts.DryRun}
	start := time.Now()
	processed := 0

	finish := func(err error) (*MigrationReport, error) {
		report.DurationMS = time.Since(start).Milliseconds()
		s.stats.migrationRuns.Add(1)
		s.recordMigration(*report)
		logrus.WithFields(logrus.Fields{
			"dry_run":  report.DryRun,
			"scanned":  report.Scanned,
			"uploaded": report.Uploaded,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
		}).Info("migration finished")
		return report, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		batch, srcErr := nextMigrationBatch(source, batchSize)
		for _, file := range batch {
			report.Scanned++
			if opts.Filter != nil && !opts.Filter(file) {
				report.Skipped++
				continue
			}

			item := s.migrateFile(ctx, source, file, opts.DryRun)
			if item.Error != "" {
				report.Failed++
			} else if item.Uploaded {
				report.Uploaded++
			}
			report.Items = append(report.Items, item)
			processed++
			if opts.OnProgress != nil {
				opts.OnProgress(processed, item)
			}
		}

		if srcErr != nil {
			if errors.Is(srcErr, io.EOF) {
				return finish(nil)
			}
			return finish(srcErr)
		}

		if pause > 0 {
			select {
			case <-ctx.Done():
				return finish(ctx.Err())
			case <-time.After(pause):
			}
		}
	}
}

// nextMigrationBatch reads up to n files from the source. The returned error
// is io.EOF once the source is exhausted; the partial batch is still valid.
func nextMigrationBatch(source MigrationSource, n int) ([]MigrationFile, error) {
	batch := make([]MigrationFile, 0, n)
	for len(batch) < n {
		file, err := source.Next()
		if err != nil {
			return batch, err
		}
		if file == nil {
			return batch, io.EOF
		}
		batch = append(batch, *file)
	}
	return batch, nil
}

func (s *Service) migrateFile(ctx context.Context, source MigrationSource, file MigrationFile, dryRun bool) MigrationItem {
	item := MigrationItem{Path: file.Path, Size: file.Size}
	item.Key = s.migrationKey(file.Path)

	if dryRun {
		return item
	}

	rc, err := source.Open(file.Path)
	if err != nil {
		item.Error = Redact(err.Error())
		return item
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		item.Error = Redact(err.Error())
		return item
	}
	item.Size = int64(len(data))

	contentType := file.ContentType
	if contentType == "" {
		contentType = detectContentType(path.Ext(file.Path))
	}

	input := UploadInput{
		Key:          item.Key,
		Data:         data,
		ContentType:  contentType,
		CacheControl: CacheControlFor(item.Key),
		Public:       file.Public,
	}

	if _, _, err := s.uploadWithRetry(ctx, s.primary, input); err != nil {
		item.Error = Redact(err.Error())
		return item
	}
	item.Uploaded = true

	if s.backup != nil {
		if berr := s.replicate(ctx, input); berr != nil {
			s.stats.backupFailures.Add(1)
			logrus.WithError(berr).WithFields(logrus.Fields{
				"key":      item.Key,
				"provider": s.backup.Name(),
			}).Warn("backup upload failed during migration")
		} else {
			item.Backup = true
		}
	}
	return item
}

// migrationKey keeps the source-relative path as the object key when it
// satisfies the key invariants, so existing references stay valid after the
// move. Anything else gets a generated key.
func (s *Service) migrationKey(p string) string {
	key := strings.TrimLeft(path.Clean(filepath.ToSlash(p)), "/")
	if key != "." && !strings.Contains(key, "..") {
		if err := ValidateKey(key); err == nil {
			return key
		}
	}
	return s.keys.GenerateKey(FileDescriptor{OriginalName: path.Base(p)})
}

// DirSource walks a directory tree as a MigrationSource. Hidden entries
// (dot-prefixed, including the local provider's sidecar tree) are skipped.
type DirSource struct {
	root string
	// Public marks every enumerated file public. Local trees are typically
	// served without access control, so it defaults to true.
	Public bool

	files  []MigrationFile
	pos    int
	walked bool
	err    error
}

var _ MigrationSource = (*DirSource)(nil)

// NewDirSource enumerates root recursively.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root, Public: true}
}

// Next returns the next file, walking the tree on first use.
func (d *DirSource) Next() (*MigrationFile, error) {
	if !d.walked {
		d.walk()
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.pos >= len(d.files) {
		return nil, io.EOF
	}
	file := d.files[d.pos]
	d.pos++
	return &file, nil
}

// Open resolves path under the source root, rejecting traversal outside it.
func (d *DirSource) Open(p string) (io.ReadCloser, error) {
	full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (d *DirSource) walk() {
	d.walked = true
	d.err = filepath.WalkDir(d.root, func(fullPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(entry.Name(), ".") && fullPath != d.root {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, fullPath)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		d.files = append(d.files, MigrationFile{
			Path:        relSlash,
			ContentType: detectContentType(path.Ext(relSlash)),
			Size:        info.Size(),
			Public:      d.Public,
		})
		return nil
	})
}

func (d *DirSource) resolve(p string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(p))
	if clean == "/" {
		return "", validationError("migrate_open", p, "empty path")
	}
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
