package storage

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key layout policies.
const (
	LayoutFlat   = "flat"
	LayoutDate   = "date"
	LayoutType   = "type"
	LayoutUser   = "user"
	LayoutCustom = "custom"
)

// File categories used by the type layout and the cache-control tiers.
const (
	CategoryImages    = "images"
	CategoryVideos    = "videos"
	CategoryAudio     = "audio"
	CategoryDocuments = "documents"
	CategoryArchives  = "archives"
	CategoryFiles     = "files"
)

var categoryByExt = map[string]string{
	"jpg": CategoryImages, "jpeg": CategoryImages, "png": CategoryImages,
	"gif": CategoryImages, "webp": CategoryImages, "svg": CategoryImages,
	"bmp": CategoryImages, "ico": CategoryImages, "avif": CategoryImages,
	"tiff": CategoryImages, "heic": CategoryImages,

	"mp4": CategoryVideos, "webm": CategoryVideos, "mov": CategoryVideos,
	"avi": CategoryVideos, "mkv": CategoryVideos, "m4v": CategoryVideos,
	"mpeg": CategoryVideos, "mpg": CategoryVideos,

	"mp3": CategoryAudio, "wav": CategoryAudio, "ogg": CategoryAudio,
	"flac": CategoryAudio, "aac": CategoryAudio, "m4a": CategoryAudio,
	"opus": CategoryAudio, "wma": CategoryAudio,

	"pdf": CategoryDocuments, "doc": CategoryDocuments, "docx": CategoryDocuments,
	"xls": CategoryDocuments, "xlsx": CategoryDocuments, "ppt": CategoryDocuments,
	"pptx": CategoryDocuments, "txt": CategoryDocuments, "md": CategoryDocuments,
	"csv": CategoryDocuments, "rtf": CategoryDocuments, "odt": CategoryDocuments,

	"zip": CategoryArchives, "tar": CategoryArchives, "gz": CategoryArchives,
	"tgz": CategoryArchives, "rar": CategoryArchives, "7z": CategoryArchives,
	"bz2": CategoryArchives, "xz": CategoryArchives,
}

var fontExts = map[string]bool{
	"woff": true, "woff2": true, "ttf": true, "otf": true, "eot": true,
}

var codeExts = map[string]bool{
	"css": true, "js": true, "mjs": true,
}

// FileDescriptor carries what the key generator needs to know about an
// incoming file.
type FileDescriptor struct {
	OriginalName string
	ContentType  string
	UploaderID   string
}

// KeyManager generates collision-free object keys under the configured
// layout. Generation never fails: degenerate input or a template producing
// an invalid key falls back to a minimal files/{timestamp}-{random}.bin key.
type KeyManager struct {
	layout   string
	template string

	now  func() time.Time
	rand func() string
}

// NewKeyManager builds a KeyManager for the given layout. Unknown layouts
// fall back to the date layout. template is only consulted by LayoutCustom.
func NewKeyManager(layout, template string) *KeyManager {
	switch layout {
	case LayoutFlat, LayoutDate, LayoutType, LayoutUser, LayoutCustom:
	default:
		layout = LayoutDate
	}
	return &KeyManager{
		layout:   layout,
		template: template,
		now:      time.Now,
		rand:     shortToken,
	}
}

// shortToken returns an 8-character uniqueness token.
func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// GenerateKey builds the object key for fd: sanitized base name plus a
// timestamp and random token, under the layout folder.
func (m *KeyManager) GenerateKey(fd FileDescriptor) string {
	now := m.now().UTC()
	ext := normalizeExtension(path.Ext(fd.OriginalName))
	base := sanitizeFileBase(strings.TrimSuffix(path.Base(fd.OriginalName), path.Ext(fd.OriginalName)))
	if base == "" {
		base = "file"
	}
	filename := fmt.Sprintf("%s-%d-%s.%s", base, now.UnixMilli(), m.rand(), ext)
	key := path.Join(m.folderFor(now, fd), filename)
	if err := ValidateKey(key); err != nil {
		return m.fallbackKey(now)
	}
	return key
}

func (m *KeyManager) fallbackKey(now time.Time) string {
	return fmt.Sprintf("files/%d-%s.bin", now.UnixMilli(), m.rand())
}

func (m *KeyManager) folderFor(now time.Time, fd FileDescriptor) string {
	switch m.layout {
	case LayoutFlat:
		return ""
	case LayoutDate:
		return fmt.Sprintf("%04d/%02d", now.Year(), now.Month())
	case LayoutType:
		return ClassifyFile(fd.OriginalName, fd.ContentType)
	case LayoutUser:
		return path.Join("users", userSegment(fd.UploaderID))
	case LayoutCustom:
		return m.expandTemplate(now, fd)
	}
	return ""
}

func (m *KeyManager) expandTemplate(now time.Time, fd FileDescriptor) string {
	replacer := strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", now.Year()),
		"{month}", fmt.Sprintf("%02d", int(now.Month())),
		"{day}", fmt.Sprintf("%02d", now.Day()),
		"{type}", ClassifyFile(fd.OriginalName, fd.ContentType),
		"{userId}", userSegment(fd.UploaderID),
		"{timestamp}", fmt.Sprintf("%d", now.Unix()),
	)
	return trimPrefix(replacer.Replace(m.template))
}

func userSegment(uploaderID string) string {
	user := sanitizePathSegment(uploaderID)
	if user == "" {
		return "anonymous"
	}
	return user
}

// ClassifyFile buckets a file into one of the layout categories, preferring
// the extension and falling back to the declared content type.
func ClassifyFile(name, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if category, ok := categoryByExt[ext]; ok {
		return category
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return CategoryImages
	case strings.HasPrefix(contentType, "video/"):
		return CategoryVideos
	case strings.HasPrefix(contentType, "audio/"):
		return CategoryAudio
	}
	return CategoryFiles
}

// ValidateKey enforces the object key invariants shared by every backend:
// non-empty, at most MaxKeyLength bytes, no control bytes, no surrounding
// whitespace.
func ValidateKey(key string) error {
	if key == "" {
		return validationError("validate_key", key, "object key is empty")
	}
	if len(key) > MaxKeyLength {
		return validationError("validate_key", key[:64], "object key exceeds %d bytes", MaxKeyLength)
	}
	if strings.ContainsAny(key, "\r\n\x00") {
		return validationError("validate_key", "", "object key contains control characters")
	}
	if strings.TrimSpace(key) != key {
		return validationError("validate_key", key, "object key has leading or trailing whitespace")
	}
	return nil
}

// CacheControlFor maps a key's extension onto its cache lifetime tier.
func CacheControlFor(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if fontExts[ext] || categoryByExt[ext] == CategoryImages {
		return "public, max-age=31536000, immutable"
	}
	if codeExts[ext] {
		return "public, max-age=2592000"
	}
	switch categoryByExt[ext] {
	case CategoryVideos:
		return "public, max-age=604800"
	case CategoryAudio:
		return "public, max-age=259200"
	case CategoryDocuments:
		return "public, max-age=86400"
	}
	return "public, max-age=3600"
}

// variantKey derives the key of a named image variant:
// media/a.png + thumbnail -> media/a-thumbnail.png.
func variantKey(key, variant string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + "-" + variant + ext
}

func sanitizePathSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(len(value))
	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			builder.WriteByte(ch)
		case ch >= 'A' && ch <= 'Z':
			builder.WriteByte(ch + 32)
		case ch == '-', ch == '_':
			builder.WriteByte(ch)
		}
	}
	return builder.String()
}

func normalizeExtension(ext string) string {
	trimmed := strings.TrimSpace(ext)
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return "bin"
	}
	sanitized := sanitizePathSegment(trimmed)
	if sanitized == "" {
		return "bin"
	}
	return sanitized
}

// sanitizeFileBase normalizes a user-supplied file base name: spaces become
// dashes, anything outside [a-z0-9-_] is dropped, dash runs collapse.
func sanitizeFileBase(value string) string {
	replaced := strings.ReplaceAll(strings.TrimSpace(value), " ", "-")
	sanitized := sanitizePathSegment(replaced)
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	return strings.Trim(sanitized, "-_")
}

func detectContentType(ext string) string {
	normalized := normalizeExtension(ext)
	typeName := mime.TypeByExtension("." + normalized)
	if typeName == "" {
		return "application/octet-stream"
	}
	return typeName
}

func joinPrefix(prefix, key string) string {
	cleanPrefix := trimPrefix(prefix)
	if cleanPrefix == "" {
		return strings.TrimLeft(key, "/")
	}
	return path.Join(cleanPrefix, strings.TrimLeft(key, "/"))
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
