package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// metaDirName is the shadow tree holding per-object sidecar metadata.
const metaDirName = ".meta"

// localProvider persists objects on the local filesystem. Content type,
// visibility and custom metadata live in JSON sidecars under a shadow
// directory; signed URLs are HMAC tokens validated by the file-serving
// route instead of by a remote backend.
type localProvider struct {
	desc       *Descriptor
	baseDir    string
	publicBase string
	signSecret []byte
	prefix     string
}

var _ Provider = (*localProvider)(nil)
var _ LocalFileServer = (*localProvider)(nil)

// LocalFileServer is implemented by the local adapter so the HTTP layer can
// serve its objects directly and validate signed URL tokens.
type LocalFileServer interface {
	LocalBaseDir() string
	// ResolveKey maps a file-serving route path back to the logical object
	// key, undoing the configured key prefix. ok is false for paths outside
	// this provider's key space.
	ResolveKey(routePath string) (key string, ok bool)
	VerifyToken(token string) (*LocalURLClaims, error)
	IsPublic(key string) bool
}

// LocalURLClaims is the payload of a local signed URL token.
type LocalURLClaims struct {
	Key         string `json:"key"`
	Method      string `json:"method"`
	Disposition string `json:"disposition,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	jwt.RegisteredClaims
}

// localSidecar is the JSON sidecar written next to each object.
type localSidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Public      bool              `json:"public"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
}

func newLocalProvider(desc *Descriptor, cfg ProviderConfig) (*localProvider, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, configError(desc.Name, "create storage dir: %v", err)
	}

	publicBase := strings.TrimSpace(cfg.PublicBaseURL)
	if publicBase == "" {
		publicBase = "/files"
	}

	return &localProvider{
		desc:       desc,
		baseDir:    baseDir,
		publicBase: strings.TrimRight(publicBase, "/"),
		signSecret: []byte(strings.TrimSpace(cfg.SignSecret)),
		prefix:     trimPrefix(cfg.Prefix),
	}, nil
}

func (p *localProvider) Name() string { return p.desc.Name }

func (p *localProvider) Capabilities() Capabilities { return p.desc.Capabilities }

// LocalBaseDir returns the root directory objects are stored under.
func (p *localProvider) LocalBaseDir() string { return p.baseDir }

func (p *localProvider) wireKey(key string) string {
	return joinPrefix(p.prefix, key)
}

func (p *localProvider) logicalKey(wire string) string {
	if p.prefix == "" {
		return wire
	}
	return strings.TrimPrefix(wire, p.prefix+"/")
}

// objectPath resolves key inside baseDir, rejecting traversal outside it.
func (p *localProvider) objectPath(key string) (string, error) {
	wire := p.wireKey(key)
	clean := path.Clean("/" + wire)
	if clean == "/" || strings.HasPrefix(clean, "/"+metaDirName) {
		return "", validationError("resolve_path", key, "invalid object key")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (p *localProvider) sidecarPath(key string) string {
	return filepath.Join(p.baseDir, metaDirName, filepath.FromSlash(p.wireKey(key))+".json")
}

func (p *localProvider) Upload(ctx context.Context, input UploadInput) (*UploadInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	absPath, err := p.objectPath(input.Key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, newError(KindUpload, "upload", p.desc.Name, input.Key, "create dir", err)
	}
	if err := os.WriteFile(absPath, input.Data, 0o644); err != nil {
		return nil, newError(KindUpload, "upload", p.desc.Name, input.Key, "write file", err)
	}

	sum := md5.Sum(input.Data)
	etag := hex.EncodeToString(sum[:])

	sidecar := localSidecar{
		ContentType: input.ContentType,
		ETag:        etag,
		Public:      input.Public,
		Metadata:    input.Metadata,
		Tags:        input.Tags,
		UploadedAt:  time.Now().UTC(),
	}
	if err := p.writeSidecar(input.Key, sidecar); err != nil {
		// Content type and visibility live only in the sidecar; fail the
		// upload rather than leave an object the engine cannot describe.
		return nil, newError(KindUpload, "upload", p.desc.Name, input.Key, "write metadata sidecar", err)
	}

	return &UploadInfo{
		Key:  input.Key,
		ETag: etag,
		Size: int64(len(input.Data)),
		URL:  p.PublicURL(input.Key),
	}, nil
}

func (p *localProvider) writeSidecar(key string, sidecar localSidecar) error {
	scPath := p.sidecarPath(key)
	if err := os.MkdirAll(filepath.Dir(scPath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(sidecar)
	if err != nil {
		return err
	}
	return os.WriteFile(scPath, data, 0o644)
}

func (p *localProvider) readSidecar(key string) (*localSidecar, bool) {
	data, err := os.ReadFile(p.sidecarPath(key))
	if err != nil {
		return nil, false
	}
	var sidecar localSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, false
	}
	return &sidecar, true
}

func (p *localProvider) Download(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	absPath, err := p.objectPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundError("download", p.desc.Name, key, err)
		}
		return nil, newError(KindUnknown, "download", p.desc.Name, key, "read file", err)
	}
	return data, nil
}

func (p *localProvider) Delete(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	absPath, err := p.objectPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(absPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, newError(KindDelete, "delete", p.desc.Name, key, "remove file", err)
	}
	// Sidecar removal is best-effort; a stale sidecar is overwritten on the
	// next upload under the same key.
	_ = os.Remove(p.sidecarPath(key))
	return true, nil
}

func (p *localProvider) Exists(ctx context.Context, key string) (bool, error) {
	absPath, err := p.objectPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, newError(KindUnknown, "exists", p.desc.Name, key, "stat file", err)
	}
	return !info.IsDir(), nil
}

func (p *localProvider) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	absPath, err := p.objectPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundError("get_metadata", p.desc.Name, key, err)
		}
		return nil, newError(KindUnknown, "get_metadata", p.desc.Name, key, "stat file", err)
	}

	meta := &ObjectMetadata{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}
	if sidecar, ok := p.readSidecar(key); ok {
		meta.ContentType = sidecar.ContentType
		meta.ETag = sidecar.ETag
		meta.Metadata = sidecar.Metadata
	}
	if meta.ContentType == "" {
		meta.ContentType = detectContentType(path.Ext(key))
	}
	if meta.ETag == "" {
		// Objects placed on disk outside the engine have no recorded ETag;
		// derive one from content so sync comparisons still work.
		data, err := os.ReadFile(absPath)
		if err == nil {
			sum := md5.Sum(data)
			meta.ETag = hex.EncodeToString(sum[:])
		}
	}
	return meta, nil
}

func (p *localProvider) List(ctx context.Context, opts ListOptions) (*ObjectPage, error) {
	max := opts.MaxKeys
	if max <= 0 {
		max = defaultListPageSize
	}

	var keys []string
	err := filepath.WalkDir(p.baseDir, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == metaDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, fullPath)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, newError(KindUnknown, "list", p.desc.Name, opts.Prefix, "walk directory", err)
	}
	sort.Strings(keys)

	wirePrefix := joinPrefix(p.prefix, opts.Prefix)
	page := &ObjectPage{}
	var lastWire string
	for _, wire := range keys {
		if wirePrefix != "" && !strings.HasPrefix(wire, wirePrefix) {
			continue
		}
		if opts.ContinuationToken != "" && wire <= opts.ContinuationToken {
			continue
		}
		if int32(len(page.Objects)) >= max {
			page.Truncated = true
			page.ContinuationToken = lastWire
			break
		}
		key := p.logicalKey(wire)
		meta, err := p.GetMetadata(ctx, key)
		if err != nil {
			continue
		}
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          key,
			Size:         meta.Size,
			ETag:         meta.ETag,
			LastModified: meta.LastModified,
		})
		lastWire = wire
	}
	return page, nil
}

func (p *localProvider) SignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	if len(p.signSecret) == 0 {
		return "", configError(p.desc.Name, "signed URL requires local_sign_secret")
	}

	expires := opts.ExpiresIn
	if expires <= 0 {
		expires = DefaultSignExpiry
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = "GET"
	}
	if method != "GET" && method != "PUT" {
		return "", validationError("sign_url", key, "unsupported sign method %q", opts.Method)
	}

	now := time.Now().UTC()
	claims := LocalURLClaims{
		Key:         key,
		Method:      method,
		Disposition: opts.ResponseDisposition,
		ContentType: opts.ResponseContentType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expires)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.signSecret)
	if err != nil {
		return "", newError(KindUnknown, "sign_url", p.desc.Name, key, "sign token", err)
	}
	return fmt.Sprintf("%s?token=%s", p.PublicURL(key), url.QueryEscape(signed)), nil
}

// ResolveKey maps a /files route path back to the logical object key.
func (p *localProvider) ResolveKey(routePath string) (string, bool) {
	clean := path.Clean("/" + strings.TrimSpace(routePath))
	if clean == "/" || strings.HasPrefix(clean, "/"+metaDirName) {
		return "", false
	}
	wire := strings.TrimPrefix(clean, "/")
	if p.prefix != "" && !strings.HasPrefix(wire, p.prefix+"/") {
		return "", false
	}
	return p.logicalKey(wire), true
}

// VerifyToken validates a signed URL token and returns its claims.
func (p *localProvider) VerifyToken(tokenString string) (*LocalURLClaims, error) {
	if len(p.signSecret) == 0 {
		return nil, configError(p.desc.Name, "signed URL requires local_sign_secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &LocalURLClaims{}, func(*jwt.Token) (interface{}, error) {
		return p.signSecret, nil
	})
	if err != nil {
		return nil, newError(KindAuthentication, "verify_token", p.desc.Name, "", "invalid token", err)
	}
	claims, ok := token.Claims.(*LocalURLClaims)
	if !ok || !token.Valid {
		return nil, newError(KindAuthentication, "verify_token", p.desc.Name, "", "invalid token claims", nil)
	}
	return claims, nil
}

// IsPublic reports the stored visibility of key. Objects without a sidecar
// (placed on disk outside the engine) default to public.
func (p *localProvider) IsPublic(key string) bool {
	if sidecar, ok := p.readSidecar(key); ok {
		return sidecar.Public
	}
	return true
}

func (p *localProvider) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", p.publicBase, strings.TrimLeft(p.wireKey(key), "/"))
}

func (p *localProvider) TestConnection(ctx context.Context) error {
	info, err := os.Stat(p.baseDir)
	if err != nil {
		return newError(KindConnection, "test_connection", p.desc.Name, "", "base directory unreachable", err)
	}
	if !info.IsDir() {
		return newError(KindConnection, "test_connection", p.desc.Name, "", fmt.Sprintf("%s is not a directory", p.baseDir), errors.New("not a directory"))
	}
	return nil
}
