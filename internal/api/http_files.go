package api

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServeLocalFile 提供本地存储的文件访问。公开对象直接返回，
// 私有对象必须携带有效的签名 token。
func (h *HTTPHandler) ServeLocalFile(c *gin.Context) {
	if h.files == nil {
		NotFound(c, ErrCodeNotFound, "本地文件服务未启用")
		return
	}

	routePath := c.Param("path")
	key, ok := h.files.ResolveKey(routePath)
	if !ok {
		NotFound(c, ErrCodeNotFound, "文件不存在")
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if !h.files.IsPublic(key) {
			Unauthorized(c, "该文件需要签名访问")
			return
		}
	} else {
		claims, err := h.files.VerifyToken(token)
		if err != nil {
			Unauthorized(c, "签名无效或已过期")
			return
		}
		if claims.Key != key {
			Forbidden(c, "签名与请求的文件不匹配")
			return
		}
		if claims.Method != "" && claims.Method != http.MethodGet {
			Forbidden(c, "签名不允许该操作")
			return
		}
		if claims.ContentType != "" {
			c.Header("Content-Type", claims.ContentType)
		}
		if claims.Disposition != "" {
			c.Header("Content-Disposition", claims.Disposition)
		}
	}

	clean := path.Clean("/" + strings.TrimPrefix(routePath, "/"))
	full := filepath.Join(h.files.LocalBaseDir(), filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	c.File(full)
}
