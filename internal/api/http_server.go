package api

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mediastore/internal/config"
	"mediastore/internal/storage"
)

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg    config.Config
	engine *storage.Service

	// files 仅在主存储是本地提供者时设置，用于 /files 路由
	files storage.LocalFileServer
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, engine *storage.Service) *HTTPHandler {
	handler := &HTTPHandler{
		cfg:    cfg,
		engine: engine,
	}
	if files, ok := engine.Primary().(storage.LocalFileServer); ok {
		handler.files = files
	}
	return handler
}

// RegisterRoutes 注册存储相关的全部路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	storageGroup := r.Group("/api/storage")
	storageGroup.POST("/upload", h.UploadObject)
	storageGroup.POST("/import", h.ImportObject)
	storageGroup.DELETE("/objects/*key", h.DeleteObject)
	storageGroup.GET("/objects/*key", h.GetObjectMetadata)
	storageGroup.GET("/url", h.GenerateURL)
	storageGroup.GET("/download-url", h.GenerateDownloadURL)
	storageGroup.POST("/urls/batch", h.BatchGenerateURLs)

	adminGroup := r.Group("/api/admin/storage")
	adminGroup.GET("/stats", h.GetStorageStats)
	adminGroup.POST("/test-connection", h.TestConnection)
	adminGroup.GET("/settings", h.GetStorageSettings)
	adminGroup.POST("/migrate", h.MigrateStorage)
	adminGroup.POST("/sync", h.SyncStorage)

	// 本地提供者时注册文件服务路由，路径前缀跟随公共 URL 配置
	if h.files != nil {
		prefix := strings.TrimSpace(h.cfg.StoragePublicBaseURL)
		if prefix == "" {
			prefix = "/files"
		}
		if !strings.HasPrefix(prefix, "http://") && !strings.HasPrefix(prefix, "https://") {
			if !strings.HasPrefix(prefix, "/") {
				prefix = "/" + prefix
			}
			r.GET(path.Join(prefix, "*path"), h.ServeLocalFile)
		}
	}
}

// parseBoolParam 解析布尔参数，空值或无效值返回默认值
func parseBoolParam(raw string, fallback bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return value
}

// parseIntParam 解析非负整数参数，无效值返回 0
func parseIntParam(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// parseDurationParam 解析时长参数。纯数字按秒处理，其余按 Go 时长格式
// （如 15m、2h）解析。空值返回 ok=false。
func parseDurationParam(raw string) (time.Duration, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false, nil
	}
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(seconds) * time.Second, true, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}
