package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mediastore/internal/storage"
)

const testConnectionTimeout = 30 * time.Second

// GetStorageStats 返回存储引擎运行计数器
func (h *HTTPHandler) GetStorageStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.engine.GetStatistics()})
}

// TestConnection 用请求体里的配置做一次只读连通性探测。
// 探测结果始终以 200 返回，成败在 result.ok 里体现。
func (h *HTTPHandler) TestConnection(c *gin.Context) {
	var payload storage.ProviderConfig
	if err := c.ShouldBindJSON(&payload); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), testConnectionTimeout)
	defer cancel()

	result := storage.TestProviderConfig(ctx, payload)
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetStorageSettings 返回当前存储配置，密钥类字段脱敏
func (h *HTTPHandler) GetStorageSettings(c *gin.Context) {
	settings := gin.H{
		"provider":        h.cfg.StorageProvider,
		"key_layout":      h.cfg.StorageKeyLayout,
		"max_upload_size": h.cfg.UploadMaxBytes,
		"optimize_images": h.cfg.OptimizeImages,
		"private_mode":    h.cfg.URLPrivate,
		"default_expiry":  h.cfg.URLDefaultExpiry.String(),
	}
	if h.cfg.StorageBackupProvider != "" {
		settings["backup_provider"] = h.cfg.StorageBackupProvider
	}
	if h.cfg.StorageKeyTemplate != "" {
		settings["key_template"] = h.cfg.StorageKeyTemplate
	}
	if len(h.cfg.UploadAllowedExtensions) > 0 {
		settings["allowed_extensions"] = h.cfg.UploadAllowedExtensions
	}

	if pc, ok := h.cfg.ProviderConfigFor(h.cfg.StorageProvider); ok {
		settings["primary"] = redactedProviderView(pc)
	}
	if h.cfg.StorageBackupProvider != "" {
		if pc, ok := h.cfg.ProviderConfigFor(h.cfg.StorageBackupProvider); ok {
			settings["backup"] = redactedProviderView(pc)
		}
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type migrateRequest struct {
	SourceDir string `json:"source_dir"`
	BatchSize int    `json:"batch_size"`
	DryRun    bool   `json:"dry_run"`
	PauseMS   int    `json:"pause_ms"`
	Public    *bool  `json:"public"`
}

// MigrateStorage 把本地目录树迁入当前主存储
func (h *HTTPHandler) MigrateStorage(c *gin.Context) {
	var payload migrateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		InvalidPayload(c)
		return
	}

	dir := strings.TrimSpace(payload.SourceDir)
	if dir == "" {
		MissingField(c, "source_dir")
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		BadRequest(c, ErrCodeInvalidRequest, "source_dir 不是有效目录")
		return
	}

	source := storage.NewDirSource(dir)
	if payload.Public != nil {
		source.Public = *payload.Public
	}
	opts := storage.MigrateOptions{
		BatchSize: payload.BatchSize,
		DryRun:    payload.DryRun,
	}
	if payload.PauseMS > 0 {
		opts.Pause = time.Duration(payload.PauseMS) * time.Millisecond
	}

	// 迁移按批推进，单次提供者调用的超时由引擎控制
	report, err := h.engine.MigrateFromLocal(c.Request.Context(), source, opts)
	if err != nil {
		if report != nil {
			storageErrorWithReport(c, err, report)
		} else {
			StorageError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

type syncRequest struct {
	Direction string `json:"direction"`
	DryRun    bool   `json:"dry_run"`
	Prefix    string `json:"prefix"`
	MaxKeys   int32  `json:"max_keys"`
}

// SyncStorage 在主备存储之间做一次对账
func (h *HTTPHandler) SyncStorage(c *gin.Context) {
	var payload syncRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		InvalidPayload(c)
		return
	}

	opts := storage.SyncOptions{
		Direction: storage.SyncDirection(strings.TrimSpace(payload.Direction)),
		DryRun:    payload.DryRun,
		Prefix:    strings.TrimSpace(payload.Prefix),
		MaxKeys:   payload.MaxKeys,
	}

	report, err := h.engine.SyncProviders(c.Request.Context(), opts)
	if err != nil {
		if report != nil {
			storageErrorWithReport(c, err, report)
		} else {
			StorageError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// storageErrorWithReport 在长任务中断时把已完成的部分随错误一起返回
func storageErrorWithReport(c *gin.Context, err error, report any) {
	status, code := storageErrorStatus(err)
	ErrorResponseWithDetails(c, status, code, storage.Redact(err.Error()), report)
}

// redactedProviderView 生成脱敏后的提供者配置视图
func redactedProviderView(pc storage.ProviderConfig) gin.H {
	view := gin.H{"provider": pc.Provider}
	if pc.Endpoint != "" {
		view["endpoint"] = pc.Endpoint
	}
	if pc.Region != "" {
		view["region"] = pc.Region
	}
	if pc.Bucket != "" {
		view["bucket"] = pc.Bucket
	}
	if pc.BucketURL != "" {
		view["bucket_url"] = pc.BucketURL
	}
	if pc.Prefix != "" {
		view["prefix"] = pc.Prefix
	}
	if pc.BaseDir != "" {
		view["base_dir"] = pc.BaseDir
	}
	if pc.PublicBaseURL != "" {
		view["public_base_url"] = pc.PublicBaseURL
	}
	if pc.AccountID != "" {
		view["account_id"] = maskSecret(pc.AccountID)
	}
	if pc.AccessKeyID != "" {
		view["access_key_id"] = maskSecret(pc.AccessKeyID)
	}
	if pc.SecretAccessKey != "" {
		view["secret_access_key"] = "***"
	}
	if pc.SessionToken != "" {
		view["session_token"] = "***"
	}
	if pc.SignSecret != "" {
		view["sign_secret"] = "***"
	}
	return view
}

// maskSecret 保留前四位便于辨认，其余掩去
func maskSecret(value string) string {
	if len(value) <= 4 {
		return "***"
	}
	return value[:4] + "***"
}
