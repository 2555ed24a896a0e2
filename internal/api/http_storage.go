package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediastore/internal/storage"
)

const (
	// urlTimeout 限制 URL 生成类请求。缓存命中应在毫秒级返回，
	// 未命中时签名也只是本地计算。
	urlTimeout = 10 * time.Second
	// maxBatchURLKeys 限制批量 URL 请求的键数量
	maxBatchURLKeys = 256
)

// UploadObject 处理 multipart 文件上传
func (h *HTTPHandler) UploadObject(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		MissingField(c, "file")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		logrus.WithError(err).Error("failed to open uploaded file")
		InternalError(c, "读取上传文件失败")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		logrus.WithError(err).Error("failed to read uploaded file")
		InternalError(c, "读取上传文件失败")
		return
	}

	req := storage.UploadRequest{
		Data:         data,
		FileName:     fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		Key:          strings.TrimSpace(c.PostForm("key")),
		UploaderID:   strings.TrimSpace(c.PostForm("uploader_id")),
		Public:       parseBoolParam(c.PostForm("public"), true),
		SkipOptimize: parseBoolParam(c.PostForm("skip_optimize"), false),
	}
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			BadRequest(c, ErrCodeInvalidRequest, "metadata 必须是 JSON 对象")
			return
		}
	}
	if raw := strings.TrimSpace(c.PostForm("tags")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Tags); err != nil {
			BadRequest(c, ErrCodeInvalidRequest, "tags 必须是 JSON 对象")
			return
		}
	}

	result, err := h.engine.Upload(c.Request.Context(), req)
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"object": result})
}

// DeleteObject 删除对象。键不存在时返回 deleted=false 而非错误。
func (h *HTTPHandler) DeleteObject(c *gin.Context) {
	key := objectKeyParam(c)
	if key == "" {
		MissingField(c, "key")
		return
	}

	result, err := h.engine.Delete(c.Request.Context(), key)
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetObjectMetadata 查询对象元数据
func (h *HTTPHandler) GetObjectMetadata(c *gin.Context) {
	key := objectKeyParam(c)
	if key == "" {
		MissingField(c, "key")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), urlTimeout)
	defer cancel()

	meta, err := h.engine.GetMetadata(ctx, key)
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": meta})
}

// GenerateURL 生成访问 URL，支持图片变换参数和命名变体
func (h *HTTPHandler) GenerateURL(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		MissingField(c, "key")
		return
	}

	opts := storage.URLOptions{
		Private:   parseBoolParam(c.Query("private"), false),
		Transform: parseTransformParams(c),
	}
	expiresIn, ok, err := parseDurationParam(c.Query("expires_in"))
	if err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "expires_in 格式无效")
		return
	}
	if ok {
		opts.ExpiresIn = expiresIn
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), urlTimeout)
	defer cancel()

	var url string
	if variant := strings.TrimSpace(c.Query("variant")); variant != "" {
		url, err = h.engine.GenerateVariantURL(ctx, key, variant, opts)
	} else {
		url, err = h.engine.GenerateURL(ctx, key, opts)
	}
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url})
}

// GenerateDownloadURL 生成强制下载的签名 URL
func (h *HTTPHandler) GenerateDownloadURL(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		MissingField(c, "key")
		return
	}
	filename := strings.TrimSpace(c.Query("filename"))

	expiresIn, _, err := parseDurationParam(c.Query("expires_in"))
	if err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "expires_in 格式无效")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), urlTimeout)
	defer cancel()

	url, err := h.engine.GenerateDownloadURL(ctx, key, filename, expiresIn)
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url})
}

type batchURLRequest struct {
	Keys      []string          `json:"keys"`
	Private   bool              `json:"private"`
	ExpiresIn string            `json:"expires_in"`
	Transform storage.Transform `json:"transform"`
}

// BatchGenerateURLs 批量生成 URL，结果顺序与请求键顺序一致
func (h *HTTPHandler) BatchGenerateURLs(c *gin.Context) {
	var payload batchURLRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		InvalidPayload(c)
		return
	}
	if len(payload.Keys) == 0 {
		MissingField(c, "keys")
		return
	}
	if len(payload.Keys) > maxBatchURLKeys {
		BadRequest(c, ErrCodeInvalidRequest, fmt.Sprintf("一次最多处理 %d 个键", maxBatchURLKeys))
		return
	}

	opts := storage.URLOptions{
		Private:   payload.Private,
		Transform: payload.Transform,
	}
	expiresIn, ok, err := parseDurationParam(payload.ExpiresIn)
	if err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "expires_in 格式无效")
		return
	}
	if ok {
		opts.ExpiresIn = expiresIn
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), urlTimeout)
	defer cancel()

	items := h.engine.BatchGenerateURLs(ctx, payload.Keys, opts)
	c.JSON(http.StatusOK, gin.H{"urls": items})
}

// objectKeyParam 提取通配路由里的对象键
func objectKeyParam(c *gin.Context) string {
	return strings.TrimSpace(strings.TrimPrefix(c.Param("key"), "/"))
}

// parseTransformParams 从查询参数组装图片变换参数
func parseTransformParams(c *gin.Context) storage.Transform {
	return storage.Transform{
		Width:   parseIntParam(c.Query("width")),
		Height:  parseIntParam(c.Query("height")),
		Quality: parseIntParam(c.Query("quality")),
		Format:  strings.TrimSpace(c.Query("format")),
	}
}
