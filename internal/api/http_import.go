package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediastore/internal/storage"
	"mediastore/internal/utils"
)

// importFetchTimeout 限制远程拉取的总耗时
const importFetchTimeout = 30 * time.Second

// importRequest 描述一次服务端导入:内联 base64(或 data URL)与远程 URL 二选一
type importRequest struct {
	Key          string            `json:"key"`
	FileName     string            `json:"file_name"`
	Data         string            `json:"data"`
	SourceURL    string            `json:"source_url"`
	Public       *bool             `json:"public"`
	UploaderID   string            `json:"uploader_id"`
	SkipOptimize bool              `json:"skip_optimize"`
	Metadata     map[string]string `json:"metadata"`
	Tags         map[string]string `json:"tags"`
}

// ImportObject 从内联数据或远程地址导入对象,走与 multipart 上传相同的管线
func (h *HTTPHandler) ImportObject(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	inline := strings.TrimSpace(req.Data)
	source := strings.TrimSpace(req.SourceURL)
	switch {
	case inline == "" && source == "":
		BadRequest(c, ErrCodeInvalidRequest, "data 与 source_url 必须提供一个")
		return
	case inline != "" && source != "":
		BadRequest(c, ErrCodeInvalidRequest, "data 与 source_url 只能提供一个")
		return
	}

	var (
		payload     []byte
		contentType string
	)
	if inline != "" {
		data, mimeType, err := utils.DecodeInlinePayload(inline)
		if err != nil {
			BadRequest(c, ErrCodeInvalidRequest, "无法解析内联数据")
			return
		}
		payload, contentType = data, mimeType
	} else {
		parsed, err := url.Parse(source)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			BadRequest(c, ErrCodeInvalidRequest, "source_url 必须是 http(s) 地址")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), importFetchTimeout)
		defer cancel()
		data, mimeType, err := utils.FetchRemote(ctx, source, h.cfg.UploadMaxBytes)
		if err != nil {
			if errors.Is(err, utils.ErrPayloadTooLarge) {
				BadRequest(c, ErrCodeStorageValidation,
					fmt.Sprintf("远程文件超过 %d 字节上限", h.cfg.UploadMaxBytes))
				return
			}
			logrus.WithError(err).WithField("source_url", source).Warn("import fetch failed")
			ErrorResponse(c, http.StatusBadGateway, ErrCodeServiceUnavailable, "拉取远程文件失败")
			return
		}
		payload, contentType = data, mimeType
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = importFileName(source, contentType)
	}

	upload := storage.UploadRequest{
		Data:         payload,
		FileName:     fileName,
		ContentType:  contentType,
		Key:          strings.TrimSpace(req.Key),
		UploaderID:   strings.TrimSpace(req.UploaderID),
		Public:       true,
		SkipOptimize: req.SkipOptimize,
		Metadata:     req.Metadata,
		Tags:         req.Tags,
	}
	if req.Public != nil {
		upload.Public = *req.Public
	}

	result, err := h.engine.Upload(c.Request.Context(), upload)
	if err != nil {
		StorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"object": result})
}

// importFileName 在调用方未指定文件名时合成一个:优先取远程路径的文件名,
// 否则按内容类型推断扩展名
func importFileName(source, contentType string) string {
	if source != "" {
		if parsed, err := url.Parse(source); err == nil {
			base := strings.TrimSpace(parsed.Path)
			if idx := strings.LastIndex(base, "/"); idx >= 0 {
				base = base[idx+1:]
			}
			if base != "" && strings.Contains(base, ".") {
				return base
			}
		}
	}

	ext := utils.ExtensionForMIME(contentType)
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("import-%d.%s", time.Now().UnixNano(), ext)
}
