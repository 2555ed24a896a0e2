package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediastore/internal/storage"
)

// 错误码定义
const (
	// 通用错误码
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
	ErrCodeUnauthorized       = "ERR_UNAUTHORIZED"
	ErrCodeForbidden          = "ERR_FORBIDDEN"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeMissingField       = "ERR_MISSING_FIELD"

	// 存储错误码
	ErrCodeStorageConfig      = "ERR_STORAGE_CONFIG"
	ErrCodeStorageAuth        = "ERR_STORAGE_AUTH"
	ErrCodeStorageValidation  = "ERR_STORAGE_VALIDATION"
	ErrCodeObjectNotFound     = "ERR_OBJECT_NOT_FOUND"
	ErrCodeStorageUnavailable = "ERR_STORAGE_UNAVAILABLE"
	ErrCodeStorageTimeout     = "ERR_STORAGE_TIMEOUT"
	ErrCodeUploadFailed       = "ERR_UPLOAD_FAILED"
	ErrCodeDeleteFailed       = "ERR_DELETE_FAILED"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 返回统一格式的错误响应
func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

// ErrorResponseWithDetails 返回带详情的错误响应
func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// StorageError 将存储引擎错误映射为 HTTP 响应。消息在返回前已脱敏。
func StorageError(c *gin.Context, err error) {
	status, code := storageErrorStatus(err)
	message := storage.Redact(err.Error())
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"status": status,
		}).WithError(err).Error("storage operation failed")
	}
	ErrorResponse(c, status, code, message)
}

func storageErrorStatus(err error) (int, string) {
	switch storage.KindOf(err) {
	case storage.KindValidation:
		return http.StatusBadRequest, ErrCodeStorageValidation
	case storage.KindConfiguration:
		return http.StatusBadRequest, ErrCodeStorageConfig
	case storage.KindNotFound:
		return http.StatusNotFound, ErrCodeObjectNotFound
	case storage.KindAuthentication:
		return http.StatusBadGateway, ErrCodeStorageAuth
	case storage.KindConnection:
		return http.StatusBadGateway, ErrCodeStorageUnavailable
	case storage.KindTimeout:
		return http.StatusGatewayTimeout, ErrCodeStorageTimeout
	case storage.KindUpload:
		return http.StatusInternalServerError, ErrCodeUploadFailed
	case storage.KindDelete:
		return http.StatusInternalServerError, ErrCodeDeleteFailed
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// 常用错误响应快捷函数

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401 未授权
func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden 403 禁止访问
func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

// InternalError 500 服务器内部错误
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable 503 服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// MissingField 缺少必填字段
func MissingField(c *gin.Context, field string) {
	ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeMissingField, field+" is required", gin.H{"field": field})
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}
