package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mediastore/internal/api"
	"mediastore/internal/config"
	"mediastore/internal/model"
	"mediastore/internal/storage"
)

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		return
	}

	// 初始化logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	repo, err := model.InitRepository(&cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise repository")
		return
	}

	engine, err := buildStorageEngine(cfg, repo)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise storage engine")
		return
	}

	httpHandler := api.NewHTTPHandler(cfg, engine)

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// 添加中间件
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpHandler.RegisterRoutes(r)

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	logger.WithFields(logrus.Fields{
		"host":     serverHost,
		"provider": cfg.StorageProvider,
	}).Info("服务器启动")
	// 创建HTTP服务器
	httpServer := &http.Server{
		Addr:         serverHost,
		Handler:      r,
		ReadTimeout:  900 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  1200 * time.Second,
	}
	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("服务器启动失败")
	}
}

// buildStorageEngine 组装存储引擎：主存储、可选备份、URL 服务与审计记录
func buildStorageEngine(cfg config.Config, repo model.Repository) (*storage.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	primaryCfg, ok := cfg.ProviderConfigFor(cfg.StorageProvider)
	if !ok {
		return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
	primary, err := storage.NewProvider(ctx, primaryCfg)
	if err != nil {
		return nil, err
	}
	logrus.WithField("provider", primary.Name()).Info("primary storage ready")

	observer, err := storage.NewPrometheusObserver("mediastore", nil)
	if err != nil {
		return nil, err
	}

	keys := storage.NewKeyManager(cfg.StorageKeyLayout, cfg.StorageKeyTemplate)
	urls := storage.NewURLService(primary, cfg.URLServiceOptions(), observer)
	optimizer := storage.NewImageOptimizer(cfg.OptimizeParallel)

	engine := storage.NewService(primary, keys, urls, optimizer, observer, cfg.ServiceOptions())

	if cfg.StorageBackupProvider != "" {
		backupCfg, ok := cfg.ProviderConfigFor(cfg.StorageBackupProvider)
		if !ok {
			return nil, fmt.Errorf("unknown backup provider %q", cfg.StorageBackupProvider)
		}
		backup, err := storage.NewProvider(ctx, backupCfg)
		if err != nil {
			return nil, err
		}
		engine.SetBackup(backup)
		logrus.WithField("provider", backup.Name()).Info("backup storage ready")
	}

	if repo != nil {
		engine.SetRecorder(model.NewAuditRecorder(repo))
	}

	return engine, nil
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// 处理请求
		c.Next()
		// 记录请求结束
		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  duration.String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
