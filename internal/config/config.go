package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/sirupsen/logrus"

	"mediastore/internal/storage"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"mediastore"`
	DBPath     string `env:"DBPath" envDefault:"datas/mediastore.db"`
	DBPort     string `env:"DBPort" envDefault:"3306"`

	// Active provider plus an optional backup replica target.
	StorageProvider       string `env:"STORAGE_PROVIDER" envDefault:"local"`
	StorageBackupProvider string `env:"STORAGE_BACKUP_PROVIDER" envDefault:""`

	StorageLocalDir        string `env:"STORAGE_LOCAL_DIR" envDefault:"datas/objects"`
	StorageLocalSignSecret string `env:"STORAGE_LOCAL_SIGN_SECRET" envDefault:""`
	StoragePublicBaseURL   string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/files"`

	// AWS S3 配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`
	StorageS3UseAcceleration bool   `env:"STORAGE_S3_USE_ACCELERATION" envDefault:"false"`

	// Cloudflare R2 配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`
	StorageR2PublicBaseURL   string `env:"STORAGE_R2_PUBLIC_BASE_URL"`

	// DigitalOcean Spaces 配置
	StorageSpacesRegion          string `env:"STORAGE_SPACES_REGION"`
	StorageSpacesBucket          string `env:"STORAGE_SPACES_BUCKET"`
	StorageSpacesPrefix          string `env:"STORAGE_SPACES_PREFIX"`
	StorageSpacesAccessKeyID     string `env:"STORAGE_SPACES_ACCESS_KEY_ID"`
	StorageSpacesSecretAccessKey string `env:"STORAGE_SPACES_SECRET_ACCESS_KEY"`

	// Vultr Object Storage 配置
	StorageVultrRegion          string `env:"STORAGE_VULTR_REGION"`
	StorageVultrBucket          string `env:"STORAGE_VULTR_BUCKET"`
	StorageVultrPrefix          string `env:"STORAGE_VULTR_PREFIX"`
	StorageVultrAccessKeyID     string `env:"STORAGE_VULTR_ACCESS_KEY_ID"`
	StorageVultrSecretAccessKey string `env:"STORAGE_VULTR_SECRET_ACCESS_KEY"`

	// Linode Object Storage 配置
	StorageLinodeRegion          string `env:"STORAGE_LINODE_REGION"`
	StorageLinodeBucket          string `env:"STORAGE_LINODE_BUCKET"`
	StorageLinodePrefix          string `env:"STORAGE_LINODE_PREFIX"`
	StorageLinodeAccessKeyID     string `env:"STORAGE_LINODE_ACCESS_KEY_ID"`
	StorageLinodeSecretAccessKey string `env:"STORAGE_LINODE_SECRET_ACCESS_KEY"`

	// MinIO 配置
	StorageMinIOEndpoint        string `env:"STORAGE_MINIO_ENDPOINT"`
	StorageMinIOBucket          string `env:"STORAGE_MINIO_BUCKET"`
	StorageMinIOPrefix          string `env:"STORAGE_MINIO_PREFIX"`
	StorageMinIOAccessKeyID     string `env:"STORAGE_MINIO_ACCESS_KEY_ID"`
	StorageMinIOSecretAccessKey string `env:"STORAGE_MINIO_SECRET_ACCESS_KEY"`
	StorageMinIOUseSSL          bool   `env:"STORAGE_MINIO_USE_SSL" envDefault:"true"`

	// 阿里云 OSS 配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Object key layout: flat | date | type | user | custom.
	StorageKeyLayout   string `env:"STORAGE_KEY_LAYOUT" envDefault:"date"`
	StorageKeyTemplate string `env:"STORAGE_KEY_TEMPLATE" envDefault:""`

	UploadMaxBytes          int64    `env:"UPLOAD_MAX_BYTES" envDefault:"52428800"`
	UploadAllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" envSeparator:","`

	OptimizeImages    bool   `env:"OPTIMIZE_IMAGES" envDefault:"true"`
	OptimizeQuality   int    `env:"OPTIMIZE_QUALITY" envDefault:"85"`
	OptimizeMaxWidth  int    `env:"OPTIMIZE_MAX_WIDTH" envDefault:"0"`
	OptimizeMaxHeight int    `env:"OPTIMIZE_MAX_HEIGHT" envDefault:"0"`
	OptimizeFormat    string `env:"OPTIMIZE_FORMAT" envDefault:""`
	OptimizeParallel  int64  `env:"OPTIMIZE_PARALLEL" envDefault:"0"`

	// URLPrivate signs every generated URL regardless of object visibility.
	URLPrivate        bool          `env:"STORAGE_PRIVATE" envDefault:"false"`
	URLDefaultExpiry  time.Duration `env:"URL_DEFAULT_EXPIRY" envDefault:"1h"`
	URLCacheSize      int           `env:"URL_CACHE_SIZE" envDefault:"4096"`
	URLPublicCacheTTL time.Duration `env:"URL_PUBLIC_CACHE_TTL" envDefault:"1h"`

	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"200ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"5s"`
	RetryMultiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	RetryJitter          float64       `env:"RETRY_JITTER" envDefault:"0.5"`

	OperationTimeout time.Duration `env:"STORAGE_OPERATION_TIMEOUT" envDefault:"2m"`
}

func ParseConfig() (Config, error) {
	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	logrus.Debugf("%#v\n", Conf)
	return Conf, nil
}

// ProviderConfigFor maps the env block of the named provider onto the storage
// engine's config struct. ok is false when the name has no env block here;
// the factory still validates everything else.
func (c Config) ProviderConfigFor(name string) (storage.ProviderConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case storage.ProviderLocal:
		return storage.ProviderConfig{
			Provider:      storage.ProviderLocal,
			BaseDir:       c.StorageLocalDir,
			PublicBaseURL: c.StoragePublicBaseURL,
			SignSecret:    c.StorageLocalSignSecret,
		}, true
	case storage.ProviderAWSS3:
		return storage.ProviderConfig{
			Provider:        storage.ProviderAWSS3,
			Region:          c.StorageS3Region,
			Bucket:          c.StorageS3Bucket,
			Prefix:          c.StorageS3Prefix,
			Endpoint:        c.StorageS3Endpoint,
			AccessKeyID:     c.StorageS3AccessKeyID,
			SecretAccessKey: c.StorageS3SecretAccessKey,
			SessionToken:    c.StorageS3SessionToken,
			ForcePathStyle:  c.StorageS3ForcePathStyle,
			UseAcceleration: c.StorageS3UseAcceleration,
		}, true
	case storage.ProviderR2:
		return storage.ProviderConfig{
			Provider:        storage.ProviderR2,
			AccountID:       c.StorageR2AccountID,
			Bucket:          c.StorageR2Bucket,
			Prefix:          c.StorageR2Prefix,
			AccessKeyID:     c.StorageR2AccessKeyID,
			SecretAccessKey: c.StorageR2SecretAccessKey,
			PublicBaseURL:   c.StorageR2PublicBaseURL,
		}, true
	case storage.ProviderSpaces:
		return storage.ProviderConfig{
			Provider:        storage.ProviderSpaces,
			Region:          c.StorageSpacesRegion,
			Bucket:          c.StorageSpacesBucket,
			Prefix:          c.StorageSpacesPrefix,
			AccessKeyID:     c.StorageSpacesAccessKeyID,
			SecretAccessKey: c.StorageSpacesSecretAccessKey,
		}, true
	case storage.ProviderVultr:
		return storage.ProviderConfig{
			Provider:        storage.ProviderVultr,
			Region:          c.StorageVultrRegion,
			Bucket:          c.StorageVultrBucket,
			Prefix:          c.StorageVultrPrefix,
			AccessKeyID:     c.StorageVultrAccessKeyID,
			SecretAccessKey: c.StorageVultrSecretAccessKey,
		}, true
	case storage.ProviderLinode:
		return storage.ProviderConfig{
			Provider:        storage.ProviderLinode,
			Region:          c.StorageLinodeRegion,
			Bucket:          c.StorageLinodeBucket,
			Prefix:          c.StorageLinodePrefix,
			AccessKeyID:     c.StorageLinodeAccessKeyID,
			SecretAccessKey: c.StorageLinodeSecretAccessKey,
		}, true
	case storage.ProviderMinIO:
		return storage.ProviderConfig{
			Provider:        storage.ProviderMinIO,
			Endpoint:        c.StorageMinIOEndpoint,
			Bucket:          c.StorageMinIOBucket,
			Prefix:          c.StorageMinIOPrefix,
			AccessKeyID:     c.StorageMinIOAccessKeyID,
			SecretAccessKey: c.StorageMinIOSecretAccessKey,
			UseSSL:          c.StorageMinIOUseSSL,
		}, true
	case storage.ProviderOSS:
		return storage.ProviderConfig{
			Provider:        storage.ProviderOSS,
			Endpoint:        c.StorageOSSEndpoint,
			Bucket:          c.StorageOSSBucket,
			Prefix:          c.StorageOSSPrefix,
			AccessKeyID:     c.StorageOSSAccessKeyID,
			SecretAccessKey: c.StorageOSSAccessKeySecret,
		}, true
	case storage.ProviderCOS:
		return storage.ProviderConfig{
			Provider:        storage.ProviderCOS,
			BucketURL:       c.StorageCOSBucketURL,
			Prefix:          c.StorageCOSPrefix,
			AccessKeyID:     c.StorageCOSSecretID,
			SecretAccessKey: c.StorageCOSSecretKey,
		}, true
	}
	return storage.ProviderConfig{}, false
}

// RetryPolicy returns the engine retry tuning from the env block.
func (c Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{
		MaxAttempts:     c.RetryMaxAttempts,
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
		Multiplier:      c.RetryMultiplier,
		Jitter:          c.RetryJitter,
	}
}

// OptimizeOptions returns the image optimization policy from the env block.
func (c Config) OptimizeOptions() storage.OptimizeOptions {
	return storage.OptimizeOptions{
		Quality:   c.OptimizeQuality,
		MaxWidth:  c.OptimizeMaxWidth,
		MaxHeight: c.OptimizeMaxHeight,
		Format:    c.OptimizeFormat,
	}
}

// URLServiceOptions returns the URL generation policy from the env block.
func (c Config) URLServiceOptions() storage.URLServiceOptions {
	return storage.URLServiceOptions{
		PrivateMode:    c.URLPrivate,
		DefaultExpiry:  c.URLDefaultExpiry,
		CacheSize:      c.URLCacheSize,
		PublicCacheTTL: c.URLPublicCacheTTL,
	}
}

// ServiceOptions returns the storage orchestration policy from the env block.
func (c Config) ServiceOptions() storage.ServiceOptions {
	return storage.ServiceOptions{
		MaxUploadSize:     c.UploadMaxBytes,
		AllowedExtensions: c.UploadAllowedExtensions,
		OptimizeImages:    c.OptimizeImages,
		Optimize:          c.OptimizeOptions(),
		OperationTimeout:  c.OperationTimeout,
		Retry:             c.RetryPolicy(),
	}
}
