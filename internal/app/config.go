package app

import (
	"time"

	"github.com/yungbote/medialab-backend/internal/platform/logger"
	"github.com/yungbote/medialab-backend/internal/utils"
)

type Config struct {
	Port    string
	GinMode string

	StorageMode         string
	BlobRoot            string
	GCSBucket           string
	StorageEmulatorHost string

	DBMode string
	DBDSN  string

	WorkerConcurrency  int
	JobTimeout         time.Duration
	DefaultSensitivity float64

	MaxUploadBytes int64
	CORSOrigins    string
	RedisAddr      string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:    utils.GetEnv("PORT", "8080", log),
		GinMode: utils.GetEnv("GIN_MODE", "", log),

		StorageMode:         utils.GetEnv("STORAGE_MODE", "local", log),
		BlobRoot:            utils.GetEnv("BLOB_ROOT", "./data/blobs", log),
		GCSBucket:           utils.GetEnv("GCS_BUCKET", "", log),
		StorageEmulatorHost: utils.GetEnv("STORAGE_EMULATOR_HOST", "", log),

		DBMode: utils.GetEnv("DB_MODE", "sqlite", log),
		DBDSN:  utils.GetEnv("DB_DSN", "", log),

		WorkerConcurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		JobTimeout:         time.Duration(utils.GetEnvAsInt("JOB_TIMEOUT_SECONDS", 120, log)) * time.Second,
		DefaultSensitivity: utils.GetEnvAsFloat("ANALYZE_DEFAULT_SENSITIVITY", 0.5, log),

		// 500MB, the cap clients were built against.
		MaxUploadBytes: int64(utils.GetEnvAsInt("MAX_UPLOAD_BYTES", 500*1024*1024, log)),
		CORSOrigins:    utils.GetEnv("CORS_ORIGINS", "*", log),
		RedisAddr:      utils.GetEnv("REDIS_ADDR", "", log),
	}
}
