package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port        string
	Env         string
	APIUrl      string
	LogLevel    string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (upload rate limiting)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Storage backend: "local" | "s3"
	StorageBackend string
	LocalBasePath  string

	// S3-compatible object store
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKeyID  string
	S3SecretKey    string
	S3UsePathStyle bool
	S3KeyPrefix    string
	S3ConnectTimeout time.Duration
	S3RequestTimeout time.Duration

	// Upload pipeline
	QuarantinePath   string
	UploadMaxBytes   int64
	AllowedMimeTypes []string

	// Dedupe waiter
	DedupeInitialDelay time.Duration
	DedupeMaxDelay     time.Duration
	DedupeCeiling      time.Duration

	// Thumbnails
	ThumbVariants     map[string]int
	ThumbPixelBudget  int64
	ThumbQuality      int
	ThumbTimeBudget   time.Duration
	ThumbAlgoVersion  int

	// Signed URLs
	SignedURLEnabled bool
	SignedURLSecret  string
	SignedURLTTL     time.Duration

	// Garbage collection
	GCScanPrefix     string
	GCExemptPrefixes []string
	GCRetentionDays  int

	// Upload reaper
	ReaperCutoff time.Duration

	// Antivirus
	AVEnabled        bool
	AVDaemonNetwork  string
	AVDaemonAddr     string
	AVConnectTimeout time.Duration
	AVScanTimeout    time.Duration
	AVCLIPath        string

	// Rate limiting
	UploadsPerDay     int
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		APIUrl:   getEnv("API_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "mediavault"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "mediavault_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Storage
		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		LocalBasePath:  getEnv("LOCAL_BASE_PATH", "/data/media"),

		// S3
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("S3_BUCKET", "mediavault"),
		S3AccessKeyID:    getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:      getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3UsePathStyle:   getEnv("S3_USE_PATH_STYLE", "true") == "true",
		S3KeyPrefix:      getEnv("S3_KEY_PREFIX", ""),
		S3ConnectTimeout: getEnvAsDuration("S3_CONNECT_TIMEOUT", "5s"),
		S3RequestTimeout: getEnvAsDuration("S3_REQUEST_TIMEOUT", "60s"),

		// Upload pipeline
		QuarantinePath:   getEnv("QUARANTINE_PATH", "/data/media/uploads/_quarantine"),
		UploadMaxBytes:   getEnvAsInt64("UPLOAD_MAX_BYTES", 25*1024*1024),
		AllowedMimeTypes: getEnvAsSlice("ALLOWED_MIME_TYPES", nil),

		// Dedupe waiter
		DedupeInitialDelay: getEnvAsDuration("DEDUPE_INITIAL_DELAY", "100ms"),
		DedupeMaxDelay:     getEnvAsDuration("DEDUPE_MAX_DELAY", "2s"),
		DedupeCeiling:      getEnvAsDuration("DEDUPE_CEILING", "20s"),

		// Thumbnails
		ThumbVariants:    parseVariants(getEnv("THUMB_VARIANTS", "sm=320,md=800")),
		ThumbPixelBudget: getEnvAsInt64("THUMB_PIXEL_BUDGET", 40_000_000),
		ThumbQuality:     getEnvAsInt("THUMB_QUALITY", 82),
		ThumbTimeBudget:  getEnvAsDuration("THUMB_TIME_BUDGET", "10s"),
		ThumbAlgoVersion: getEnvAsInt("THUMB_ALGO_VERSION", 1),

		// Signed URLs
		SignedURLEnabled: getEnv("SIGNED_URL_ENABLED", "true") == "true",
		SignedURLSecret:  getEnv("SIGNED_URL_SECRET", ""),
		SignedURLTTL:     getEnvAsDuration("SIGNED_URL_TTL", "15m"),

		// Garbage collection
		GCScanPrefix:     getEnv("GC_SCAN_PREFIX", "uploads/"),
		GCExemptPrefixes: getEnvAsSlice("GC_EXEMPT_PREFIXES", []string{"uploads/_quarantine/", "uploads/_cache/"}),
		GCRetentionDays:  getEnvAsInt("GC_RETENTION_DAYS", 30),

		// Upload reaper
		ReaperCutoff: getEnvAsDuration("REAPER_CUTOFF", "24h"),

		// Antivirus
		AVEnabled:        getEnv("AV_ENABLED", "false") == "true",
		AVDaemonNetwork:  getEnv("AV_DAEMON_NETWORK", "unix"),
		AVDaemonAddr:     getEnv("AV_DAEMON_ADDR", "/var/run/clamav/clamd.sock"),
		AVConnectTimeout: getEnvAsDuration("AV_CONNECT_TIMEOUT", "5s"),
		AVScanTimeout:    getEnvAsDuration("AV_SCAN_TIMEOUT", "60s"),
		AVCLIPath:        getEnv("AV_CLI_PATH", "clamscan"),

		// Rate limiting
		UploadsPerDay:     getEnvAsInt("UPLOADS_PER_DAY", 200),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}

// parseVariants parses "sm=320,md=800" into a name -> max width map.
func parseVariants(s string) map[string]int {
	variants := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if w, err := strconv.Atoi(kv[1]); err == nil && w > 0 {
			variants[kv[0]] = w
		}
	}
	return variants
}
